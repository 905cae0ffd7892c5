//go:build release

package vm

const debugAssertions = false
