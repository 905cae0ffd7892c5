//go:build !release

package vm

// debugAssertions enables frame and cache consistency checks in the
// dispatch loop. Build with -tags release to compile them out.
const debugAssertions = true
