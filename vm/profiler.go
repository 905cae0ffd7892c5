package vm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Profiler counts interpreted method invocations so that a compiler tier
// can pick hot methods. Frames entered through the trampoline and through
// the entry adapter are both counted; native calls are not.

// MethodProfile holds profiling data for a single method.
type MethodProfile struct {
	InvocationCount atomic.Uint64
	hot             atomic.Bool
}

// IsHot reports whether the method has crossed the hot threshold.
func (p *MethodProfile) IsHot() bool {
	return p.hot.Load()
}

// Profiler manages profiling for all methods run by one VM.
type Profiler struct {
	methodProfiles sync.Map // MethodInfo -> *MethodProfile

	// MethodHotThreshold is the invocation count at which a method is hot.
	MethodHotThreshold uint64

	// OnHot is called once per method, on the invocation that made it hot.
	OnHot func(m MethodInfo, profile *MethodProfile)
}

// NewProfiler creates a new profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{
		MethodHotThreshold: 100,
	}
}

// RecordMethodInvocation increments the invocation count for a method.
// Returns true if this invocation caused the method to become hot.
func (p *Profiler) RecordMethodInvocation(m MethodInfo) bool {
	if m == nil {
		return false
	}

	val, _ := p.methodProfiles.LoadOrStore(m, &MethodProfile{})
	profile := val.(*MethodProfile)

	count := profile.InvocationCount.Add(1)
	if count >= p.MethodHotThreshold && profile.hot.CompareAndSwap(false, true) {
		if p.OnHot != nil {
			p.OnHot(m, profile)
		}
		return true
	}
	return false
}

// MethodProfile returns the profile for a method, or nil if not tracked.
func (p *Profiler) MethodProfile(m MethodInfo) *MethodProfile {
	if val, ok := p.methodProfiles.Load(m); ok {
		return val.(*MethodProfile)
	}
	return nil
}

// InvocationCount returns how often m has been entered.
func (p *Profiler) InvocationCount(m MethodInfo) uint64 {
	if profile := p.MethodProfile(m); profile != nil {
		return profile.InvocationCount.Load()
	}
	return 0
}

// IsMethodHot returns true if the method has exceeded the hot threshold.
func (p *Profiler) IsMethodHot(m MethodInfo) bool {
	profile := p.MethodProfile(m)
	return profile != nil && profile.IsHot()
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	TotalMethods     int    // Number of methods profiled
	HotMethods       int    // Number of hot methods
	TotalInvocations uint64 // Total method invocations
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.methodProfiles.Range(func(_, value any) bool {
		profile := value.(*MethodProfile)
		stats.TotalMethods++
		stats.TotalInvocations += profile.InvocationCount.Load()
		if profile.IsHot() {
			stats.HotMethods++
		}
		return true
	})
	return stats
}

// HotMethods returns all methods that have exceeded the hot threshold.
func (p *Profiler) HotMethods() []MethodInfo {
	var hot []MethodInfo
	p.methodProfiles.Range(func(key, value any) bool {
		if value.(*MethodProfile).IsHot() {
			hot = append(hot, key.(MethodInfo))
		}
		return true
	})
	return hot
}

// MethodCount pairs a method with its invocation count.
type MethodCount struct {
	Method MethodInfo
	Count  uint64
}

// TopMethods returns the n most frequently invoked methods, most frequent
// first.
func (p *Profiler) TopMethods(n int) []MethodCount {
	var all []MethodCount
	p.methodProfiles.Range(func(key, value any) bool {
		all = append(all, MethodCount{key.(MethodInfo), value.(*MethodProfile).InvocationCount.Load()})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return qualifiedName(all[i].Method) < qualifiedName(all[j].Method)
	})
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.methodProfiles.Range(func(key, _ any) bool {
		p.methodProfiles.Delete(key)
		return true
	})
}
