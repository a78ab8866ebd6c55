// Package stats tracks ambient kernel counters: page allocations, TLB
// invalidations, syscalls dispatched, and IPC sends completed. Grounded on
// the teacher's biscuit/src/stats/stats.go (Counter_t, Stats2String via
// reflection). The teacher gates every increment behind a compile-time
// Stats bool because it runs on real hardware where atomic increments on
// every page fault are measurable overhead; this simulator has no such
// constraint, so counters are unconditionally live and Rdtsc's cycle
// counting — which read a real CPU timestamp counter via a modified Go
// runtime (runtime.Rdtsc) that does not exist in a hosted binary — is
// replaced with time.Since-based duration accumulation.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Counter_t is a monotonically increasing statistic.
type Counter_t int64

// Inc increments the counter by one.
func (c *Counter_t) Inc() {
	atomic.AddInt64((*int64)(c), 1)
}

// Get reads the current value.
func (c *Counter_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// Duration_t accumulates elapsed wall-clock time.
type Duration_t int64

// Add accumulates the time elapsed since start.
func (d *Duration_t) Add(start time.Time) {
	atomic.AddInt64((*int64)(d), int64(time.Since(start)))
}

// Get returns the accumulated duration.
func (d *Duration_t) Get() time.Duration {
	return time.Duration(atomic.LoadInt64((*int64)(d)))
}

// Kernel holds the kernel-wide counters exposed by the monitor's kerninfo
// command.
type Kernel struct {
	PageAllocs   Counter_t
	PageFrees    Counter_t
	TLBInvls     Counter_t
	Syscalls     Counter_t
	IPCSends     Counter_t
	IPCBlocks    Counter_t
	EnvsCreated  Counter_t
	EnvsDestroyd Counter_t
	Dispatch     Duration_t
}

// String renders every Counter_t and Duration_t field via reflection, in
// the same shape as the teacher's Stats2String.
func (k *Kernel) String() string {
	v := reflect.ValueOf(k).Elem()
	var s strings.Builder
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		t := f.Type().String()
		name := v.Type().Field(i).Name
		switch {
		case strings.HasSuffix(t, "Counter_t"):
			n := f.Addr().Interface().(*Counter_t).Get()
			s.WriteString("\n\t#" + name + ": " + strconv.FormatInt(n, 10))
		case strings.HasSuffix(t, "Duration_t"):
			d := f.Addr().Interface().(*Duration_t).Get()
			s.WriteString("\n\t#" + name + ": " + d.String())
		}
	}
	s.WriteString("\n")
	return s.String()
}
