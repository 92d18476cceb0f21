package perf

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/process"
	"github.com/tychoish/emt"
	"go.mongodb.org/mongo-driver/bson"
)

// Runtime is a snapshot of the driving process's resource use.
type Runtime struct {
	PID        int32
	Goroutines int
	HeapAlloc  uint64
	HeapInUse  uint64
	NumGC      uint32

	// Process stats are only set when the platform exposes them.
	RSS        uint64
	VMS        uint64
	Threads    int32
	CPUPercent float64
}

// CollectRuntime samples the Go runtime and, through gopsutil, the
// operating system's view of the process. A partial snapshot is
// returned alongside any errors from the process stats.
func CollectRuntime() (*Runtime, error) {
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	out := &Runtime{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		HeapInUse:  mem.HeapInuse,
		NumGC:      mem.NumGC,
	}

	proc, err := process.NewProcess(out.PID)
	if err != nil {
		return out, errors.Wrap(err, "finding process")
	}

	catcher := emt.NewBasicCatcher()

	if info, err := proc.MemoryInfo(); err != nil {
		catcher.Add(errors.Wrap(err, "reading memory info"))
	} else {
		out.RSS = info.RSS
		out.VMS = info.VMS
	}

	if threads, err := proc.NumThreads(); err != nil {
		catcher.Add(errors.Wrap(err, "reading thread count"))
	} else {
		out.Threads = threads
	}

	if pct, err := proc.CPUPercent(); err != nil {
		catcher.Add(errors.Wrap(err, "reading cpu percent"))
	} else {
		out.CPUPercent = pct
	}

	return out, catcher.Resolve()
}

func (r *Runtime) Document() bson.D {
	return bson.D{
		{Key: "pid", Value: r.PID},
		{Key: "goroutines", Value: r.Goroutines},
		{Key: "memory", Value: bson.D{
			{Key: "heap.alloc", Value: int64(r.HeapAlloc)},
			{Key: "heap.inuse", Value: int64(r.HeapInUse)},
			{Key: "rss", Value: int64(r.RSS)},
			{Key: "vms", Value: int64(r.VMS)},
		}},
		{Key: "gc.count", Value: int64(r.NumGC)},
		{Key: "threads", Value: r.Threads},
		{Key: "cpu_percent", Value: r.CPUPercent},
	}
}
