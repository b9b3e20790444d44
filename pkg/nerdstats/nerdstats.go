package nerdstats

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/thushan/perch/internal/util"
)

/*
	NerdStats provides a snapshot of Go runtime and OS process statistics
	for the status endpoint: memory usage, GC, goroutines, process RSS
	and CPU from the OS point of view.
*/

type NerdStats struct {
	// Memory stats
	HeapAlloc    uint64 // Allocated heap memory in bytes
	HeapSys      uint64 // Heap memory obtained from OS
	HeapInuse    uint64 // Heap memory in use
	HeapReleased uint64 // Heap memory released to OS
	TotalAlloc   uint64 // Total bytes allocated (cumulative)

	// Allocation stats
	Mallocs    uint64
	Frees      uint64
	NetObjects int64

	// Garbage collection stats
	NumGC         uint32
	LastGC        time.Time
	GCCPUFraction float64

	// Goroutine stats
	NumGoroutines int

	// Runtime stats
	NumCPU     int
	GOMAXPROCS int
	GoVersion  string
	Uptime     time.Duration

	// OS process stats (zero when unavailable)
	ProcessRSS        uint64
	ProcessCPUPercent float64
}

func Snapshot(startTime time.Time) *NerdStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := &NerdStats{
		HeapAlloc:    m.HeapAlloc,
		HeapSys:      m.HeapSys,
		HeapInuse:    m.HeapInuse,
		HeapReleased: m.HeapReleased,
		TotalAlloc:   m.TotalAlloc,

		Mallocs:    m.Mallocs,
		Frees:      m.Frees,
		NetObjects: util.SafeInt64Diff(m.Mallocs, m.Frees),

		NumGC:         m.NumGC,
		GCCPUFraction: m.GCCPUFraction,

		NumGoroutines: runtime.NumGoroutine(),

		NumCPU:     runtime.NumCPU(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		GoVersion:  runtime.Version(),
		Uptime:     time.Since(startTime),
	}

	if m.LastGC > 0 {
		stats.LastGC = time.Unix(0, int64(m.LastGC))
	}

	// Best-effort process stats; the status endpoint renders zeroes if
	// the platform doesn't support them
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			stats.ProcessRSS = mem.RSS
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			stats.ProcessCPUPercent = cpu
		}
	}

	return stats
}
