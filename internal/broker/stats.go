package broker

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type Stats struct {
	Peers      int     `json:"peers"`
	Channels   int     `json:"channels"`
	Uptime     string  `json:"uptime"`
	Goroutines int     `json:"goroutines"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
}

// CollectStats reports hub counters plus the broker process's resource use.
// Process figures are left zero when the platform can't provide them.
func CollectStats(h *Hub) Stats {
	st := Stats{
		Peers:      len(h.Peers()),
		Channels:   h.LinkCount(),
		Uptime:     h.Uptime().Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return st
	}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	return st
}
