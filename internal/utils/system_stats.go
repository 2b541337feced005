package utils

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"facewatch/internal/core/processor"
	"facewatch/internal/server/alerts"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

// WorkerLister liefert den Status der laufenden Kamera-Worker
type WorkerLister interface {
	List() []processor.WorkerStatus
}

// AlertStatsProvider liefert die Zähler des Alarm-Hubs
type AlertStatsProvider interface {
	Stats() alerts.Stats
}

// IdentityCounter liefert die Größe des Identitäts-Caches
type IdentityCounter interface {
	Len() int
}

// HostStats beschreibt die Auslastung des Hosts
type HostStats struct {
	NumCPU        int     `json:"num_cpu"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryTotal   uint64  `json:"memory_total"`
}

// ProcessStats beschreibt den Go-Prozess
type ProcessStats struct {
	Goroutines    int    `json:"goroutines"`
	HeapAlloc     uint64 `json:"heap_alloc"`
	HeapAllocText string `json:"heap_alloc_text"`
	Sys           uint64 `json:"sys"`
	NumGC         uint32 `json:"num_gc"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// PipelineStats beschreibt Kamera-Worker, Identitäten und Alarmzustellung
type PipelineStats struct {
	Workers      int            `json:"workers"`
	WorkerStates map[string]int `json:"worker_states"`
	FramesRead   uint64         `json:"frames_read"`
	Matches      uint64         `json:"matches"`
	Identities   int            `json:"identities"`
	Alerts       alerts.Stats   `json:"alerts"`
}

// SystemStats ist die Antwort von /api/system/stats
type SystemStats struct {
	Host      HostStats     `json:"host"`
	Process   ProcessStats  `json:"process"`
	Pipeline  PipelineStats `json:"pipeline"`
	Timestamp time.Time     `json:"timestamp"`
}

// FormatBytes formatiert Bytes in lesbare Einheiten (KB, MB, GB)
func FormatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d Bytes", bytes)
	}
}

// Collector erfasst die Kennzahlen; workers, hub und identities dürfen nil sein
type Collector struct {
	workers    WorkerLister
	hub        AlertStatsProvider
	identities IdentityCounter
	started    time.Time

	// CPU-Messungen blockieren kurz und werden daher zwischengespeichert
	cpuMu     sync.Mutex
	cpuAt     time.Time
	cpuValue  float64
	cpuMaxAge time.Duration
}

// NewCollector erstellt einen Collector
func NewCollector(workers WorkerLister, hub AlertStatsProvider, identities IdentityCounter) *Collector {
	return &Collector{
		workers:    workers,
		hub:        hub,
		identities: identities,
		started:    time.Now(),
		cpuMaxAge:  500 * time.Millisecond,
	}
}

func (c *Collector) cpuPercent() float64 {
	c.cpuMu.Lock()
	defer c.cpuMu.Unlock()

	if !c.cpuAt.IsZero() && time.Since(c.cpuAt) < c.cpuMaxAge {
		return c.cpuValue
	}
	percentages, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil || len(percentages) == 0 {
		log.WithError(err).Debug("CPU usage unavailable")
		return c.cpuValue
	}
	c.cpuAt = time.Now()
	c.cpuValue = percentages[0]
	return c.cpuValue
}

func hostMemory() (percent float64, total uint64) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.WithError(err).Debug("Memory usage unavailable")
		return 0, 0
	}
	return vm.UsedPercent, vm.Total
}

// Collect liefert eine Momentaufnahme
func (c *Collector) Collect() *SystemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	memPercent, memTotal := hostMemory()

	stats := &SystemStats{
		Host: HostStats{
			NumCPU:        runtime.NumCPU(),
			CPUPercent:    c.cpuPercent(),
			MemoryPercent: memPercent,
			MemoryTotal:   memTotal,
		},
		Process: ProcessStats{
			Goroutines:    runtime.NumGoroutine(),
			HeapAlloc:     ms.HeapAlloc,
			HeapAllocText: FormatBytes(ms.HeapAlloc),
			Sys:           ms.Sys,
			NumGC:         ms.NumGC,
			UptimeSeconds: int64(time.Since(c.started).Seconds()),
		},
		Pipeline:  PipelineStats{WorkerStates: make(map[string]int)},
		Timestamp: time.Now().UTC(),
	}

	if c.workers != nil {
		list := c.workers.List()
		stats.Pipeline.Workers = len(list)
		for _, w := range list {
			stats.Pipeline.WorkerStates[w.State.String()]++
			stats.Pipeline.FramesRead += w.FramesRead
			stats.Pipeline.Matches += w.Matches
		}
	}
	if c.identities != nil {
		stats.Pipeline.Identities = c.identities.Len()
	}
	if c.hub != nil {
		stats.Pipeline.Alerts = c.hub.Stats()
	}
	return stats
}
