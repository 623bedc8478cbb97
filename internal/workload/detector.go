// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sync/singleflight"

	"github.com/tsingletaryTT/tt-top/internal/telemetry"
)

// cmdlineSnippetLen caps the stored command line per record.
const cmdlineSnippetLen = 100

// Config holds the detector tunables.
type Config struct {
	// CheckInterval throttles process-table scans; between scans the
	// previous State snapshot is served.
	CheckInterval time.Duration

	// MinMemoryGB is the resident-memory threshold for counting a
	// process as a potential workload without an ML match.
	MinMemoryGB float64

	// Lister overrides the process-table source. Nil means the host
	// /proc table via procfs.
	Lister ProcessLister

	// Observer, when set, receives the wall time of each completed scan.
	Observer func(time.Duration)
}

// ProcSample is the per-process slice of the host process table the
// detector works from. Collection is best-effort: a process that
// vanishes or denies access mid-scan is simply absent.
type ProcSample struct {
	PID      int
	Cmdline  string
	MemoryGB float64
	Threads  int
}

// ProcessLister fetches the current process table.
type ProcessLister func() ([]ProcSample, error)

// Detector scans the host process table for ML workloads. Scans run at
// most once per CheckInterval and never concurrently; callers between
// scans get the previous snapshot.
type Detector struct {
	cfg       Config
	provider  telemetry.Provider
	log       *slog.Logger
	listProcs ProcessLister

	sf singleflight.Group

	mu       sync.RWMutex
	last     *State
	lastScan time.Time
}

// NewDetector builds a detector over the host /proc table. provider may
// be nil when no telemetry source exists yet; correlation then uses
// resource footprint only.
func NewDetector(cfg Config, provider telemetry.Provider, log *slog.Logger) *Detector {
	lister := cfg.Lister
	if lister == nil {
		lister = listProcsFromProcfs
	}
	return &Detector{
		cfg:       cfg,
		provider:  provider,
		log:       log.With("component", "workload_detector"),
		listProcs: lister,
	}
}

// DetectActiveWorkloads returns the current workload snapshot, scanning
// the process table only if CheckInterval has elapsed since the last
// scan. Concurrent callers during a scan share its result rather than
// starting a second scan.
func (d *Detector) DetectActiveWorkloads() *State {
	d.mu.RLock()
	last, lastScan := d.last, d.lastScan
	d.mu.RUnlock()
	if last != nil && time.Since(lastScan) < d.cfg.CheckInterval {
		return last
	}

	v, _, _ := d.sf.Do("scan", func() (any, error) {
		state := d.scan()
		d.mu.Lock()
		d.last = state
		d.lastScan = time.Now()
		d.mu.Unlock()
		return state, nil
	})
	return v.(*State)
}

// Last returns the most recent snapshot without triggering a scan, or
// an empty inactive state if no scan has run yet.
func (d *Detector) Last() *State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return &State{Timestamp: time.Now()}
	}
	return d.last
}

func (d *Detector) scan() *State {
	started := time.Now()
	state := &State{Timestamp: started}

	samples, err := d.listProcs()
	if err != nil {
		// Process table unavailable: degrade to "nothing running"
		// rather than failing the poll decision.
		d.log.Warn("process scan failed", "error", err)
		return state
	}

	for _, s := range samples {
		if s.Cmdline == "" {
			continue
		}
		if s.MemoryGB > d.cfg.MinMemoryGB {
			state.HighMemoryCount++
		}
		c := Classify(s.Cmdline)
		if !c.Retained() {
			continue
		}
		snippet := s.Cmdline
		if len(snippet) > cmdlineSnippetLen {
			snippet = snippet[:cmdlineSnippetLen]
		}
		state.Active = append(state.Active, Record{
			PID:         s.PID,
			Cmdline:     snippet,
			Framework:   c.Framework,
			Model:       c.Model,
			Kind:        c.Kind,
			Confidence:  c.Confidence,
			Correlation: correlate(s.MemoryGB, s.Threads, d.provider),
			MemoryGB:    s.MemoryGB,
			Threads:     s.Threads,
		})
		state.TotalMemoryGB += s.MemoryGB
	}
	state.ProcessCount = len(state.Active)

	sort.SliceStable(state.Active, func(i, j int) bool {
		a, b := state.Active[i], state.Active[j]
		if a.Correlation != b.Correlation {
			return a.Correlation > b.Correlation
		}
		return a.Confidence > b.Confidence
	})

	state.IsActive = state.ProcessCount > 0 ||
		state.TotalMemoryGB > d.cfg.MinMemoryGB ||
		state.HighMemoryCount > 0

	d.log.Debug("workload scan complete",
		"ml_processes", state.ProcessCount,
		"total_memory_gb", state.TotalMemoryGB,
		"high_memory_processes", state.HighMemoryCount,
		"active", state.IsActive,
		"duration", time.Since(started),
	)
	if d.cfg.Observer != nil {
		d.cfg.Observer(time.Since(started))
	}
	return state
}

// listProcsFromProcfs enumerates /proc. Individual processes that
// disappear or deny access between the directory listing and the stat
// reads are skipped without aborting the scan.
func listProcsFromProcfs() ([]ProcSample, error) {
	procs, err := procfs.AllProcs()
	if err != nil {
		return nil, err
	}
	samples := make([]ProcSample, 0, len(procs))
	for _, p := range procs {
		args, err := p.CmdLine()
		if err != nil || len(args) == 0 {
			continue
		}
		s := ProcSample{PID: p.PID, Cmdline: strings.Join(args, " "), Threads: 1}
		if stat, err := p.Stat(); err == nil {
			s.MemoryGB = float64(stat.ResidentMemory()) / (1 << 30)
			s.Threads = stat.NumThreads
		}
		samples = append(samples, s)
	}
	return samples, nil
}
