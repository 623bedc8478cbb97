// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// pciePatterns are the kernel log signatures that indicate the monitor
// is interfering with the accelerator's PCIe link. Matched by
// case-insensitive containment, in order.
var pciePatterns = []string{
	"dpc: containment event",
	"pcie bus error",
	"unmasked uncorrectable error",
	"sdes", // Symbol/Dword Error Status
	"aer: device recovery failed",
}

// pcieLineMatches returns every pattern a line matches. A line can match
// more than one pattern and each match counts separately; the driver
// signature (a tenstorrent line carrying an AER report) counts as well.
func pcieLineMatches(line string) int {
	lower := strings.ToLower(line)
	matches := 0
	for _, p := range pciePatterns {
		if strings.Contains(lower, p) {
			matches++
		}
	}
	if strings.Contains(lower, "tenstorrent") && strings.Contains(lower, "aer:") {
		matches++
	}
	return matches
}

// PCIeErrorDetector scans the recent kernel log for bus-interference
// signatures and accumulates an error counter that can permanently
// disable monitoring until an explicit reset.
type PCIeErrorDetector struct {
	window      time.Duration
	maxErrors   int
	execTimeout time.Duration
	log         *slog.Logger

	// readLog fetches the recent kernel log window; swapped in tests.
	readLog func(ctx context.Context) (string, error)

	mu              sync.Mutex
	errorCount      int
	lastCheck       time.Time
	disabled        bool
	warnUnavailable sync.Once
}

// NewPCIeErrorDetector builds a detector against the host dmesg.
func NewPCIeErrorDetector(cfg Config, log *slog.Logger) *PCIeErrorDetector {
	d := &PCIeErrorDetector{
		window:      cfg.ErrorDetectionWindow,
		maxErrors:   cfg.MaxErrorsBeforeDisable,
		execTimeout: cfg.DmesgTimeout,
		log:         log.With("component", "pcie_detector"),
		lastCheck:   time.Now(),
	}
	d.readLog = d.readDmesg
	return d
}

func (d *PCIeErrorDetector) readDmesg(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.execTimeout)
	defer cancel()
	since := fmt.Sprintf("%d seconds ago", int(d.window.Seconds()))
	out, err := exec.CommandContext(ctx, "dmesg", "-T", "--since", since).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// CheckForErrors scans the last ErrorDetectionWindow of the kernel log
// and counts every signature match. An unavailable log source (missing
// dmesg, permission denied, timeout) is treated as zero errors found;
// this detector must never be fatal to the host process.
//
// Note the counter is incremented once per matched line per check, with
// no deduplication across consecutive overlapping windows, so a single
// kernel event can be counted more than once before it ages out of the
// window. The disable threshold is tuned against that behavior; do not
// "fix" it here without retuning max_errors_before_disable.
func (d *PCIeErrorDetector) CheckForErrors(ctx context.Context) (bool, []string) {
	var matched []string

	out, err := d.readLog(ctx)
	if err != nil {
		d.warnUnavailable.Do(func() {
			d.log.Warn("kernel log unavailable, treating as no errors", "error", err)
		})
		d.mu.Lock()
		d.lastCheck = time.Now()
		d.mu.Unlock()
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, line := range strings.Split(out, "\n") {
		n := pcieLineMatches(line)
		if n == 0 {
			continue
		}
		trimmed := strings.TrimSpace(line)
		for i := 0; i < n; i++ {
			matched = append(matched, trimmed)
			d.errorCount++
		}
		d.log.Warn("PCIe error signature detected", "line", trimmed)
	}
	if d.errorCount >= d.maxErrors && !d.disabled {
		d.disabled = true
		d.log.Error("disabling monitoring after repeated PCIe errors", "error_count", d.errorCount)
	}
	d.lastCheck = time.Now()
	return len(matched) > 0, matched
}

// ShouldDisableMonitoring reports whether the error threshold has been
// reached. Once true it stays true until ResetErrorCount.
func (d *PCIeErrorDetector) ShouldDisableMonitoring() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disabled
}

// ErrorCount returns the accumulated signature match count.
func (d *PCIeErrorDetector) ErrorCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errorCount
}

// LastCheckTime returns when the log was last scanned.
func (d *PCIeErrorDetector) LastCheckTime() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastCheck
}

// ResetErrorCount zeroes the counter and re-enables monitoring. There is
// no automatic recovery; this is the manual escape hatch.
func (d *PCIeErrorDetector) ResetErrorCount() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errorCount = 0
	d.disabled = false
	d.log.Info("PCIe error count reset, monitoring re-enabled")
}
