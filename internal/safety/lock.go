// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// lockRetryDelay is the pause between non-blocking flock attempts while
// waiting for another monitor process to release a device.
const lockRetryDelay = 10 * time.Millisecond

// LockHandle is the ownership token for one device's hardware access
// lock. It is valid even when acquisition timed out: Acquired() reports
// false and Release is a safe no-op on the lock itself. The caller
// decides whether to proceed unsynchronized or skip the read.
type LockHandle struct {
	deviceID int
	path     string
	log      *slog.Logger

	mu       sync.Mutex
	file     *os.File
	acquired bool
}

// IsLocked reports whether this handle holds the exclusive lock.
func (h *LockHandle) IsLocked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acquired
}

// Release unlocks and closes the lock file. It is idempotent and must
// run on every exit path of the protected scope, so call it via defer.
func (h *LockHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return
	}
	if h.acquired {
		if err := unix.Flock(int(h.file.Fd()), unix.LOCK_UN); err != nil {
			h.log.Error("failed to release device lock", "device", h.deviceID, "error", err)
		}
		h.acquired = false
	}
	if err := h.file.Close(); err != nil {
		h.log.Error("failed to close lock file", "device", h.deviceID, "error", err)
	}
	h.file = nil
}

// AcquireDeviceLock opens (creating if absent) the lock file for a
// device and tries to take an exclusive advisory flock without
// blocking, retrying every 10ms until maxWait elapses. Timing out is
// not an error: the returned handle simply reports IsLocked() == false.
// The lock is meaningful across OS processes on this host only.
func AcquireDeviceLock(deviceID int, basePath string, maxWait time.Duration, log *slog.Logger) *LockHandle {
	h := &LockHandle{
		deviceID: deviceID,
		path:     fmt.Sprintf("%s_%d", basePath, deviceID),
		log:      log.With("component", "devlock"),
	}

	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		h.log.Error("failed to open lock file", "device", deviceID, "path", h.path, "error", err)
		return h
	}
	h.file = f

	deadline := time.Now().Add(maxWait)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			h.acquired = true
			h.log.Debug("acquired device lock", "device", deviceID)
			return h
		}
		if err != unix.EWOULDBLOCK {
			h.log.Error("flock failed", "device", deviceID, "error", err)
			return h
		}
		if time.Now().After(deadline) {
			h.log.Warn("device lock wait timed out, proceeding unsynchronized",
				"device", deviceID,
				"max_wait", maxWait,
			)
			return h
		}
		time.Sleep(lockRetryDelay)
	}
}
