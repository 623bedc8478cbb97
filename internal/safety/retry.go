// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/tsingletaryTT/tt-top/internal/telemetry"
)

// Retrier wraps a single telemetry read with bounded retry and
// exponential backoff. It never surfaces an error: on total failure the
// caller receives a zeroed fallback record and a flag saying so.
type Retrier struct {
	base  time.Duration
	log   *slog.Logger
	rng   *rand.Rand
	sleep func(context.Context, time.Duration)
}

// NewRetrier creates a retrier with the given backoff base. A zero base
// falls back to 100ms.
func NewRetrier(base time.Duration, log *slog.Logger) *Retrier {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return &Retrier{
		base:  base,
		log:   log.With("component", "retrier"),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// ReadWithRetry calls readFn and retries up to maxRetries additional
// times on failure. Delay before retry k is base*2^(k-1) plus a random
// jitter in [0, base) so independent monitor processes on the same host
// do not retry in lockstep. The worst-case total delay is therefore
// bounded by base*(2^maxRetries - 1) + maxRetries*base.
//
// The second return value reports whether the fallback record was used.
func (r *Retrier) ReadWithRetry(ctx context.Context, readFn telemetry.ReadFunc, deviceIndex int, operation string, maxRetries int) (telemetry.Record, bool) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.base<<(attempt-1) + time.Duration(r.rng.Int63n(int64(r.base)))
			r.sleep(ctx, backoff)
		}
		if ctx.Err() != nil {
			break
		}
		rec, err := readFn(deviceIndex)
		if err == nil {
			if attempt > 0 {
				r.log.Debug("read succeeded after retry",
					"operation", operation,
					"device", deviceIndex,
					"attempts", attempt+1,
				)
			}
			return rec, false
		}
		lastErr = err
		r.log.Debug("read attempt failed",
			"operation", operation,
			"device", deviceIndex,
			"attempt", attempt+1,
			"error", err,
		)
	}
	r.log.Warn("all read attempts failed, serving fallback data",
		"operation", operation,
		"device", deviceIndex,
		"attempts", maxRetries+1,
		"error", lastErr,
	)
	return telemetry.FallbackRecord(), true
}
