// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"sync"
	"time"
)

// Store holds the last known Record per device and serves host-wide
// aggregates. The polling loop writes into it after each read; the
// workload correlator reads averages from it. Records are replaced
// wholesale, never mutated.
type Store struct {
	mu      sync.RWMutex
	records map[int]Record
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{records: make(map[int]Record)}
}

// Update replaces the record for one device.
func (s *Store) Update(deviceIndex int, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[deviceIndex] = rec
}

// Record returns the last known record for a device.
func (s *Store) Record(deviceIndex int) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[deviceIndex]
	return rec, ok
}

// AveragePower implements Provider.
func (s *Store) AveragePower() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return 0
	}
	var total float64
	for _, rec := range s.records {
		total += rec.Power
	}
	return total / float64(len(s.records))
}

// AverageCurrent implements Provider.
func (s *Store) AverageCurrent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return 0
	}
	var total float64
	for _, rec := range s.records {
		total += rec.Current
	}
	return total / float64(len(s.records))
}

// DeviceCount implements Provider.
func (s *Store) DeviceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Age returns how old the record for a device is, or zero if none exists.
func (s *Store) Age(deviceIndex int, now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[deviceIndex]
	if !ok {
		return 0
	}
	return now.Sub(rec.Timestamp)
}
