// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_EmptyAggregates(t *testing.T) {
	s := NewStore()

	assert.Equal(t, 0, s.DeviceCount())
	assert.Equal(t, 0.0, s.AveragePower())
	assert.Equal(t, 0.0, s.AverageCurrent())

	_, ok := s.Record(0)
	assert.False(t, ok)
	assert.Equal(t, time.Duration(0), s.Age(0, time.Now()))
}

func TestStore_UpdateAndRead(t *testing.T) {
	s := NewStore()
	rec := Record{Power: 45.0, Current: 30.0, ASICTemperature: 52.5, Timestamp: time.Now()}
	s.Update(0, rec)

	got, ok := s.Record(0)
	require.True(t, ok)
	assert.Equal(t, rec, got)
	assert.Equal(t, 1, s.DeviceCount())
}

func TestStore_UpdateReplacesWholesale(t *testing.T) {
	s := NewStore()
	s.Update(0, Record{Power: 45.0, Heartbeat: 10})
	s.Update(0, Record{Power: 80.0})

	got, ok := s.Record(0)
	require.True(t, ok)
	assert.Equal(t, 80.0, got.Power)
	assert.Equal(t, uint64(0), got.Heartbeat, "stale fields must not leak into the new record")
	assert.Equal(t, 1, s.DeviceCount())
}

func TestStore_AveragesAcrossDevices(t *testing.T) {
	s := NewStore()
	s.Update(0, Record{Power: 40.0, Current: 20.0})
	s.Update(1, Record{Power: 80.0, Current: 60.0})
	s.Update(2, Record{Power: 60.0, Current: 40.0})

	assert.Equal(t, 3, s.DeviceCount())
	assert.InDelta(t, 60.0, s.AveragePower(), 1e-9)
	assert.InDelta(t, 40.0, s.AverageCurrent(), 1e-9)
}

func TestStore_Age(t *testing.T) {
	s := NewStore()
	ts := time.Now()
	s.Update(3, Record{Timestamp: ts})

	assert.Equal(t, 2*time.Second, s.Age(3, ts.Add(2*time.Second)))
}

func TestFallbackRecord(t *testing.T) {
	before := time.Now()
	rec := FallbackRecord()

	assert.Zero(t, rec.Power)
	assert.Zero(t, rec.Current)
	assert.Zero(t, rec.Heartbeat)
	assert.False(t, rec.Timestamp.Before(before))
}
