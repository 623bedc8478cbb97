// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

package selfmetrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAndStartsEnabled(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("", reg)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MonitoringEnabled))

	m.PCIeErrors.Add(2)
	m.PollInterval.Set(0.1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PCIeErrors))
	assert.Equal(t, 0.1, testutil.ToFloat64(m.PollInterval))
}

func TestNew_IsolatedRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	a := New("tt_top", prometheus.NewRegistry())
	b := New("tt_top", prometheus.NewRegistry())

	a.LockTimeouts.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.LockTimeouts))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.LockTimeouts))
}

func TestInstallHandlers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("tt_top", reg)
	mux := http.NewServeMux()
	m.InstallHandlers(mux, reg)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	m.SetReady(true)
	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
