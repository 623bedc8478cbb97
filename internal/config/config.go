package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tsingletaryTT/tt-top/internal/safety"
)

type Config struct {
	Agent         struct{ ServiceName string `yaml:"service_name"` } `yaml:"agent"`
	SelfTelemetry struct {
		Listen string `yaml:"listen"`
		NS     string `yaml:"prometheus_namespace"`
	} `yaml:"selfTelemetry"`
	Devices struct {
		Count int `yaml:"count"`
	} `yaml:"devices"`
	Safety SafetySection `yaml:"safety"`
	Retry  RetrySection  `yaml:"retry"`
}

type SafetySection struct {
	NormalPollInterval     string  `yaml:"normal_poll_interval"`
	WorkloadPollInterval   string  `yaml:"workload_poll_interval"`
	CriticalPollInterval   string  `yaml:"critical_poll_interval"`
	MaxLockWaitTime        string  `yaml:"max_lock_wait_time"`
	ErrorDetectionWindow   string  `yaml:"error_detection_window"`
	MaxErrorsBeforeDisable int     `yaml:"max_errors_before_disable"`
	WorkloadCheckInterval  string  `yaml:"workload_check_interval"`
	MinWorkloadMemoryGB    float64 `yaml:"min_workload_memory_gb"`
	LockBasePath           string  `yaml:"lock_base_path"`
	DmesgTimeout           string  `yaml:"dmesg_timeout"`
}

type RetrySection struct {
	MaxRetries  int    `yaml:"max_retries"`
	BackoffBase string `yaml:"backoff_base"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

// Default returns the configuration a config-less run uses: stock
// safety tunables, one device, self telemetry on :19190.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Agent.ServiceName == "" {
		c.Agent.ServiceName = "tt-top"
	}
	if c.SelfTelemetry.Listen == "" {
		c.SelfTelemetry.Listen = ":19190"
	}
	if c.SelfTelemetry.NS == "" {
		c.SelfTelemetry.NS = "tt_top"
	}
	if c.Devices.Count <= 0 {
		c.Devices.Count = 1
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
}

// SafetyConfig resolves the YAML sections into the validated runtime
// safety configuration. Unset fields take the stock defaults; an
// unparsable or non-positive value is the one fatal error class.
func (c *Config) SafetyConfig() (safety.Config, error) {
	sc := safety.DefaultConfig()
	s := c.Safety

	for _, f := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{s.NormalPollInterval, "normal_poll_interval", &sc.NormalPollInterval},
		{s.WorkloadPollInterval, "workload_poll_interval", &sc.WorkloadPollInterval},
		{s.CriticalPollInterval, "critical_poll_interval", &sc.CriticalPollInterval},
		{s.MaxLockWaitTime, "max_lock_wait_time", &sc.MaxLockWaitTime},
		{s.ErrorDetectionWindow, "error_detection_window", &sc.ErrorDetectionWindow},
		{s.WorkloadCheckInterval, "workload_check_interval", &sc.WorkloadCheckInterval},
		{s.DmesgTimeout, "dmesg_timeout", &sc.DmesgTimeout},
		{c.Retry.BackoffBase, "retry.backoff_base", &sc.RetryBackoffBase},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return safety.Config{}, fmt.Errorf("config: %s: %w", f.name, err)
		}
		*f.dst = d
	}
	if s.MaxErrorsBeforeDisable != 0 {
		sc.MaxErrorsBeforeDisable = s.MaxErrorsBeforeDisable
	}
	if s.MinWorkloadMemoryGB != 0 {
		sc.MinWorkloadMemoryGB = s.MinWorkloadMemoryGB
	}
	if s.LockBasePath != "" {
		sc.LockBasePath = s.LockBasePath
	}
	if c.Retry.MaxRetries != 0 {
		sc.MaxRetries = c.Retry.MaxRetries
	}

	if err := sc.Validate(); err != nil {
		return safety.Config{}, err
	}
	return sc, nil
}
