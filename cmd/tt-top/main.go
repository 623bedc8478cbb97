package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tsingletaryTT/tt-top/internal/config"
	"github.com/tsingletaryTT/tt-top/internal/safety"
	"github.com/tsingletaryTT/tt-top/internal/selfmetrics"
	"github.com/tsingletaryTT/tt-top/internal/telemetry"
	"github.com/tsingletaryTT/tt-top/internal/version"
)

const defaultConfigPath = "/etc/tt-top/config.yaml"

func main() {
	cfgPath := flag.String("config", defaultConfigPath, "path to config yaml")
	showVersion := flag.Bool("version", false, "print version and exit")
	safetyMode := flag.String("safety-mode", "auto", "safety mode override: auto|on|off")
	pollInterval := flag.Duration("poll-interval", 0, "pin a fixed poll interval (0 = automatic)")
	resetErrors := flag.Bool("reset-errors", false, "clear the PCIe error latch at startup")
	flag.Parse()

	if *showVersion {
		log.Printf("tt-top %s (%s/%s)", version.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	cfg := loadConfig(*cfgPath)
	scfg, err := cfg.SafetyConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With("service", cfg.Agent.ServiceName)

	reg := prometheus.NewRegistry()
	st := selfmetrics.New(cfg.SelfTelemetry.NS, reg)
	mux := http.NewServeMux()
	st.InstallHandlers(mux, reg)
	srv := &http.Server{Addr: cfg.SelfTelemetry.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("self-telemetry HTTP on %s", cfg.SelfTelemetry.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	store := telemetry.NewStore()
	coord, err := safety.NewCoordinator(scfg, store, st, logger)
	if err != nil {
		log.Fatalf("safety: %v", err)
	}

	switch *safetyMode {
	case "auto":
	case "on":
		coord.ForceSafetyMode(true)
	case "off":
		coord.ForceSafetyMode(false)
	default:
		log.Fatalf("invalid -safety-mode %q (want auto, on, or off)", *safetyMode)
	}
	if *pollInterval > 0 {
		coord.SetCustomPollInterval(*pollInterval)
	}
	if *resetErrors {
		coord.ResetErrorCount()
	}

	log.Printf("tt-top %s starting (%d device(s), lock base %s)",
		version.Version(), cfg.Devices.Count, scfg.LockBasePath)

	ctx, cancel := context.WithCancel(context.Background())

	// The transport is out of tree; without one configured the agent
	// polls a simulated reader so the full safety path stays live.
	readFn := telemetry.SimulatedReader()
	go pollLoop(ctx, coord, store, readFn, cfg.Devices.Count, logger)
	st.SetReady(true)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	<-sig
	log.Println("tt-top: shutting down")
	cancel()
	_ = srv.Shutdown(context.Background())
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg
	}
	if os.IsNotExist(err) && path == defaultConfigPath {
		log.Printf("no config at %s, using defaults", path)
		return config.Default()
	}
	log.Fatalf("config: %v", err)
	return nil
}

// pollLoop drives the coordinator: one safe-interval decision per tick,
// then a locked, retried read per device. While monitoring is disabled
// it falls back to a slow recheck cadence instead of spinning.
func pollLoop(ctx context.Context, coord *safety.Coordinator, store *telemetry.Store, readFn telemetry.ReadFunc, devices int, logger *slog.Logger) {
	for {
		interval := coord.GetSafePollInterval()
		if interval == safety.PollDisabled {
			if safe, reason := coord.IsMonitoringSafe(); !safe {
				logger.Warn("monitoring disabled, idling", "reason", reason)
			}
			interval = safety.DisabledRecheckInterval
		} else {
			for i := 0; i < devices; i++ {
				readDevice(ctx, coord, store, readFn, i)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func readDevice(ctx context.Context, coord *safety.Coordinator, store *telemetry.Store, readFn telemetry.ReadFunc, device int) {
	lock := coord.AcquireDeviceLock(device)
	defer lock.Release()
	// A timed-out lock is not fatal: proceed best-effort, the retry
	// layer absorbs any read corruption as a failed attempt.
	rec, _ := coord.ReadWithRetry(ctx, readFn, device, "chip telemetry read", -1)
	store.Update(device, rec)
}
