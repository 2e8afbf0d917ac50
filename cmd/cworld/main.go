package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/satorizak/cworld/internal/config"
	"github.com/satorizak/cworld/internal/eventlog"
	"github.com/satorizak/cworld/internal/gateway"
	"github.com/satorizak/cworld/internal/health"
	"github.com/satorizak/cworld/internal/logging"
	"github.com/satorizak/cworld/internal/metrics"
	"github.com/satorizak/cworld/internal/security"
	"github.com/satorizak/cworld/internal/webui"
	"github.com/satorizak/cworld/internal/world"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cworld",
		Short: "Real-time presence server for a shared virtual space",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cworld %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Listen: %s\n", cfg.Server.ListenAddress)
			fmt.Printf("  Health: %s\n", cfg.Health.ListenAddress)
			fmt.Printf("  Chat history: %d\n", cfg.World.ChatHistorySize)
			fmt.Printf("  Asset slots: %s\n", strings.Join(cfg.Assets.Slots, ", "))
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8081/health", "Health endpoint URL")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	lj := logging.Setup(cfg.Logging)
	if lj != nil {
		defer lj.Close()
	}

	slog.Info("starting cworld",
		"version", Version,
		"listen", cfg.Server.ListenAddress,
		"health", cfg.Health.ListenAddress,
		"slots", strings.Join(cfg.Assets.Slots, ","),
	)

	// Shared stores: created here, torn down with the process.
	registry := world.NewRegistry()
	history := world.NewHistory(cfg.World.ChatHistorySize)
	assets := world.NewAssetStore(cfg.Assets.Slots, cfg.Assets.MaxUploadBytes)
	hub := gateway.NewHub(cfg.Server.WriteTimeout)
	tracker := gateway.NewTracker()

	gw := gateway.New(cfg.World, registry, history, assets, hub)

	var events *eventlog.Ring
	if cfg.Admin.Enabled {
		events = eventlog.NewRing(cfg.Admin.EventLogSize)
		gw.SetEventLog(events)
	}

	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New()
		gw.SetMetrics(m)
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}

	var rl *security.ConnRateLimiter
	if cfg.Security.RateLimit.Enabled {
		rl = security.NewConnRateLimiter(cfg.Security.RateLimit.ConnectionsPerMinute)
		defer rl.Stop()
		slog.Info("rate limiting enabled",
			"connections_per_minute", cfg.Security.RateLimit.ConnectionsPerMinute,
		)
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	handler := gateway.NewHandler(cfg, gw, tracker, rl, shutdownCtx)
	handler.Metrics = m

	// Reaper: evicts idle participants through the same leave path a
	// disconnect takes.
	reaper := world.NewReaper(registry, cfg.World.ReaperInterval, cfg.World.IdleTimeout, gw.EvictStale)
	go reaper.Run(shutdownCtx)

	roomServer := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: handler,
	}

	var opsServer *http.Server
	if cfg.Health.Enabled {
		opsMux := http.NewServeMux()
		opsMux.Handle(cfg.Health.Endpoint, health.NewHandler(tracker, registry, history, Version, cfg.Health.Detailed))

		if cfg.Monitoring.MetricsEnabled {
			opsMux.Handle(cfg.Monitoring.MetricsEndpoint, promhttp.Handler())
		}

		if cfg.Admin.Enabled {
			ui := webui.New(webui.Dependencies{
				Tracker:   tracker,
				Registry:  registry,
				History:   history,
				Assets:    assets,
				Events:    events,
				Version:   Version,
				BuildTime: BuildTime,
				GitCommit: GitCommit,
				StartTime: time.Now(),
				GetConfig: handler.GetConfig,
			})
			opsMux.Handle("/api/v1/", ui.APIHandler())
		}

		opsServer = &http.Server{
			Addr:    cfg.Health.ListenAddress,
			Handler: opsMux,
		}
	}

	if opsServer != nil {
		go func() {
			slog.Info("health endpoint listening", "address", cfg.Health.ListenAddress)
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("health server error", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("room listening", "address", cfg.Server.ListenAddress)
		if err := roomServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("room server error", "error", err)
		}
	}()

	// Notify systemd that we're ready.
	daemon.SdNotify(false, daemon.SdNotifyReady)

	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				if err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				} else if sent {
					slog.Debug("watchdog keepalive sent")
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			newCfg, err := config.Load(configPath)
			if err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}

			for _, w := range config.IsReloadSafe(cfg, newCfg) {
				slog.Warn("config reload warning", "warning", w)
			}

			cfg = cfg.ApplyReloadableFields(newCfg)
			handler.UpdateConfig(cfg)

			if cfg.Security.RateLimit.Enabled && rl != nil {
				rl.UpdateRate(cfg.Security.RateLimit.ConnectionsPerMinute)
			}

			logging.Setup(cfg.Logging)
			slog.Info("config reloaded successfully")

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal, draining connections",
				"signal", sig.String(),
				"drain_timeout", cfg.Server.DrainTimeout.String(),
			)

			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			// Close frames first, then shut the listeners down.
			handler.StartDrain()
			shutdownCancel()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
			defer cancel()

			var wg sync.WaitGroup
			if opsServer != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					opsServer.Shutdown(ctx)
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				roomServer.Shutdown(ctx)
			}()
			wg.Wait()

			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

func checkHealth(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}
