package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/rendersup"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, flags ServeFlags, stderr io.Writer) error {
	cfg, err := rendersup.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}

	log, logCloser, err := rendersup.NewLogger(cfg, stderr)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(log)

	if cfg.Metrics.Enabled {
		if err := rendersup.RegisterMetricsDefault(); err != nil {
			log.Warn("Failed to register metrics", "error", err)
		}
	}

	opts := cfg.SupervisorOptions()
	opts.Logger = log
	mgr := rendersup.NewManager(opts)
	mgr.SetRecentLimit(cfg.Supervisor.RecentReports)

	sinks := make([]rendersup.HistorySink, 0, len(cfg.History.DSNs))
	for _, dsn := range cfg.History.DSNs {
		s, err := rendersup.NewHistorySink(dsn)
		if err != nil {
			mgr.SetHistorySinks(sinks...)
			_ = mgr.Close()
			return fmt.Errorf("open history sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	mgr.SetHistorySinks(sinks...)

	surfaces := make([]*rendersup.BridgeSurface, 0, len(cfg.Surfaces))
	for _, sc := range cfg.Surfaces {
		s := rendersup.NewBridgeSurface(sc.ID)
		if _, err := mgr.Attach(s, rendersup.AttachOptions{HomeURL: sc.HomeURL, Recreate: sc.Recreate()}); err != nil {
			_ = mgr.Close()
			return fmt.Errorf("attach surface %s: %w", sc.ID, err)
		}
		surfaces = append(surfaces, s)
	}

	srv := rendersup.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, mgr, cfg.Metrics.Enabled)
	log.Info("Starting rendersup HTTP server",
		"listen", cfg.Server.Listen, "base_path", cfg.Server.BasePath,
		"surfaces", len(surfaces), "history_sinks", len(sinks))

	if !flags.NonBlocking {
		sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		<-sigCtx.Done()
		stop()
	}

	log.Info("Shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// pollers block in long-polls until their surface closes
	if err := mgr.CloseSurfaces(); err != nil {
		log.Warn("Closing surfaces", "error", err)
	}
	var errs []error
	if err := srv.Shutdown(shutCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := mgr.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close manager: %w", err))
	}
	return errors.Join(errs...)
}
