package appbootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shiftrelay/config"
	"shiftrelay/core/utils"
)

const shutdownGrace = 15 * time.Second

// Run wires the application from config and blocks until SIGINT or
// SIGTERM, then shuts the server and scheduler down gracefully.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	var logger *utils.Logger
	if cfg.AppEnv == "dev" {
		logger = utils.NewDevLogger()
	} else {
		logger = utils.NewLogger()
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := Compose(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.DB.Close()

	if err := rt.Scheduler.StartWithContext(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := rt.Scheduler.StopWithContext(shutdownCtx); err != nil {
		logger.Errorf("scheduler stop: %v", err)
	}
	return rt.Server.Shutdown(shutdownCtx)
}
