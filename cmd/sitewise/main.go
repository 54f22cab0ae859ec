package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/sitewise/sitewise/internal/app"
	"github.com/sitewise/sitewise/internal/config"
	"github.com/sitewise/sitewise/internal/db"
	"github.com/sitewise/sitewise/internal/projects"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		os.Exit(runAdmin(os.Args[2:]))
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	cronScheduler, err := setupInviteSweepCron(cfg, application.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup invitation sweep cron: %v\n", err)
		os.Exit(1)
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- application.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			os.Exit(1)
		}
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Shutdown failed")
			os.Exit(1)
		}
	}
}

// setupInviteSweepCron schedules the hourly sweep that flips stale pending
// invitations to expired. Expiry is enforced at accept time regardless; the
// sweep only keeps listings honest.
func setupInviteSweepCron(cfg *config.Config, database *db.DB) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))

	schedule := "0 * * * *"
	if cfg.IsDev() {
		schedule = "* * * * *"
	}

	projectService := projects.NewService(database)

	_, err := c.AddFunc(schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Invitation sweep panicked")
			}
		}()

		ctx := context.Background()
		if _, err := projectService.SweepExpired(ctx); err != nil {
			log.Error().Err(err).Msg("Invitation sweep failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule invitation sweep: %w", err)
	}

	return c, nil
}
