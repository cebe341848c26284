package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-issue-sentinel/authority"
	"github.com/jrsteele09/go-issue-sentinel/credentials"
	"github.com/jrsteele09/go-issue-sentinel/credentials/repoinmemory"
	"github.com/jrsteele09/go-issue-sentinel/credentials/repopostgres"
	"github.com/jrsteele09/go-issue-sentinel/flowstate"
	"github.com/jrsteele09/go-issue-sentinel/internal/config"
	"github.com/jrsteele09/go-issue-sentinel/schedule"
	"github.com/jrsteele09/go-issue-sentinel/server"
	"github.com/jrsteele09/go-issue-sentinel/tracker"
)

func main() {
	if err := run(); err != nil {
		zlog.Fatal().Err(err).Msg("server exited")
	}
	zlog.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	initLogging(cfg)
	displayAppname(cfg.AppName)

	credRepo, cleanup, err := newCredentialRepo(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	auth, err := authority.New(cfg.OAuth, cfg.Tracker.APIBaseURL, credRepo)
	if err != nil {
		return fmt.Errorf("authority: %w", err)
	}

	guard, err := flowstate.NewGuard(flowstate.NewInMemoryRepo())
	if err != nil {
		return fmt.Errorf("guard: %w", err)
	}

	client := tracker.NewClient(cfg.Tracker)
	pipeline := tracker.NewPipeline(cfg.Tracker.ExcludedStatuses)
	executor := tracker.NewExecutor(client, cfg.Tracker)

	poller, err := schedule.NewPoller(auth, client, pipeline, executor, cfg.Schedule, cfg.Tracker.DefaultJQL)
	if err != nil {
		return fmt.Errorf("poller: %w", err)
	}
	if err := poller.Start(); err != nil {
		return fmt.Errorf("start schedules: %w", err)
	}
	defer poller.Stop()

	srv, err := server.New(cfg, auth, guard, poller)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	httpServer := &http.Server{Addr: cfg.Port, Handler: srv}
	go listenAndServe(httpServer)
	waitForStopSignal()
	return shutdown(httpServer)
}

// newCredentialRepo picks the Postgres store when a database URL is
// configured, the in-memory store otherwise.
func newCredentialRepo(cfg config.Config) (credentials.Repo, func(), error) {
	if cfg.DatabaseURL == "" {
		zlog.Info().Msg("no database configured, using in-memory credential store")
		return repoinmemory.New(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	repo := repopostgres.New(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo, pool.Close, nil
}

func initLogging(cfg config.Config) {
	if cfg.Env == "DEV" {
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func listenAndServe(httpServer *http.Server) {
	zlog.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zlog.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
