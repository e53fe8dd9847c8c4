package main

//
//  @title           quoteflow API
//  @version         1.0
//  @description     Yahoo Finance CSV ingestion over RabbitMQ into PostgreSQL.
//  @termsOfService  https://github.com/guttosm/quoteflow
//  @contact.name    API Support
//  @contact.url     https://github.com/guttosm/quoteflow
//  @contact.email   support@example.com
//  @license.name    MIT
//  @license.url     https://opensource.org/licenses/MIT
//  @host            localhost:8080
//  @BasePath        /
//  @schemes         http
//
//  @tag.name        publish
//  @tag.description Upload CSV files for asynchronous ingestion
//
//  @tag.name        quotes
//  @tag.description Read persisted quotes
//
//  @tag.name        health
//  @tag.description Liveness and readiness probes

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guttosm/quoteflow/config"
	_ "github.com/guttosm/quoteflow/docs" // swagger docs
	"github.com/guttosm/quoteflow/internal/app"
	"github.com/guttosm/quoteflow/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// Execution modes accepted by --mode.
const (
	modeAPI     = "api"
	modeConsume = "consume"
	modeAll     = "all"
	modeMigrate = "migrate"
)

// startServer binds the port and serves HTTP in a separate goroutine.
//
// Parameters:
//   - router (http.Handler): The HTTP router (Gin Engine) configured with all routes.
//   - port (string): The port where the server will listen for incoming requests ("0" picks a free one).
//
// Returns:
//   - *http.Server: The initialized HTTP server instance.
//   - <-chan error: receives the serve error if the server stops for any reason other than Shutdown.
//   - error: when the port cannot be bound.
func startServer(router http.Handler, port string) (*http.Server, <-chan error, error) {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", server.Addr, err)
	}

	errc := make(chan error, 1)
	go func() {
		logger.L().Info().Str("addr", ln.Addr().String()).Msg("server starting")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	return server, errc, nil
}

// gracefulShutdown waits for ctx to be canceled (SIGINT, SIGTERM or a failing
// sibling in --mode=all), then drains the HTTP server and cleans up resources.
//
// Parameters:
//   - ctx (context.Context): canceled when the process should stop.
//   - server (*http.Server): The HTTP server instance to shut down.
//   - cleanup (func()): Cleanup callback to release resources (e.g., DB connections).
func gracefulShutdown(ctx context.Context, server *http.Server, cleanup func()) error {
	<-ctx.Done()
	logger.L().Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	cleanup()
	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.L().Info().Msg("server exited gracefully")
	return nil
}

// serveAPI runs the HTTP server until ctx is done or the server fails.
func serveAPI(ctx context.Context, cfg *config.Config, port string) error {
	router, cleanup, err := app.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app init: %w", err)
	}

	server, errc, err := startServer(router, port)
	if err != nil {
		cleanup()
		return err
	}

	stopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-errc; err != nil {
			logger.L().Error().Err(err).Msg("server failed")
		}
		cancel()
	}()

	if err := gracefulShutdown(stopCtx, server, cleanup); err != nil {
		return err
	}
	if ctx.Err() == nil {
		// stopCtx was canceled by the serve goroutine, not by the caller.
		return errors.New("http server stopped unexpectedly")
	}
	return nil
}

// consume runs the queue worker until ctx is done.
func consume(ctx context.Context, cfg *config.Config) error {
	c, cleanup, err := app.InitConsumer(cfg)
	if err != nil {
		return fmt.Errorf("consumer init: %w", err)
	}
	defer cleanup()
	return c.Run(ctx)
}

// run dispatches to the selected mode. --mode=all runs the API and the consumer
// side by side; the first one to fail cancels the other.
func run(ctx context.Context, cfg *config.Config, mode, port string, migrate bool) error {
	switch mode {
	case modeAPI, modeConsume, modeAll, modeMigrate:
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	if migrate || mode == modeMigrate {
		logger.L().Info().Msg("applying migrations")
		if err := app.RunMigrations(cfg); err != nil {
			return err
		}
	}

	switch mode {
	case modeAPI:
		logger.L().Info().Msg("starting API server")
		return serveAPI(ctx, cfg, port)
	case modeConsume:
		logger.L().Info().Msg("starting consumer")
		return consume(ctx, cfg)
	case modeAll:
		logger.L().Info().Msg("starting API server and consumer")
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return serveAPI(gctx, cfg, port) })
		g.Go(func() error { return consume(gctx, cfg) })
		return g.Wait()
	default:
		return nil
	}
}

// main is the entry point of the quoteflow application.
//
// Modes (selected via --mode flag):
//   - api:     Starts the REST API (CSV upload, quote lookup, probes).
//   - consume: Drains the queue and persists quotes into PostgreSQL.
//   - all:     Runs api and consume in one process.
//   - migrate: Applies database migrations and exits.
//
// Flags:
//   - --mode:    Execution mode. Default: "api".
//   - --port:    Port for the API server. Defaults to value from config (SERVER_PORT).
//   - --migrate: Apply migrations before starting any other mode.
func main() {
	// Load configuration from environment or .env file
	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize JSON logger
	logger.Init(cfg.Log.Level, cfg.Log.Pretty)

	mode := flag.String("mode", modeAPI, "Mode: api, consume, all or migrate")
	port := flag.String("port", cfg.Server.Port, "Port for API mode")
	migrate := flag.Bool("migrate", false, "Apply database migrations before starting")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mode, *port, *migrate); err != nil {
		stop()
		logger.L().Fatal().Err(err).Str("mode", *mode).Msg("quoteflow stopped")
	}
	logger.L().Info().Str("mode", *mode).Msg("quoteflow stopped")
}
