package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"pdfgen/internal/app"
	"pdfgen/internal/config"
	u "pdfgen/internal/infra/logging"
	"pdfgen/internal/render"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
	u.SetLogLevel(cfg.Logger.Level)

	// Error ignored: maxprocs.Set only fails on an invalid GOMAXPROCS env.
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		u.Debug(fmt.Sprintf(format, args...))
	}))

	engine, err := render.New(cfg)
	if err != nil {
		u.Error("Failed to create PDF engine", "engine", cfg.PDF.Engine, "error", err)
		os.Exit(1)
	}
	u.Info("PDF engine ready", "engine", engine.Name(), "timeout", cfg.RenderTimeout().String())

	idleConnsClosed := make(chan struct{})
	app := app.SetupApp(cfg, engine)

	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed

	if err := engine.Close(); err != nil {
		u.Error("Failed to close PDF engine", "error", err)
	}
}

// loadConfig reads --config, falling back to CONFIG_PATH. Invalid settings
// panic.
func loadConfig(args []string) (config.Config, error) {
	fs := pflag.NewFlagSet("pdfgen", pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "path to the YAML config file (default $CONFIG_PATH or "+config.DefaultPath+")")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if *path != "" {
		return config.LoadFrom(*path), nil
	}
	return config.Load(), nil
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Addr()); err != nil {
			u.Error("Server error", "error", err)
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint
	signal.Stop(sigint)

	u.Warn("Shutdown signal received, closing server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
}
