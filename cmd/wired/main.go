package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"wired/internal/app"
	"wired/internal/config"
)

type options struct {
	configPath string
	logLevel   string
	logFormat  string
	port       int
}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("wired", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVarP(&opts.configPath, "config", "c", os.Getenv("WIRED_CONFIG_FILE"), "path to a JSON configuration file")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	fs.StringVar(&opts.logFormat, "log-format", "", "log format (console, json)")
	fs.IntVarP(&opts.port, "port", "p", 0, "HTTP listen port")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// loadConfig applies command line overrides on top of file, env and defaults.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if opts.port != 0 {
		cfg.HTTP.Port = opts.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.LogConfig, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "wired").Logger(), nil
}

func run(args []string, output io.Writer) error {
	opts, err := parseFlags(args, output)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log, output)
	if err != nil {
		return err
	}

	application, err := app.NewApplication(cfg, &logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
