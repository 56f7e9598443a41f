package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/quorumfs/internal/coordinator"
)

// logFatal is a variable to allow mocking the fatal exit in tests.
var logFatal = func(format string, v ...interface{}) {
	log.Fatal().Msgf(format, v...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		logFatal("controller: %v", err)
	}
}

// run starts a controller and blocks until ctx is canceled. The only errors
// it returns are configuration and bind failures.
func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	logger, err := newLogger(out, cfg.LogLevel)
	if err != nil {
		return err
	}
	log.Logger = logger

	ctrl, err := coordinator.New(coordinator.Config{
		ReplicationFactor: cfg.ReplicationFactor,
		Timeout:           cfg.Timeout,
		RebalancePeriod:   cfg.RebalancePeriod,
		AcceptRate:        cfg.AcceptRate,
		AcceptBurst:       cfg.AcceptBurst,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	addr := net.JoinHostPort("", strconv.Itoa(cfg.Port))
	if err := ctrl.ListenAndServe(ctx, addr); err != nil {
		return err
	}
	logger.Info().Msg("controller stopped")
	return nil
}

// newLogger builds the console logger every binary uses.
func newLogger(out io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger(), nil
}
