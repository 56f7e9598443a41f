package main

import (
	"context"
	"errors"
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

	"github.com/dreamware/quorumfs/internal/dstore"
	"github.com/dreamware/quorumfs/internal/storage"
)

// logFatal is a variable to allow mocking the fatal exit in tests.
var logFatal = func(format string, v ...interface{}) {
	log.Fatal().Msgf(format, v...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		logFatal("dstore: %v", err)
	}
}

// run starts a storage node and blocks until ctx is canceled or the
// controller goes away.
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

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("closing store")
		}
	}()

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}

	node, err := dstore.New(dstore.Config{
		ControllerAddr: net.JoinHostPort(cfg.ControllerHost, strconv.Itoa(cfg.ControllerPort)),
		PeerHost:       cfg.PeerHost,
		Timeout:        cfg.Timeout,
		MaxFileSize:    cfg.MaxFileSize,
		Store:          store,
		Logger:         logger,
	})
	if err != nil {
		ln.Close()
		return err
	}

	logger.Info().Str("backend", cfg.Backend).Str("dir", cfg.Dir).
		Str("max_file_size", cfg.MaxFileSize.HumanReadable()).Msg("starting storage node")
	err = node.Serve(ctx, ln)
	if errors.Is(err, dstore.ErrControllerGone) {
		logger.Warn().Msg("controller went away, shutting down")
	}
	return err
}

func openStore(cfg config) (storage.Store, error) {
	if cfg.Backend == backendMemory {
		return storage.NewMemoryStore(), nil
	}
	return storage.OpenBadgerStore(cfg.Dir)
}

func newLogger(out io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger(), nil
}
