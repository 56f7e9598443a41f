package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
)

// config is a storage node's process configuration.
type config struct {
	Port           int
	ControllerHost string
	ControllerPort int
	PeerHost       string
	Timeout        time.Duration
	Dir            string
	Backend        string
	MaxFileSize    datasize.ByteSize
	LogLevel       string
}

// positional lists the environment keys the positional form overrides, in
// order: dstore port cport timeout folder.
var positional = []string{"DSTORE_PORT", "CONTROLLER_PORT", "TIMEOUT_MS", "DSTORE_DIR"}

const (
	backendBadger = "badger"
	backendMemory = "memory"
)

func loadConfig(args []string) (config, error) {
	if len(args) > len(positional) {
		return config{}, fmt.Errorf("usage: dstore [port cport timeout folder]")
	}
	values := map[string]string{
		"DSTORE_PORT":     getenv("DSTORE_PORT", "0"),
		"CONTROLLER_PORT": getenv("CONTROLLER_PORT", "12345"),
		"TIMEOUT_MS":      getenv("TIMEOUT_MS", "1000"),
		"DSTORE_DIR":      getenv("DSTORE_DIR", "data"),
	}
	for i, arg := range args {
		values[positional[i]] = arg
	}

	cfg := config{
		ControllerHost: getenv("CONTROLLER_HOST", "127.0.0.1"),
		Dir:            values["DSTORE_DIR"],
		Backend:        getenv("DSTORE_BACKEND", backendBadger),
		LogLevel:       getenv("LOG_LEVEL", "info"),
	}
	cfg.PeerHost = getenv("DSTORE_PEER_HOST", cfg.ControllerHost)
	var err error
	if cfg.Port, err = parsePort(values["DSTORE_PORT"]); err != nil {
		return config{}, fmt.Errorf("DSTORE_PORT: %w", err)
	}
	if cfg.ControllerPort, err = parsePort(values["CONTROLLER_PORT"]); err != nil {
		return config{}, fmt.Errorf("CONTROLLER_PORT: %w", err)
	}
	ms, err := strconv.ParseInt(values["TIMEOUT_MS"], 10, 64)
	if err != nil || ms <= 0 {
		return config{}, fmt.Errorf("TIMEOUT_MS: want a positive number of milliseconds, got %q", values["TIMEOUT_MS"])
	}
	cfg.Timeout = time.Duration(ms) * time.Millisecond

	if err := cfg.MaxFileSize.UnmarshalText([]byte(getenv("DSTORE_MAX_FILE_SIZE", "1GB"))); err != nil {
		return config{}, fmt.Errorf("DSTORE_MAX_FILE_SIZE: %w", err)
	}
	switch cfg.Backend {
	case backendBadger, backendMemory:
	default:
		return config{}, fmt.Errorf("DSTORE_BACKEND: unknown backend %q", cfg.Backend)
	}
	return cfg, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// getenv returns the value of k, or def when it is unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
