package main

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// config is the controller's process configuration.
type config struct {
	Port              int
	ReplicationFactor int
	Timeout           time.Duration
	RebalancePeriod   time.Duration
	AcceptRate        float64
	AcceptBurst       int
	LogLevel          string
}

// positional lists the environment keys the positional form overrides, in
// order: controller cport R timeout rebalancePeriod.
var positional = []string{"CONTROLLER_PORT", "REPLICATION_FACTOR", "TIMEOUT_MS", "REBALANCE_PERIOD_MS"}

// loadConfig reads the environment, then lets positional arguments override
// it.
func loadConfig(args []string) (config, error) {
	if len(args) > len(positional) {
		return config{}, fmt.Errorf("usage: controller [cport R timeout rebalancePeriod]")
	}
	values := map[string]string{
		"CONTROLLER_PORT":     getenv("CONTROLLER_PORT", "12345"),
		"REPLICATION_FACTOR":  getenv("REPLICATION_FACTOR", "3"),
		"TIMEOUT_MS":          getenv("TIMEOUT_MS", "1000"),
		"REBALANCE_PERIOD_MS": getenv("REBALANCE_PERIOD_MS", "30000"),
		"ACCEPT_RATE":         getenv("ACCEPT_RATE", "0"),
		"ACCEPT_BURST":        getenv("ACCEPT_BURST", "64"),
	}
	for i, arg := range args {
		values[positional[i]] = arg
	}

	var cfg config
	var err error
	if cfg.Port, err = parsePort(values["CONTROLLER_PORT"]); err != nil {
		return config{}, fmt.Errorf("CONTROLLER_PORT: %w", err)
	}
	if cfg.ReplicationFactor, err = strconv.Atoi(values["REPLICATION_FACTOR"]); err != nil {
		return config{}, fmt.Errorf("REPLICATION_FACTOR: %w", err)
	}
	if cfg.Timeout, err = parseMillis(values["TIMEOUT_MS"]); err != nil {
		return config{}, fmt.Errorf("TIMEOUT_MS: %w", err)
	}
	if cfg.RebalancePeriod, err = parseMillis(values["REBALANCE_PERIOD_MS"]); err != nil {
		return config{}, fmt.Errorf("REBALANCE_PERIOD_MS: %w", err)
	}
	if cfg.AcceptRate, err = strconv.ParseFloat(values["ACCEPT_RATE"], 64); err != nil {
		return config{}, fmt.Errorf("ACCEPT_RATE: %w", err)
	}
	if cfg.AcceptBurst, err = strconv.Atoi(values["ACCEPT_BURST"]); err != nil {
		return config{}, fmt.Errorf("ACCEPT_BURST: %w", err)
	}
	cfg.LogLevel = getenv("LOG_LEVEL", "info")
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

func parseMillis(s string) (time.Duration, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, fmt.Errorf("negative duration %d", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// getenv returns the value of k, or def when it is unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
