package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/quorumfs/internal/client"
)

// errUsage is returned for a malformed command line.
var errUsage = errors.New(`usage:
  client store <path> [name]
  client load <name> [path]
  client remove <name>
  client list`)

// logFatal is a variable to allow mocking the fatal exit in tests.
var logFatal = func(format string, v ...interface{}) {
	log.Fatal().Msgf(format, v...)
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		logFatal("%v", err)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch {
	case cmd == "store" && (len(rest) == 1 || len(rest) == 2):
	case cmd == "load" && (len(rest) == 1 || len(rest) == 2):
	case cmd == "remove" && len(rest) == 1:
	case cmd == "list" && len(rest) == 0:
	default:
		return errUsage
	}

	timeout, err := strconv.Atoi(getenv("CLIENT_TIMEOUT_MS", "5000"))
	if err != nil || timeout <= 0 {
		return fmt.Errorf("CLIENT_TIMEOUT_MS: want a positive number of milliseconds")
	}
	host := getenv("CONTROLLER_HOST", "127.0.0.1")
	c, err := client.Dial(client.Config{
		ControllerAddr: net.JoinHostPort(host, getenv("CONTROLLER_PORT", "12345")),
		NodeHost:       getenv("DSTORE_HOST", host),
		Timeout:        time.Duration(timeout) * time.Millisecond,
		Logger:         log.Logger,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	switch cmd {
	case "store":
		return store(c, rest, out)
	case "load":
		return load(c, rest, out)
	case "remove":
		if err := c.Remove(rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "removed %s\n", rest[0])
		return nil
	default:
		return list(c, out)
	}
}

func store(c *client.Client, args []string, out io.Writer) error {
	path := args[0]
	name := filepath.Base(path)
	if len(args) == 2 {
		name = args[1]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := c.Store(name, data); err != nil {
		return err
	}
	fmt.Fprintf(out, "stored %s (%s)\n", name, datasize.ByteSize(len(data)).HumanReadable())
	return nil
}

// load writes the file to path, or to out when no path is given.
func load(c *client.Client, args []string, out io.Writer) error {
	data, err := c.Load(args[0])
	if err != nil {
		return err
	}
	if len(args) == 1 {
		_, err = out.Write(data)
		return err
	}
	return os.WriteFile(args[1], data, 0o644)
}

func list(c *client.Client, out io.Writer) error {
	names, err := c.List()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(out)
	table.Header([]string{"#", "File"})
	for i, name := range names {
		if err := table.Append([]string{strconv.Itoa(i + 1), name}); err != nil {
			return err
		}
	}
	return table.Render()
}

// getenv returns the value of k, or def when it is unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
