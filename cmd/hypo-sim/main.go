// Command hypo-sim exercises the clipboard sync protocol from the command
// line: it sends clipboard envelopes to a LAN peer or the relay, listens
// or watches for them, and checks crypto test vectors.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: hypo-sim <command> [flags]

commands:
  send      seal and send one clipboard item
  listen    accept LAN connections and print what arrives
  watch     connect to a peer and print what arrives
  decode    open the envelopes in a capture file
  vectors   verify a crypto test-vector file

Run "hypo-sim <command> --help" for the flags of a command.`

// Config holds the process environment a command runs in.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
}

// DefaultConfig returns a Config bound to the real process.
func DefaultConfig() *Config {
	return &Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Getenv: os.Getenv,
	}
}

// exitFunc is replaced in tests.
var exitFunc = os.Exit

// listenFunc opens the listen socket. Tests replace it to learn the port.
var listenFunc = net.Listen

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	exitFunc(1)
}

func run(args []string, cfg *Config) error {
	if len(args) < 2 {
		return errors.New(usage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[1] {
	case "send":
		err = runSend(ctx, args[2:], cfg)
	case "listen":
		err = runListen(ctx, args[2:], cfg)
	case "watch":
		err = runWatch(ctx, args[2:], cfg)
	case "decode":
		err = runDecode(args[2:], cfg)
	case "vectors":
		err = runVectors(args[2:], cfg)
	case "help", "-h", "--help":
		fmt.Fprintln(cfg.Stdout, usage)
	default:
		err = fmt.Errorf("unknown command: %s\n\n%s", args[1], usage)
	}
	if errors.Is(err, errHelp) {
		return nil
	}
	return err
}

func (c *Config) getenv(key string) string {
	if c.Getenv == nil {
		return ""
	}
	return c.Getenv(key)
}
