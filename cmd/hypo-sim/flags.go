package main

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/callzhang/hypo/internal/config"
)

// errHelp is returned after a command printed its help text.
var errHelp = errors.New("help requested")

// newFlagSet returns a flag set that prints its own help to cfg.Stdout.
func newFlagSet(name, summary string, cfg *Config) *pflag.FlagSet {
	set := pflag.NewFlagSet(name, pflag.ContinueOnError)
	set.SetOutput(cfg.Stderr)
	set.Usage = func() {
		fmt.Fprintf(cfg.Stdout, "usage: hypo-sim %s [flags]\n\n%s\n\nflags:\n%s", name, summary, set.FlagUsages())
	}
	return set
}

// parse parses args on set and loads the layered configuration.
func parse(set *pflag.FlagSet, args []string, cfg *Config) (*config.Config, error) {
	f := config.AddFlags(set)
	if err := set.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, errHelp
		}
		return nil, err
	}
	if set.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", set.Arg(0))
	}
	return f.Load(cfg.getenv)
}
