// Command synthesize is the CLI entry point for the engine (spec.md
// §6, §4.G). It loads a flow from YAML, wires the engine, and exits
// with the code the scheduler computed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/synthesize/synthesize/engine"
	"github.com/synthesize/synthesize/internal/config"
	"github.com/synthesize/synthesize/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := logging.New(os.Stderr)

	fs := flag.NewFlagSet("synthesize", flag.ContinueOnError)
	once := fs.Bool("once", false, "rewrite every Restart/Watch trigger to Once and exit when quiescent")
	configPath := fs.String("config", "synthesize.yaml", "path to the flow definition")
	grace := fs.Duration("grace", 0, "SIGTERM-to-SIGKILL grace window (default: supervisor default)")
	cwd := fs.String("cwd", ".", "working directory for spawned commands")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 || fs.Arg(0) != "run" {
		fmt.Fprintln(os.Stderr, "usage: synthesize [--once] [--config path] [--grace duration] [--cwd dir] run <flow-name>")
		return 2
	}
	flowName := fs.Arg(1)

	flw, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", logging.Err(err))
		return 2
	}
	if flw.Name != flowName {
		log.Error("flow name mismatch", logging.Str("requested", flowName), logging.Str("configured", flw.Name))
		return 2
	}

	eng, err := engine.New(engine.Config{
		Flow:  flw,
		Once:  *once,
		Out:   os.Stdout,
		Log:   log,
		Grace: *grace,
		Cwd:   *cwd,
	})
	if err != nil {
		log.Error("failed to start engine", logging.Err(err))
		return 2
	}

	return eng.Run(context.Background())
}
