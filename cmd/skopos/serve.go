package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emirhanaydin/skopos/internal/engine"
	"github.com/emirhanaydin/skopos/internal/packetio"
	"github.com/emirhanaydin/skopos/internal/protocol"
)

// serveCmd runs the engine as a line-protocol probe daemon on stdin/stdout.
// The raw sockets are opened here, before any other setup, so the
// privileged phase runs as early as possible in the process lifetime.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the probe daemon, reading send-probe commands from stdin",
	Long: `serve opens the raw IPv4/IPv6 sockets and then reads send-probe
commands from stdin, one per line, writing a response line for every
probe outcome (reply, ttl-expired, unreachable, no-reply, or an error
token) to stdout. See internal/protocol for the exact wire grammar.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	limits := engine.DefaultLimits()
	if cfg != nil {
		ec := cfg.Defaults.Engine
		limits = engine.Limits{MaxProbes: ec.MaxProbes, MinPort: ec.MinPort, MaxPort: ec.MaxPort}
	}
	eng, err := engine.New(limits)
	if err != nil {
		return fmt.Errorf("open raw sockets: %w", err)
	}
	defer eng.Close()

	session := protocol.NewSession(eng, os.Stdin, os.Stdout)

	if err := eng.Start(packetio.NewResolver(), packetio.NewConstructor(), packetio.NewParser(), session); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	return session.Run()
}
