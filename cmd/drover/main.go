// Package main provides the drover CLI.
//
// Usage:
//
//	drover [flags] <command> [args]
//
// Commands:
//
//	run        - start a new agent on a task
//	resume     - restart a paused or errored agent
//	list       - list agents
//	show       - show one agent in detail
//	iterations - print an agent's iteration history
//	hitl       - answer a human-in-the-loop pause
//	cancel     - force-stop an agent
//	delete     - remove agents and their history
//	report     - write an HTML run report
//
// Configuration is read from drover.toml (or --config), with DROVER_* env
// vars taking precedence.
package main

import (
	"fmt"
	"os"

	"github.com/evrane/drover/cmd/drover/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
