package main

import (
	"fmt"
	"os"
)

var version = "dev"

var commands = map[string]func([]string) error{
	"validate": runValidate,
	"plan":     runPlan,
	"diff":     runDiff,
	"apply":    runApply,
	"runs":     runRuns,
	"drift":    runDrift,
}

func usage() {
	fmt.Fprintf(os.Stderr, `topoctl - service topology CLI (version %s)

Usage:
  topoctl <command> [options]

Commands:
  validate   Validate a topology file and its composed graph
  plan       Compose a topology and print the resources it declares
  diff       Compare two topology files and show which units changed
  apply      Provision a topology through a provider
  runs       List recorded applies of a topology
  drift      Report recorded resources that changed in the provider

Run 'topoctl <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd) //nolint:gosec // G705: CLI error output
		usage()
		os.Exit(1)
	}

	if err := fn(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err) //nolint:gosec // G705: CLI error output
		os.Exit(1)
	}
}
