// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// telosd is the Telos execution daemon and its operator CLI. `telosd serve`
// runs the scheduler until interrupted; the other commands submit runs and
// inspect manifests, archives, and the audit trail.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

var version = "dev"

type globalFlags struct {
	ConfigPath string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	switch args[0] {
	case "serve":
		runServe(ctx, global)
	case "run":
		runRun(ctx, global, args[1:])
	case "agents":
		runAgents(global, args[1:])
	case "tools":
		runTools(ctx, global, args[1:])
	case "runs":
		runRuns(ctx, global, args[1:])
	case "audit":
		runAudit(ctx, global, args[1:])
	case "validate":
		runValidate(ctx, global)
	case "version":
		printVersion(global)
	case "help":
		printUsage()
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{
		ConfigPath: os.Getenv("TELOS_CONFIG"),
		Timeout:    30 * time.Second,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func printVersion(flags globalFlags) {
	if flags.JSON {
		printJSON(map[string]string{"version": version})
		return
	}
	fmt.Printf("telosd %s\n", version)
}

func printUsage() {
	fmt.Print(`telosd - agent execution daemon

Usage:
  telosd [global flags] <command> [args]

Commands:
  serve                     run the daemon until interrupted
  run <agent> <input>       submit a run and follow it to completion
  agents list               list agent manifests
  tools list                list registered tools
  runs recent [--limit N]   show recently archived runs
  audit list [--run ID]     show recorded audit events
  validate                  check configuration and manifests
  version                   print the version
  help                      print this help

Global flags:
  --config <path>   configuration file (or TELOS_CONFIG)
  --timeout <dur>   command timeout (default 30s)
  --json            machine-readable output
`)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "telosd: %v\n", err)
	os.Exit(1)
}
