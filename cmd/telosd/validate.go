// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/teloslabs/telos/pkg/agent"
	"github.com/teloslabs/telos/pkg/config"
	"github.com/teloslabs/telos/pkg/core"
	"github.com/teloslabs/telos/pkg/mcp"
	"github.com/teloslabs/telos/pkg/runtime"
	"github.com/teloslabs/telos/pkg/tools"
	"github.com/teloslabs/telos/pkg/tools/builtin"
)

// runValidate assembles the full runtime from configuration, probes
// component health, and tears it down again. Anything that would stop
// `serve` from starting is reported here first.
func runValidate(ctx context.Context, flags globalFlags) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fatal(err)
	}

	buildCtx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()
	rt, err := runtime.New(buildCtx, cfg, version)
	if err != nil {
		fatal(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = rt.Shutdown(shutdownCtx)
	}()

	results, overall := rt.Health().CheckAll(buildCtx)

	if flags.JSON {
		printJSON(map[string]any{
			"ok":     overall != core.HealthUnhealthy,
			"status": overall,
			"agents": rt.Agents().Names(),
			"tools":  rt.Registry().Names(),
			"health": results,
		})
	} else {
		fmt.Printf("configuration ok, %d agent manifests, %d tools\n",
			rt.Agents().Len(), rt.Registry().Len())
		for _, res := range results {
			line := fmt.Sprintf("%s: %s", res.Component, res.Status)
			if res.Message != "" {
				line += " (" + res.Message + ")"
			}
			fmt.Println(line)
		}
	}
	if overall == core.HealthUnhealthy {
		os.Exit(1)
	}
}

func runAgents(flags globalFlags, args []string) {
	if len(args) == 0 || args[0] != "list" {
		fatal(fmt.Errorf("usage: telosd agents list"))
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fatal(err)
	}
	store := agent.NewStore(cfg.Agents.Dir)
	if err := store.Load(); err != nil {
		fatal(err)
	}

	names := store.Names()
	sort.Strings(names)

	if flags.JSON {
		configs := make([]agent.Config, 0, len(names))
		for _, name := range names {
			if c, err := store.Get(name); err == nil {
				configs = append(configs, c)
			}
		}
		printJSON(configs)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODEL\tPROVIDER\tTOOLS")
	for _, name := range names {
		c, err := store.Get(name)
		if err != nil {
			continue
		}
		provider := c.Provider
		if provider == "" {
			provider = "(routed)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d allowed\n", c.Name, c.Model, provider, len(c.Tools.Allow))
	}
	w.Flush()
}

// runTools lists every tool the daemon would register: built-ins plus the
// configured MCP servers' discovered tools.
func runTools(ctx context.Context, flags globalFlags, args []string) {
	if len(args) == 0 || args[0] != "list" {
		fatal(fmt.Errorf("usage: telosd tools list"))
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fatal(err)
	}

	registry := tools.NewRegistry()
	if cfg.Tools.Filesystem {
		if err := builtin.RegisterFS(registry); err != nil {
			fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()
	for _, server := range cfg.Tools.MCP {
		var client *mcp.Client
		var err error
		switch server.Transport {
		case "stdio":
			client, err = mcp.NewClientWithStdio(server.Command, server.Args)
		case "http":
			client, err = mcp.NewClientWithStreamableHTTP(server.URL)
		default:
			err = fmt.Errorf("unknown transport %q", server.Transport)
		}
		if err != nil {
			fatal(fmt.Errorf("mcp server %s: %w", server.Name, err))
		}
		if _, err := mcp.RegisterTools(ctx, registry, client); err != nil {
			client.Close()
			fatal(fmt.Errorf("mcp server %s: %w", server.Name, err))
		}
		defer client.Close()
	}

	names := registry.Names()
	sort.Strings(names)

	if flags.JSON {
		printJSON(names)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, name := range names {
		def, ok := registry.Lookup(name)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", def.Name, def.Description)
	}
	w.Flush()
}
