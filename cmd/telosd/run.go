// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teloslabs/telos/pkg/audit"
	"github.com/teloslabs/telos/pkg/config"
	"github.com/teloslabs/telos/pkg/run"
	"github.com/teloslabs/telos/pkg/runtime"
)

// runRun submits one run and follows its event feed to a terminal state.
func runRun(ctx context.Context, flags globalFlags, args []string) {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	follow := cmd.Bool("follow", true, "stream run events while executing")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	rest := cmd.Args()
	if len(rest) < 2 {
		fatal(fmt.Errorf("usage: telosd run <agent> <input>"))
	}
	agentName := rest[0]
	input := strings.Join(rest[1:], " ")

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fatal(err)
	}
	rt, err := runtime.New(ctx, cfg, version)
	if err != nil {
		fatal(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = rt.Shutdown(shutdownCtx)
	}()

	sched := rt.Scheduler()
	runID, err := sched.Submit(ctx, agentName, input)
	if err != nil {
		fatal(err)
	}
	if !flags.JSON {
		fmt.Printf("run %s submitted\n", runID)
	}

	feed, err := sched.Watch(runID)
	if err != nil {
		fatal(err)
	}
	for event := range feed {
		if *follow && !flags.JSON {
			printEvent(event)
		}
	}

	snap, err := sched.Status(runID)
	if err != nil {
		fatal(err)
	}
	if flags.JSON {
		printJSON(snap)
	} else {
		printSnapshot(snap)
	}
	if snap.Status != run.StatusCompleted {
		os.Exit(1)
	}
}

func printEvent(event audit.Event) {
	switch event.Type {
	case audit.EventRunChunk:
		if delta, ok := event.Payload["delta"].(string); ok {
			fmt.Print(delta)
		}
	case audit.EventRunCompleted:
		fmt.Println()
	default:
		fmt.Printf("[%s] %s\n", event.Timestamp.Format(time.TimeOnly), event.Type)
	}
}

func printSnapshot(snap run.Snapshot) {
	fmt.Printf("status: %s\n", snap.Status)
	fmt.Printf("iterations: %d\n", snap.IterationCount)
	fmt.Printf("tokens: %d in / %d out\n", snap.Usage.InputTokens, snap.Usage.OutputTokens)
	if snap.Result != "" {
		fmt.Printf("\n%s\n", snap.Result)
	}
	if snap.FailureReason != "" {
		fmt.Printf("failure: %s (%s)\n", snap.FailureReason, snap.FailureDetail)
	}
}

// runRuns inspects the terminal run archive.
func runRuns(ctx context.Context, flags globalFlags, args []string) {
	if len(args) == 0 || args[0] != "recent" {
		fatal(fmt.Errorf("usage: telosd runs recent [--limit N]"))
	}
	cmd := flag.NewFlagSet("runs recent", flag.ContinueOnError)
	limit := cmd.Int("limit", 20, "maximum runs to show")
	if err := cmd.Parse(args[1:]); err != nil {
		fatal(err)
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Agents.ArchivePath == "" {
		fatal(fmt.Errorf("agents.archive_path is not configured"))
	}

	db, err := sql.Open("sqlite", cfg.Agents.ArchivePath)
	if err != nil {
		fatal(err)
	}
	defer db.Close()
	archive, err := run.NewArchive(db)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()
	snaps, err := archive.Recent(ctx, *limit)
	if err != nil {
		fatal(err)
	}

	if flags.JSON {
		printJSON(snaps)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tAGENT\tSTATUS\tITER\tCOMPLETED")
	for _, snap := range snaps {
		completed := ""
		if !snap.CompletedAt.IsZero() {
			completed = snap.CompletedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			snap.ID, snap.AgentID, snap.Status, snap.IterationCount, completed)
	}
	w.Flush()
}

// runAudit inspects the persistent audit trail.
func runAudit(ctx context.Context, flags globalFlags, args []string) {
	if len(args) == 0 || args[0] != "list" {
		fatal(fmt.Errorf("usage: telosd audit list [--run ID] [--limit N]"))
	}
	cmd := flag.NewFlagSet("audit list", flag.ContinueOnError)
	runID := cmd.String("run", "", "filter by run id")
	limit := cmd.Int("limit", 50, "maximum events to show")
	if err := cmd.Parse(args[1:]); err != nil {
		fatal(err)
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Audit.Path == "" {
		fatal(fmt.Errorf("audit.path is not configured"))
	}

	db, err := sql.Open("sqlite", cfg.Audit.Path)
	if err != nil {
		fatal(err)
	}
	defer db.Close()
	sink, err := audit.NewSQLiteSink(db)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()
	events, err := sink.List(ctx, audit.Filter{RunID: *runID, Limit: *limit})
	if err != nil {
		fatal(err)
	}

	if flags.JSON {
		printJSON(events)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tRUN\tAGENT\tEVENT\tERROR")
	for _, event := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			event.Timestamp.Format(time.RFC3339), event.RunID, event.AgentID, event.Type, event.Error)
	}
	w.Flush()
}
