// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teloslabs/telos/pkg/config"
	"github.com/teloslabs/telos/pkg/runtime"
)

const shutdownGrace = 15 * time.Second

func runServe(ctx context.Context, flags globalFlags) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fatal(err)
	}

	rt, err := runtime.New(ctx, cfg, version)
	if err != nil {
		fatal(err)
	}
	log := rt.Logger()

	// A config file can change under a running daemon. Provider credentials
	// and budgets apply to new runs only after a restart; agent manifests
	// reload in place.
	if flags.ConfigPath != "" {
		watcher, err := config.NewWatcher(flags.ConfigPath, config.WithLogger(log))
		if err != nil {
			fatal(err)
		}
		watcher.OnChange(func(next *config.Config) {
			if err := rt.Agents().Load(); err != nil {
				log.Error("agent manifest reload failed", slog.String("error", err.Error()))
				return
			}
			log.Info("agent manifests reloaded", slog.Int("agents", rt.Agents().Len()))
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	log.Info("telosd serving", slog.String("version", version))
	<-ctx.Done()
	log.Info("telosd shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		fatal(fmt.Errorf("shutdown: %w", err))
	}
}
