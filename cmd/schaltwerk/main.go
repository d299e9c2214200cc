// Package main is the entry point for schaltwerk: a local process that
// owns the project registry and command facade for one machine's worth of
// session orchestration. It carries no HTTP/MCP surface (spec.md §1 OUT OF
// SCOPE) — it exists to host the facade for an in-process caller (the
// desktop shell embeds this package directly) and to own graceful shutdown
// of every open project's store and PTY terminals.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kandev/schaltwerk/internal/common/config"
	"github.com/kandev/schaltwerk/internal/common/logger"
	"github.com/kandev/schaltwerk/internal/events/bus"
	"github.com/kandev/schaltwerk/internal/facade"
	"github.com/kandev/schaltwerk/internal/gitops"
	"github.com/kandev/schaltwerk/internal/project"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting schaltwerk")

	events := bus.NewMemoryEventBus(log)
	git := gitops.New()
	registry := project.NewRegistry(log, cfg, git, events)
	f := facade.New(log, cfg, git, registry)

	repoPath, err := os.Getwd()
	if err != nil {
		log.Fatal("failed to resolve working directory", zap.Error(err))
	}
	if len(os.Args) > 1 {
		repoPath = os.Args[1]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions, err := f.List(ctx, repoPath, "all", "created")
	if err != nil {
		log.Error("failed to list sessions on startup", zap.String("repo", repoPath), zap.Error(err))
	} else {
		log.Info("project loaded", zap.String("repo", repoPath), zap.Int("sessions", len(sessions)))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down schaltwerk")
	registry.CleanupAll()
	log.Info("schaltwerk stopped")
}
