// Package app assembles the trading core and runs its services.
package app

import (
	"context"
	"fmt"

	"tradedesk/internal/approval"
	"tradedesk/internal/config"
	"tradedesk/internal/events"
	"tradedesk/internal/execution"
	"tradedesk/internal/logger"
	"tradedesk/internal/store/gormstore"
	"tradedesk/internal/store/journal"
	adminhttp "tradedesk/internal/transport/http/admin"

	"golang.org/x/sync/errgroup"
)

// App owns the wired components and their lifecycle.
type App struct {
	watcher *config.Watcher
	store   *gormstore.GormStore
	journal *journal.Journal
	hub     *events.Hub
	engine  *execution.Engine
	queue   *approval.Queue
	server  *adminhttp.Server
}

// NewApp builds the application from the config file at cfgPath.
func NewApp(cfgPath string) (*App, error) {
	return buildApp(cfgPath)
}

// Queue exposes the approval pipeline, for embedding and tests.
func (a *App) Queue() *approval.Queue {
	if a == nil {
		return nil
	}
	return a.queue
}

// Run reconciles leftover state and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	// Orders may have reached the broker before a crash; settle them
	// before accepting new work.
	if err := a.engine.Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("admin http listening on %s", a.server.Addr())
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("admin http server: %w", err)
		}
		return nil
	})
	return group.Wait()
}

func (a *App) close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("close journal: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("close store: %v", err)
		}
	}
}
