package app

import (
	"context"
	"errors"
	"fmt"

	"phinance/internal/audit"
	"phinance/internal/config"
	"phinance/internal/engine"
	"phinance/internal/logger"
	"phinance/internal/market"
	"phinance/internal/queue"
	"phinance/internal/risk"
	"phinance/internal/scheduler"
	"phinance/internal/store/gormstore"
	livehttp "phinance/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App owns every long-lived component: load config, wire, then Run.
type App struct {
	cfg       *config.Config
	store     *gormstore.GormStore
	auditLog  *audit.Log
	prices    *market.PriceBook
	engine    *engine.Engine
	queue     *queue.Queue
	desk      *risk.Desk
	monitor   *risk.Monitor
	scheduler *scheduler.Service
	liveHTTP  *livehttp.Server
	Summary   *StartupSummary
}

// NewApp builds the application without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run serves the control surface, the scheduler and the breaker reset job
// until ctx is cancelled, then closes the stores.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.cfg.Audit.VerifyOnStart {
		if res, err := a.engine.VerifyAudit(ctx); err != nil {
			logger.Errorf("audit chain verification failed at entry %d, trading halted: %v", res.BrokenAt, err)
		} else {
			logger.Infof("audit chain verified: %d entries", res.Entries)
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(ctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error { return a.scheduler.Run(ctx) })
	group.Go(func() error { return a.monitor.Run(ctx) })

	err := group.Wait()
	return errors.Join(err, a.Close())
}

// Close releases the database handles. Safe to call more than once.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.auditLog != nil {
		errs = append(errs, a.auditLog.Close())
		a.auditLog = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	return errors.Join(errs...)
}

func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) Queue() *queue.Queue { return a.queue }

func (a *App) Desk() *risk.Desk { return a.desk }

func (a *App) Prices() *market.PriceBook { return a.prices }

// HTTPServer exposes the control surface, for tests.
func (a *App) HTTPServer() *livehttp.Server { return a.liveHTTP }
