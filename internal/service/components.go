// File: internal/service/components.go
package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mirahq/mira-core/internal/action"
	"github.com/mirahq/mira-core/internal/behavior"
	"github.com/mirahq/mira-core/internal/bus"
	"github.com/mirahq/mira-core/internal/engagement"
	"github.com/mirahq/mira-core/internal/pattern/engine"
	"github.com/mirahq/mira-core/internal/pattern/learning"
	"github.com/mirahq/mira-core/internal/store"
	"github.com/mirahq/mira-core/internal/suggest"
	"github.com/mirahq/mira-core/internal/upload"
)

// Components holds every initialized subsystem of the behavioral pipeline.
// This struct centralizes lifecycle management: Start launches the background
// loops and Shutdown tears them down in dependency order.
type Components struct {
	Bus        *bus.Bus
	Store      *store.Store
	Recorder   *behavior.Recorder
	Uploader   *upload.Uploader
	Learner    *learning.Learner
	Engine     *engine.Engine
	Arbiter    *suggest.Arbiter
	Executor   *action.Executor
	Engagement *engagement.Tracker
	DBPool     *pgxpool.Pool

	logger *zap.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pipelineChan feeds captured activity into the matching pump.
	pipelineChan <-chan bus.Message
	evalInterval time.Duration
}

// Start launches the background loops. The pipeline runs until Shutdown is
// called or the parent context is cancelled.
func (c *Components) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	loops := []func(context.Context){
		c.Uploader.Start,
		c.Learner.Start,
		c.Engine.Start,
		c.Arbiter.Start,
		c.Engagement.Start,
		func(ctx context.Context) { c.runPipeline(ctx) },
	}
	for _, loop := range loops {
		loop := loop
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			loop(runCtx)
		}()
	}

	c.logger.Info("Behavioral pipeline started",
		zap.String("session_id", c.Recorder.SessionID()))
}

// Shutdown gracefully closes all components, ensuring resources are released
// in the correct order.
func (c *Components) Shutdown() {
	c.logger.Debug("Beginning components shutdown sequence.")

	// 1. Flush the recorder so buffered events reach the bus before the
	// consumers stop.
	if c.Recorder != nil {
		c.Recorder.Close()
		c.logger.Debug("Recorder flushed and closed.")
	}

	// 2. Stop the background loops. Each performs its own final flush.
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Debug("Background loops stopped.")

	// 3. Shut down the bus, draining in-flight messages.
	if c.Bus != nil {
		c.Bus.Shutdown()
		c.logger.Debug("Bus shut down.")
	}

	// 4. Close the database connection pool.
	if c.DBPool != nil {
		c.DBPool.Close()
		c.logger.Debug("Database connection pool closed.")
	}

	c.logger.Info("All components shut down successfully.")
}
