// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mirahq/mira-core/internal/bus"
	"github.com/mirahq/mira-core/internal/config"
)

// NewDBPool connects to PostgreSQL with centralized pooling settings and
// verifies the connection before returning.
func NewDBPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is not configured (hint: check MIRA_DATABASE_URL)")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Debug("Database connection pool initialized.")
	return pool, nil
}

// runPipeline pumps session snapshots through the matching engine. Every
// captured batch or navigation triggers a matching pass, and a periodic tick
// evaluates the trigger rules so idle-driven suggestions fire without fresh
// input.
func (c *Components) runPipeline(ctx context.Context) {
	logger := c.logger.Named("pipeline")
	logger.Info("Pipeline pump started", zap.Duration("eval_interval", c.evalInterval))

	ticker := time.NewTicker(c.evalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Pipeline pump stopped")
			return
		case msg, ok := <-c.pipelineChan:
			if !ok {
				logger.Info("Pipeline pump stopped")
				return
			}
			c.processActivity(ctx, msg)
		case <-ticker.C:
			c.Arbiter.Evaluate(ctx, c.Recorder.Snapshot())
		}
	}
}

func (c *Components) processActivity(ctx context.Context, msg bus.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic recovered in pipeline pump",
				zap.String("message_id", msg.ID),
				zap.Any("panic_value", r),
			)
		}
		c.Bus.Acknowledge(msg)
	}()

	snapshot := c.Recorder.Snapshot()
	c.Engine.Match(ctx, snapshot)
	c.Arbiter.Evaluate(ctx, snapshot)
}
