// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mirahq/mira-core/internal/action"
	"github.com/mirahq/mira-core/internal/behavior"
	"github.com/mirahq/mira-core/internal/bus"
	"github.com/mirahq/mira-core/internal/config"
	"github.com/mirahq/mira-core/internal/engagement"
	"github.com/mirahq/mira-core/internal/pattern/detect"
	"github.com/mirahq/mira-core/internal/pattern/engine"
	"github.com/mirahq/mira-core/internal/pattern/learning"
	"github.com/mirahq/mira-core/internal/pattern/library"
	"github.com/mirahq/mira-core/internal/store"
	"github.com/mirahq/mira-core/internal/suggest"
	"github.com/mirahq/mira-core/internal/upload"
)

// busBuffer is the per-subscriber channel depth for the internal bus.
const busBuffer = 256

// ComponentFactory defines the interface for creating the full set of
// pipeline components. This abstraction is the key to making the run
// command's logic testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, hooks action.Hooks, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create handles the full dependency injection and initialization of the
// behavioral pipeline.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, hooks action.Hooks, logger *zap.Logger) (*Components, error) {
	components := &Components{
		logger:       logger,
		evalInterval: cfg.Matching().ScanInterval,
	}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Database pool
	dbPool, err := NewDBPool(ctx, cfg.Database(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.DBPool = dbPool

	// 2. Store
	dbStore, err := store.New(ctx, dbPool, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize database store: %w", err)
		return nil, initializationErr
	}
	components.Store = dbStore
	logger.Debug("Store service initialized.")

	// 3. Message bus
	components.Bus = bus.New(logger, busBuffer)

	// The pipeline pump subscribes before any producer starts so no captured
	// activity is missed.
	components.pipelineChan, _ = components.Bus.Subscribe(bus.TypeEventBatch, bus.TypeNavigation)

	// 4. Capture and upload
	components.Recorder = behavior.NewRecorder(logger, components.Bus, cfg.Tracker())
	components.Uploader = upload.NewUploader(logger, components.Bus, dbStore, cfg.Uploader())
	logger.Debug("Recorder and uploader initialized.")

	// 5. Pattern stack: detectors, template library, learner, engine
	registry := detect.NewRegistry(logger)
	lib := library.New()
	components.Learner = learning.NewLearner(logger, components.Bus, dbStore, cfg.Learning())
	components.Engine = engine.New(logger, components.Bus, registry, lib, components.Learner, cfg.Matching())
	logger.Debug("Pattern stack initialized.")

	// 6. Suggestion arbiter
	components.Arbiter = suggest.NewArbiter(logger, components.Bus, cfg.Suggestions())

	// 7. Action executor
	components.Executor = action.NewExecutor(logger, components.Bus, cfg.Actions(), hooks)

	// 8. Engagement tracker
	components.Engagement = engagement.NewTracker(logger, components.Bus, dbStore, cfg.Engagement())
	logger.Debug("Suggestion surface initialized.")

	logger.Info("All pipeline components initialized successfully.")
	return components, nil
}
