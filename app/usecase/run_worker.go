package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"umlgen/internal/domain/entity"
	"umlgen/internal/domain/repository"
)

// RunWorker polls pending runs and pushes them through the pipeline.
type RunWorker struct {
	runsRepo repository.RunRepository
	pipeline PipelineUsecase
	logger   *slog.Logger

	pollInterval time.Duration
	runTimeout   time.Duration

	// control
	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

func NewRunWorker(
	rr repository.RunRepository,
	pipeline PipelineUsecase,
	pollInterval time.Duration,
	runTimeout time.Duration,
	logger *slog.Logger,
) *RunWorker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	return &RunWorker{
		runsRepo:     rr,
		pipeline:     pipeline,
		logger:       logger,
		pollInterval: pollInterval,
		runTimeout:   runTimeout,
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

func (w *RunWorker) Start(ctx context.Context) {
	go func() {
		defer close(w.stopped)
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		w.logger.Info("RunWorker started", "interval", w.pollInterval)

		if err := w.runOnce(ctx); err != nil {
			w.logger.Warn("initial runOnce failed", "err", err)
		}

		for {
			select {
			case <-ctx.Done():
				w.logger.Info("RunWorker context canceled")
				return
			case <-w.stop:
				w.logger.Info("RunWorker stopped by Stop()")
				return
			case <-ticker.C:
				if err := w.runOnce(ctx); err != nil {
					w.logger.Warn("runOnce failed", "err", err)
				}
			}
		}
	}()
}

// Stop waits for the poll loop to exit. It must follow Start.
func (w *RunWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
	w.logger.Info("RunWorker fully stopped")
}

func (w *RunWorker) runOnce(ctx context.Context) error {
	runs, err := w.runsRepo.ListByStatus(ctx, entity.RunStatusPending)
	if err != nil {
		return fmt.Errorf("list pending runs: %w", err)
	}
	if len(runs) == 0 {
		return nil
	}

	w.logger.Debug("found pending runs", "count", len(runs))

	for _, run := range runs {
		select {
		case <-w.stop:
			return nil
		default:
		}

		claimed, err := w.runsRepo.TransitionStatus(ctx, run.ID, entity.RunStatusPending, entity.RunStatusRunning)
		if err != nil {
			w.logger.Warn("claim run failed", "run_id", run.ID, "err", err)
			continue
		}
		if !claimed {
			w.logger.Debug("run already claimed", "run_id", run.ID)
			continue
		}
		run.UpdateStatus(entity.RunStatusRunning)

		procCtx, cancel := context.WithTimeout(ctx, w.runTimeout)
		func() {
			defer cancel()
			if err := w.pipeline.Execute(procCtx, run); err != nil {
				w.logger.Error("run failed", "run_id", run.ID, "err", err)
			}
		}()
	}

	return nil
}
