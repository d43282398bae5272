package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"umlgen/internal/agents"
	"umlgen/internal/domain/entity"
	"umlgen/internal/domain/repository"
	"umlgen/internal/infrastructure/metrics"
	"umlgen/internal/runtime"
	"umlgen/internal/streaming"
	"umlgen/internal/tools"
)

var ErrNoResult = errors.New("pipeline produced no render result")

type PipelineUsecase interface {
	Generate(ctx context.Context, requirement string, mode entity.Mode) (*entity.Run, error)
	Execute(ctx context.Context, run *entity.Run) error
}

var _ PipelineUsecase = (*PipelineService)(nil)

// Models are the chat models of the three agents. Critic and Renderer fall
// back to Generator when nil.
type Models struct {
	Generator repository.ChatModel
	Critic    repository.ChatModel
	Renderer  repository.ChatModel
}

type PipelineService struct {
	models   Models
	registry *tools.Registry
	store    repository.DiagramStore
	runsRepo repository.RunRepository
	prompts  entity.PromptSet
	hub      streaming.EventHub
	logger   *slog.Logger
}

func NewPipelineService(
	models Models,
	registry *tools.Registry,
	store repository.DiagramStore,
	rr repository.RunRepository,
	prompts entity.PromptSet,
	hub streaming.EventHub,
	logger *slog.Logger,
) *PipelineService {
	if models.Critic == nil {
		models.Critic = models.Generator
	}
	if models.Renderer == nil {
		models.Renderer = models.Generator
	}
	if hub == nil {
		hub = streaming.Nop{}
	}
	return &PipelineService{
		models:   models,
		registry: registry,
		store:    store,
		runsRepo: rr,
		prompts:  prompts.Merge(entity.DefaultPrompts()),
		hub:      hub,
		logger:   logger,
	}
}

// Generate runs the whole pipeline for one requirement and returns the
// stored run. A failed run is still stored and returned with the error.
func (s *PipelineService) Generate(ctx context.Context, requirement string, mode entity.Mode) (*entity.Run, error) {
	if _, err := entity.NewGenerationRequest("", requirement, mode); err != nil {
		return nil, err
	}

	// stored as running so the RunWorker never picks it up
	run := entity.NewRun(requirement, mode)
	run.UpdateStatus(entity.RunStatusRunning)
	if err := s.runsRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	metrics.IncRunsCreated()

	if err := s.Execute(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// Execute pushes an already stored run through the agents and saves the
// outcome on it.
func (s *PipelineService) Execute(ctx context.Context, run *entity.Run) error {
	start := time.Now()
	logger := s.logger.With("run_id", run.ID, "mode", run.Mode.String())

	run.UpdateStatus(entity.RunStatusRunning)
	metrics.IncRunStatusChange(string(entity.RunStatusRunning))
	if err := s.runsRepo.Update(ctx, run); err != nil {
		logger.Warn("failed to mark run running", "err", err)
	}
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()
	s.emit(ctx, run, streaming.EventRunStarted, nil)

	logger.Info("start processing run")

	result, err := s.process(ctx, run)
	if err != nil {
		run.Fail(err)
		metrics.IncRunStatusChange(string(entity.RunStatusFailed))
		metrics.ObserveRunDuration(run.Mode.String(), "failed", time.Since(start))
		metrics.IncError("pipeline", "run_failed")
		s.emit(ctx, run, streaming.EventRunFailed, map[string]string{"error": err.Error()})
		logger.Error("run failed", "err", err, "duration", time.Since(start))

		if uerr := s.runsRepo.Update(context.WithoutCancel(ctx), run); uerr != nil {
			logger.Warn("failed to store failed run", "err", uerr)
		}
		return err
	}

	run.Complete(result)
	metrics.IncRunStatusChange(string(entity.RunStatusCompleted))
	metrics.ObserveRunDuration(run.Mode.String(), "completed", time.Since(start))
	s.emit(ctx, run, streaming.EventRunCompleted, run.Diagrams)

	if err := s.runsRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("store run result: %w", err)
	}

	logger.Info("run processed", "diagrams", len(run.Diagrams), "duration", time.Since(start))
	return nil
}

// process builds a runtime private to this run so concurrent requests never
// share handler state.
func (s *PipelineService) process(ctx context.Context, run *entity.Run) (entity.RenderResult, error) {
	req, err := entity.NewGenerationRequest(run.ID, run.Requirement, run.Mode)
	if err != nil {
		return entity.RenderResult{}, err
	}

	rt := runtime.New(run.ID, s.hub, s.logger)
	defer rt.Close()

	collector := agents.NewCollector()
	registrations := map[runtime.Topic]runtime.Factory{
		runtime.TopicGenerator: func() runtime.Handler {
			return agents.NewGenerator(s.models.Generator, s.prompts.Generator, s.logger)
		},
		runtime.TopicCritic: func() runtime.Handler {
			return agents.NewCritic(s.models.Critic, s.prompts.Critic, s.logger)
		},
		runtime.TopicRenderer: func() runtime.Handler {
			return agents.NewRenderer(s.models.Renderer, s.registry, s.prompts.Renderer, s.hub, s.logger)
		},
		runtime.TopicResult: func() runtime.Handler { return collector },
	}
	for topic, factory := range registrations {
		if err := rt.Register(topic, factory); err != nil {
			return entity.RenderResult{}, err
		}
	}

	if err := rt.Publish(ctx, runtime.TopicGenerator, req); err != nil {
		return entity.RenderResult{}, fmt.Errorf("publish generation request: %w", err)
	}
	if err := rt.Run(ctx); err != nil {
		return entity.RenderResult{}, err
	}

	result, ok := collector.Result()
	if !ok {
		return entity.RenderResult{}, ErrNoResult
	}
	for i, d := range result.Diagrams {
		if d.Path != "" {
			result.Diagrams[i].URL = s.store.URL(d.Path)
		}
	}
	return result, nil
}

func (s *PipelineService) emit(ctx context.Context, run *entity.Run, eventType string, payload any) {
	_ = s.hub.Publish(context.WithoutCancel(ctx), streaming.Event{
		RunID:     run.ID,
		EventType: eventType,
		Payload:   payload,
		At:        time.Now().UTC(),
	})
}
