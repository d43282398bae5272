package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"umlgen/app/config"
	"umlgen/app/usecase"
	"umlgen/internal/domain/repository"
	"umlgen/internal/infrastructure/llm"
	"umlgen/internal/infrastructure/plantuml"
	"umlgen/internal/infrastructure/store/filesystem"
	mongorepo "umlgen/internal/infrastructure/store/mongodb"
	"umlgen/internal/streaming"
	"umlgen/internal/tools"
)

type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *filesystem.DiagramStore
	runsRepo repository.RunRepository
	hub      *streaming.MemoryHub
	pipeline *usecase.PipelineService
	runs     *usecase.RunService

	closers []func(context.Context) error
}

func wireApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, hub: streaming.NewMemoryHub()}

	naming, err := filesystem.ParseNaming(cfg.Renderer.Naming)
	if err != nil {
		return nil, err
	}
	a.store, err = filesystem.NewDiagramStore(cfg.Storage.OutputDir, cfg.Storage.URLPrefix, naming)
	if err != nil {
		return nil, fmt.Errorf("init diagram store: %w", err)
	}

	if err := a.wireRunRepository(ctx); err != nil {
		return nil, err
	}

	renderer, err := newRenderer(cfg.Renderer, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	renderTool, err := tools.NewRenderTool(renderer, a.store, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	registry, err := tools.NewRegistry(renderTool)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	models, err := newModels(cfg.LLM)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	prompts, err := config.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.pipeline = usecase.NewPipelineService(models, registry, a.store, a.runsRepo, prompts, a.hub, logger)
	a.runs = usecase.NewRunService(a.runsRepo, a.store, logger)

	logger.Info("components wired",
		"llm_provider", cfg.LLM.Provider,
		"model", models.Generator.Name(),
		"critic_model", models.Critic.Name(),
		"renderer", renderer.Name(),
		"naming", string(naming),
		"runs_backend", cfg.Storage.RunsBackend,
	)
	return a, nil
}

func (a *app) wireRunRepository(ctx context.Context) error {
	if !strings.EqualFold(a.cfg.Storage.RunsBackend, config.RunsMongo) {
		repo, err := filesystem.NewRunRepository(a.cfg.Storage.RunsDir)
		if err != nil {
			return fmt.Errorf("init run repository: %w", err)
		}
		a.runsRepo = repo
		return nil
	}

	mongoCtx, mongoCancel := context.WithTimeout(ctx, 10*time.Second)
	defer mongoCancel()
	mongoClient, err := mongo.Connect(mongoCtx, options.Client().ApplyURI(a.cfg.Mongo.URI))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	if err := mongoClient.Ping(mongoCtx, nil); err != nil {
		_ = mongoClient.Disconnect(context.Background())
		return fmt.Errorf("mongo ping: %w", err)
	}
	a.logger.Info("connected to mongo", "database", a.cfg.Mongo.Database)

	a.runsRepo = mongorepo.NewMongoRunRepo(mongoClient.Database(a.cfg.Mongo.Database), a.logger)
	a.closers = append(a.closers, func(ctx context.Context) error {
		a.logger.Info("disconnecting mongo")
		return mongoClient.Disconnect(ctx)
	})
	return nil
}

func newRenderer(cfg config.RendererConfig, logger *slog.Logger) (repository.Renderer, error) {
	if strings.EqualFold(cfg.Backend, config.RendererLocal) {
		r, err := plantuml.NewLocalRenderer(cfg.Command, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return plantuml.NewHTTPRenderer(cfg.ServerURL, cfg.Timeout, logger), nil
}

// newModels builds the generator client and, when a distinct critic model is
// configured, a second client for the critic. The renderer shares the
// generator client.
func newModels(cfg config.LLMConfig) (usecase.Models, error) {
	base := llm.Config{
		Provider:  cfg.Provider,
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Timeout:   cfg.Timeout,
	}
	generator, err := llm.New(base)
	if err != nil {
		return usecase.Models{}, fmt.Errorf("init generator model: %w", err)
	}

	models := usecase.Models{Generator: generator, Critic: generator, Renderer: generator}
	if cfg.CriticModel != "" && cfg.CriticModel != cfg.Model {
		criticCfg := base
		criticCfg.Model = cfg.CriticModel
		critic, err := llm.New(criticCfg)
		if err != nil {
			return usecase.Models{}, fmt.Errorf("init critic model: %w", err)
		}
		models.Critic = critic
	}
	return models, nil
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
