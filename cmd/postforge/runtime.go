package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"postforge/internal/classify"
	"postforge/internal/config"
	"postforge/internal/lease"
	"postforge/internal/notifications"
	"postforge/internal/objectstore"
	"postforge/internal/pipeline"
	"postforge/internal/retry"
	"postforge/internal/services/imagegen"
	"postforge/internal/services/llm"
	"postforge/internal/stages"
	"postforge/internal/workflow"
)

// pipelineRuntime holds the collaborators shared by every command that talks
// to the object store.
type pipelineRuntime struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    objectstore.Backend
	engine   *pipeline.Engine
	stages   []*pipeline.Stage
	notifier notifications.Service
}

// openRuntime connects to the configured store and builds the requested
// stages (the enabled ones when ids is empty).
func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, ids ...string) (*pipelineRuntime, error) {
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	classifier, err := classify.FromConfig(cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("load classifier rules: %w", err)
	}
	store, err := objectstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}

	clock := retry.System()
	notifier := notifications.NewService(cfg)
	engine, err := pipeline.NewEngine(pipeline.Options{
		Store:      store,
		Classifier: classifier,
		Notifier:   notifier,
		Platforms:  cfg.Pipeline.Platforms,
		Policy:     retry.PolicyFromConfig(cfg.Retry),
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	svc := stages.Services{
		Store:  store,
		Images: imagegen.FromConfig(cfg, clock, logger),
		Now:    clock.Now,
		Logger: logger,
	}
	if cfg.LLM.APIKey != "" {
		svc.LLM = llm.FromConfig(cfg, clock)
	}
	built, err := stages.Build(cfg, svc, ids...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if len(built) == 0 {
		_ = store.Close()
		return nil, errors.New("no stages enabled; enable one under [stages] or pass --stage")
	}

	return &pipelineRuntime{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		engine:   engine,
		stages:   built,
		notifier: notifier,
	}, nil
}

func (r *pipelineRuntime) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}

func (r *pipelineRuntime) stage(id string) (*pipeline.Stage, error) {
	for _, st := range r.stages {
		if st.ID == id {
			return st, nil
		}
	}
	return nil, fmt.Errorf("stage %q is not configured", id)
}

func (r *pipelineRuntime) manager(leases *lease.Provider) (*workflow.Manager, error) {
	return workflow.NewManager(workflow.Options{
		Engine:     r.engine,
		Stages:     r.stages,
		Leases:     leases,
		Notifier:   r.notifier,
		Logger:     r.logger,
		ErrorRetry: workflow.ErrorRetryFromConfig(r.cfg.Workflow),
	})
}
