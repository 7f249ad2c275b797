package main

import (
	"github.com/opensource-finance/prudence/internal/breakdown"
	"github.com/opensource-finance/prudence/internal/bus"
	"github.com/opensource-finance/prudence/internal/cache"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/formula"
	"github.com/opensource-finance/prudence/internal/ranking"
	"github.com/opensource-finance/prudence/internal/repository"
	"github.com/opensource-finance/prudence/internal/scoring"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// app holds the wired engine shared by every subcommand.
type app struct {
	repo         *repository.SQLRepository
	cache        domain.Cache
	bus          domain.EventBus
	registry     *formula.Registry
	recorder     *breakdown.Recorder
	orchestrator *scoring.Orchestrator
	ranking      *ranking.Service
}

func newApp(cfg *domain.Config) (*app, error) {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, eris.Wrap(err, "init repository")
	}
	zap.L().Info("prudence: repository initialized", zap.String("driver", cfg.Repository.Driver))

	c, err := cache.New(cfg.Cache)
	if err != nil {
		repo.Close()
		return nil, eris.Wrap(err, "init cache")
	}
	zap.L().Info("prudence: cache initialized", zap.String("type", cfg.Cache.Type))

	b, err := bus.New(cfg.EventBus)
	if err != nil {
		c.Close()
		repo.Close()
		return nil, eris.Wrap(err, "init event bus")
	}
	zap.L().Info("prudence: event bus initialized", zap.String("type", cfg.EventBus.Type))

	registry := formula.NewRegistry(repo, c, cfg.Cache.FormulaTTL)
	recorder := breakdown.NewRecorder(repo)

	return &app{
		repo:         repo,
		cache:        c,
		bus:          b,
		registry:     registry,
		recorder:     recorder,
		orchestrator: scoring.New(repo, registry, recorder, b, c, cfg.Scoring),
		ranking:      ranking.NewService(repo, c, cfg.Cache.LocalTTL),
	}, nil
}

// Close releases the bus, cache and repository in reverse order of creation.
func (a *app) Close() {
	if err := a.bus.Close(); err != nil {
		zap.L().Warn("prudence: close event bus", zap.Error(err))
	}
	if err := a.cache.Close(); err != nil {
		zap.L().Warn("prudence: close cache", zap.Error(err))
	}
	if err := a.repo.Close(); err != nil {
		zap.L().Warn("prudence: close repository", zap.Error(err))
	}
}
