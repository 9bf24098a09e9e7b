package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tatianab/storyframe/internal/archive"
	"github.com/tatianab/storyframe/internal/assets"
	"github.com/tatianab/storyframe/internal/config"
	"github.com/tatianab/storyframe/internal/engine"
	"github.com/tatianab/storyframe/internal/frames"
	"github.com/tatianab/storyframe/internal/gemini"
	"github.com/tatianab/storyframe/internal/session"
	"github.com/tatianab/storyframe/internal/telemetry"
	"github.com/tatianab/storyframe/internal/world"
)

// app holds the wired pipeline for one command invocation.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    session.Store
	ledger   *archive.Ledger
	client   *gemini.Client
	engine   *engine.Engine
	shutdown func(context.Context) error
}

// openApp wires storage and the engine. Without generation the engine can
// only read, list and reset sessions.
func openApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, generation bool) (*app, error) {
	a := &app{cfg: cfg, log: log, shutdown: func(context.Context) error { return nil }}
	ok := false
	defer func() {
		if !ok {
			_ = a.close(ctx)
		}
	}()

	shutdown, err := telemetry.Setup(ctx, cfg.OTELEndpoint)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	a.shutdown = shutdown

	a.store, err = session.NewStore(ctx, session.StoreType(cfg.SessionBackend),
		session.WithDir(cfg.SaveDir),
		session.WithRedisURL(cfg.RedisURL),
	)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	a.ledger, err = archive.Open(ctx, cfg.ArchivePath)
	if err != nil {
		return nil, err
	}

	deps := engine.Deps{
		Store:    a.store,
		Selector: frames.NewSelector(frames.Backend(cfg.ImageBackend), cfg.ExpensiveCost),
		Assets:   assets.NewStore(cfg.SaveDir),
		Resetter: a.ledger,
	}

	if generation {
		if err := cfg.RequireAPIKey(); err != nil {
			return nil, err
		}
		a.client, err = gemini.NewClient(ctx, gemini.Options{
			APIKey:         cfg.GeminiAPIKey,
			TextModel:      cfg.TextModel,
			ImageModel:     cfg.ImageModel,
			GridModel:      cfg.GridModel,
			Permissiveness: cfg.Permissiveness,
		}, log)
		if err != nil {
			return nil, err
		}
		deps.Narrator = a.client
		deps.Choices = a.client
		deps.Illustrator = a.client
		deps.Analyzer = a.client
		deps.World = world.NewAccumulator(a.client, a.client, a.ledger, log, world.Options{
			ExtractionTimeout: cfg.ExtractionTimeout,
			SituationTimeout:  cfg.NarrativeTimeout,
		})
	}

	a.engine = engine.NewEngine(deps, engine.Options{
		DefaultSession:   cfg.DefaultSession,
		DecisionTimeout:  cfg.DecisionTimeout,
		NarrativeTimeout: cfg.NarrativeTimeout,
		ImageTimeout:     cfg.ImageTimeout,
		CostCeiling:      cfg.CostCeiling,
	}, log)

	ok = true
	return a, nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.shutdown(ctx))
	return errors.Join(errs...)
}
