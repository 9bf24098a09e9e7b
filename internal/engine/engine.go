// Package engine runs the turn pipeline.
//
// A turn resolves its narrative synchronously, merges it into the world
// state and then generates the image and the next choices concurrently. The
// session lease is held from the start of a turn until its history entry is
// persisted, so turns of one session never overlap while different sessions
// run in parallel.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tatianab/storyframe/internal/apperrors"
	"github.com/tatianab/storyframe/internal/assets"
	"github.com/tatianab/storyframe/internal/frames"
	"github.com/tatianab/storyframe/internal/models"
	"github.com/tatianab/storyframe/internal/session"
	"github.com/tatianab/storyframe/internal/world"
)

const (
	// HesitationAction is submitted when no decision arrives before the deadline.
	HesitationAction = "Hesitate, unsure what to do, as the moment slips past"

	// WorldPromptMinWords is the hint length from which a hint is used as the
	// world prompt as is.
	WorldPromptMinWords = 25

	recentHistory = 3
)

// FallbackChoices replace bespoke choices when the choice writer fails twice.
var FallbackChoices = []string{"Look around carefully", "Press forward", "Hold still and listen"}

// Options tunes the pipeline.
type Options struct {
	DefaultSession   string
	DecisionTimeout  time.Duration
	NarrativeTimeout time.Duration
	ImageTimeout     time.Duration
	CostCeiling      float64
	ChoiceCount      int
}

// DefaultOptions returns the pipeline defaults.
func DefaultOptions() Options {
	return Options{
		DefaultSession:   "default",
		DecisionTimeout:  90 * time.Second,
		NarrativeTimeout: 60 * time.Second,
		ImageTimeout:     120 * time.Second,
		CostCeiling:      2.00,
		ChoiceCount:      3,
	}
}

// Deps are the engine's collaborators. Analyzer and Resetter may be nil.
type Deps struct {
	Store       session.Store
	World       *world.Accumulator
	Selector    *frames.Selector
	Assets      *assets.Store
	Narrator    Narrator
	Choices     ChoiceWriter
	Illustrator Illustrator
	Analyzer    Analyzer
	Resetter    Resetter
}

// Engine drives turns for any number of sessions.
type Engine struct {
	deps   Deps
	opts   Options
	log    zerolog.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	meters map[string]*frames.Meter
}

// NewEngine creates an Engine.
func NewEngine(deps Deps, opts Options, log zerolog.Logger) *Engine {
	def := DefaultOptions()
	if opts.DefaultSession == "" {
		opts.DefaultSession = def.DefaultSession
	}
	if opts.DecisionTimeout <= 0 {
		opts.DecisionTimeout = def.DecisionTimeout
	}
	if opts.NarrativeTimeout <= 0 {
		opts.NarrativeTimeout = def.NarrativeTimeout
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = def.ImageTimeout
	}
	if opts.ChoiceCount <= 0 {
		opts.ChoiceCount = def.ChoiceCount
	}
	return &Engine{
		deps:   deps,
		opts:   opts,
		log:    log.With().Str("component", "engine").Logger(),
		tracer: otel.Tracer("github.com/tatianab/storyframe/internal/engine"),
		meters: make(map[string]*frames.Meter),
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// SessionID resolves a possibly blank id to the default session.
func (e *Engine) SessionID(id string) string {
	return session.Resolve(id, e.opts.DefaultSession)
}

// Begin plays the intro turn of a new session. A hint of WorldPromptMinWords
// words or more is used as the world prompt; a shorter one seeds a generated
// world.
func (e *Engine) Begin(ctx context.Context, sessionID, hint string) (*Turn, error) {
	id := e.SessionID(sessionID)
	if err := session.CheckID(id); err != nil {
		return nil, err
	}
	release, err := e.deps.Store.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}

	t, run, err := e.begin(ctx, id, hint)
	if err != nil {
		release()
		return nil, err
	}
	go run(context.WithoutCancel(ctx), release)
	return t, nil
}

// Submit resolves a player action. It returns once the narrative is resolved
// and the world state saved; the image and choices follow on the Turn.
func (e *Engine) Submit(ctx context.Context, sessionID, action string) (*Turn, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "action must not be empty")
	}
	return e.submit(ctx, sessionID, action, false)
}

// Hesitate plays the timeout path: a default action through the same pipeline.
func (e *Engine) Hesitate(ctx context.Context, sessionID string) (*Turn, error) {
	return e.submit(ctx, sessionID, HesitationAction, true)
}

// Decide waits for a decision on decisions until the decision deadline, then
// submits it, or hesitates when the deadline passes or decisions is closed.
func (e *Engine) Decide(ctx context.Context, sessionID string, decisions <-chan string) (*Turn, error) {
	timer := time.NewTimer(e.opts.DecisionTimeout)
	defer timer.Stop()

	select {
	case action, ok := <-decisions:
		if !ok || strings.TrimSpace(action) == "" {
			return e.Hesitate(ctx, sessionID)
		}
		return e.Submit(ctx, sessionID, action)
	case <-timer.C:
		e.log.Info().Str("session", e.SessionID(sessionID)).Msg("decision deadline passed, hesitating")
		return e.Hesitate(ctx, sessionID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) submit(ctx context.Context, sessionID, action string, timedOut bool) (*Turn, error) {
	id := e.SessionID(sessionID)
	if err := session.CheckID(id); err != nil {
		return nil, err
	}
	release, err := e.deps.Store.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}

	t, run, err := e.resolve(ctx, id, action, timedOut)
	if err != nil {
		release()
		return nil, err
	}
	go run(context.WithoutCancel(ctx), release)
	return t, nil
}

// Reset clears a session's state, history and images. The archive keeps its
// entries and starts a new epoch.
func (e *Engine) Reset(ctx context.Context, sessionID string) error {
	id := e.SessionID(sessionID)
	if err := session.CheckID(id); err != nil {
		return err
	}
	release, err := e.deps.Store.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if err := e.deps.Store.Reset(ctx, id); err != nil {
		return err
	}
	if e.deps.Assets != nil {
		if err := e.deps.Assets.Clear(id); err != nil {
			return apperrors.Storage("clear session images", err)
		}
	}
	if e.deps.Resetter != nil {
		if err := e.deps.Resetter.MarkReset(ctx, id); err != nil {
			return err
		}
	}

	e.mu.Lock()
	delete(e.meters, id)
	e.mu.Unlock()

	e.log.Info().Str("session", id).Msg("session reset")
	return nil
}

// Snapshot is a read-only view of a session for front-ends.
type Snapshot struct {
	Session string
	State   models.GameState
	History []models.HistoryEntry
	Spent   float64
	Version int64
}

// Snapshot returns the stored state and history of a session.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	id := e.SessionID(sessionID)
	rec, err := e.deps.Store.Load(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	history, err := e.deps.Store.History(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Session: id,
		State:   rec.State,
		History: history,
		Spent:   rec.Spent,
		Version: rec.Version,
	}, nil
}

// Sessions lists stored sessions.
func (e *Engine) Sessions(ctx context.Context) ([]string, error) {
	return e.deps.Store.List(ctx)
}

func (e *Engine) meter(id string, spent float64) *frames.Meter {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.meters[id]
	if !ok {
		m = frames.NewMeter(e.opts.CostCeiling, spent)
		e.meters[id] = m
	}
	return m
}

func (e *Engine) span(ctx context.Context, name string, t *Turn) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("session", t.Session),
		attribute.Int("turn", t.Number),
	))
}

func turnLogger(log zerolog.Logger, t *Turn) zerolog.Logger {
	return log.With().Str("session", t.Session).Int("turn", t.Number).Logger()
}

func notBegun(id string) error {
	return apperrors.WrapWithMetadata(apperrors.CodeValidation, "resolve turn",
		map[string]string{"session": id}, fmt.Errorf("session %q has not begun", id))
}
