// Package world merges turn outcomes into the accumulated GameState.
//
// The world prompt is copied through untouched. The current situation is
// rewritten every turn, the event log is a FIFO of MaxRecentEvents, and the
// seen-element set is deduplicated and bounded. Every evolved turn writes one
// entry to the archive ledger; Merge and Start defer that write to Archive so
// it can follow the commit of the session state.
package world

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tatianab/storyframe/internal/apperrors"
	"github.com/tatianab/storyframe/internal/models"
)

const (
	// SituationMaxWords bounds the rewritten situation.
	SituationMaxWords = 70
	// ExtractionMinWords is the situation length above which entities are extracted.
	ExtractionMinWords = 20
	// SummaryMaxWords bounds the per-turn summary in the event log.
	SummaryMaxWords = 16

	DefaultExtractionTimeout = 10 * time.Second
	DefaultSituationTimeout  = 30 * time.Second
)

// SituationRequest seeds a situation rewrite.
type SituationRequest struct {
	WorldPrompt string
	Previous    string
	Action      string
	Consequence string
	Vision      string
	MaxWords    int
}

// SituationWriter rewrites the current situation after a turn.
type SituationWriter interface {
	UpdateSituation(ctx context.Context, req SituationRequest) (string, error)
}

// EntityExtractor proposes candidate entity phrases from a situation.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, situation string) ([]string, error)
}

// Ledger is the append-only archive the accumulator writes to.
type Ledger interface {
	Append(ctx context.Context, entry models.ArchiveEntry) (models.ArchiveEntry, error)
}

// TurnOutcome is what a resolved turn contributes to the world.
type TurnOutcome struct {
	Turn        int
	Action      string
	Consequence string
	Vision      string
}

// Options tunes collaborator timeouts.
type Options struct {
	ExtractionTimeout time.Duration
	SituationTimeout  time.Duration
}

// Accumulator evolves GameState values. It holds no per-session state.
type Accumulator struct {
	writer    SituationWriter
	extractor EntityExtractor
	ledger    Ledger
	opts      Options
	log       zerolog.Logger
}

// NewAccumulator creates an Accumulator. Zero option fields take defaults.
func NewAccumulator(writer SituationWriter, extractor EntityExtractor, ledger Ledger, log zerolog.Logger, opts Options) *Accumulator {
	if opts.ExtractionTimeout <= 0 {
		opts.ExtractionTimeout = DefaultExtractionTimeout
	}
	if opts.SituationTimeout <= 0 {
		opts.SituationTimeout = DefaultSituationTimeout
	}
	return &Accumulator{
		writer:    writer,
		extractor: extractor,
		ledger:    ledger,
		opts:      opts,
		log:       log.With().Str("component", "world").Logger(),
	}
}

// Transition is a merged turn whose archive entry has not been written yet.
type Transition struct {
	State models.GameState
	Entry models.ArchiveEntry
}

// Genesis creates the turn-0 state for a new session from its world prompt
// and opening narrative, and archives it.
func (a *Accumulator) Genesis(ctx context.Context, sessionID, worldPrompt, opening, vision string) (models.GameState, error) {
	tr, err := a.Start(ctx, sessionID, worldPrompt, opening, vision)
	if err != nil {
		return models.GameState{}, err
	}
	if _, err := a.Archive(ctx, tr); err != nil {
		return models.GameState{}, err
	}
	return tr.State, nil
}

// Evolve merges one turn outcome into prev, archives it and returns the new
// state. prev is not modified. Collaborator failures degrade the result;
// only a ledger failure is returned as an error.
func (a *Accumulator) Evolve(ctx context.Context, sessionID string, prev models.GameState, out TurnOutcome) (models.GameState, error) {
	tr, err := a.Merge(ctx, sessionID, prev, out)
	if err != nil {
		return models.GameState{}, err
	}
	if _, err := a.Archive(ctx, tr); err != nil {
		return models.GameState{}, err
	}
	return tr.State, nil
}

// Start merges the opening of a new session without archiving it.
func (a *Accumulator) Start(ctx context.Context, sessionID, worldPrompt, opening, vision string) (Transition, error) {
	if strings.TrimSpace(worldPrompt) == "" {
		return Transition{}, apperrors.New(apperrors.CodeValidation, "world prompt must not be empty")
	}
	state := models.GameState{WorldPrompt: worldPrompt}
	return a.merge(ctx, sessionID, state, TurnOutcome{
		Turn:        0,
		Action:      "begin",
		Consequence: opening,
		Vision:      vision,
	}), nil
}

// Merge merges one turn outcome into prev without archiving it. Callers
// that commit the state elsewhere archive the transition once that commit
// succeeds.
func (a *Accumulator) Merge(ctx context.Context, sessionID string, prev models.GameState, out TurnOutcome) (Transition, error) {
	if !prev.Begun() {
		return Transition{}, apperrors.WrapWithMetadata(apperrors.CodeValidation, "evolve session",
			map[string]string{"session": sessionID}, fmt.Errorf("session has not begun"))
	}
	if out.Turn <= prev.TurnCount {
		return Transition{}, apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("turn %d does not advance past %d", out.Turn, prev.TurnCount))
	}
	return a.merge(ctx, sessionID, prev, out), nil
}

// Archive writes the ledger entry of tr.
func (a *Accumulator) Archive(ctx context.Context, tr Transition) (models.ArchiveEntry, error) {
	entry, err := a.ledger.Append(ctx, tr.Entry)
	if err != nil {
		a.log.Error().Err(err).Str("session", tr.Entry.SessionID).Int("turn", tr.Entry.GameTurn).Msg("archive append failed")
		return models.ArchiveEntry{}, apperrors.Storage("archive turn", err)
	}
	return entry, nil
}

func (a *Accumulator) merge(ctx context.Context, sessionID string, prev models.GameState, out TurnOutcome) Transition {
	log := a.log.With().Str("session", sessionID).Int("turn", out.Turn).Logger()

	next := prev.Clone()
	next.WorldPrompt = prev.WorldPrompt
	next.TurnCount = out.Turn

	next.CurrentSituation = a.situation(ctx, log, prev, out)
	next.RecentEvents = PushEvent(next.RecentEvents, fmt.Sprintf("Turn %d: %s", out.Turn, Summarize(out.Consequence, out.Action)))

	if len(strings.Fields(next.CurrentSituation)) > ExtractionMinWords {
		next.SeenElements = a.entities(ctx, log, next)
	}
	next.SeenElements = TrimSeen(next.SeenElements, out.Turn)

	return Transition{
		State: next,
		Entry: models.ArchiveEntry{
			SessionID:       sessionID,
			GameTurn:        out.Turn,
			Timestamp:       time.Now().UTC(),
			SituationBefore: prev.CurrentSituation,
			SituationAfter:  next.CurrentSituation,
			Action:          out.Action,
			Consequence:     out.Consequence,
			Vision:          out.Vision,
		},
	}
}

func (a *Accumulator) situation(ctx context.Context, log zerolog.Logger, prev models.GameState, out TurnOutcome) string {
	fallback := TruncateWords(out.Consequence, SituationMaxWords)
	if a.writer == nil {
		return fallback
	}

	sctx, cancel := context.WithTimeout(ctx, a.opts.SituationTimeout)
	defer cancel()
	text, err := a.writer.UpdateSituation(sctx, SituationRequest{
		WorldPrompt: prev.WorldPrompt,
		Previous:    prev.CurrentSituation,
		Action:      out.Action,
		Consequence: out.Consequence,
		Vision:      out.Vision,
		MaxWords:    SituationMaxWords,
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty situation")
	}
	if err != nil {
		log.Warn().Err(apperrors.Generation("update situation", err)).Msg("situation update failed, using consequence")
		return fallback
	}
	return TruncateWords(text, SituationMaxWords)
}

// entities runs extraction and merges accepted phrases. Any failure leaves
// the set unchanged.
func (a *Accumulator) entities(ctx context.Context, log zerolog.Logger, next models.GameState) []string {
	if a.extractor == nil {
		return next.SeenElements
	}

	ectx, cancel := context.WithTimeout(ctx, a.opts.ExtractionTimeout)
	defer cancel()

	type result struct {
		candidates []string
		err        error
	}
	done := make(chan result, 1)
	go func() {
		c, err := a.extractor.ExtractEntities(ectx, next.CurrentSituation)
		done <- result{c, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ectx.Done():
		res.err = ectx.Err()
	}
	if res.err != nil {
		log.Warn().Err(apperrors.Generation("extract entities", res.err)).Msg("entity extraction failed, no entities added")
		return next.SeenElements
	}

	accepted, rejected := NewEntityFilter(next.WorldPrompt).Accept(res.candidates)
	if len(rejected) > 0 {
		ev := log.Debug()
		for why, phrases := range rejected {
			ev = ev.Strs(why.String(), phrases)
		}
		ev.Msg("entity candidates rejected")
	}
	return MergeSeen(next.SeenElements, accepted)
}

// PushEvent appends event and drops the oldest entries beyond MaxRecentEvents.
func PushEvent(events []string, event string) []string {
	out := append(append([]string(nil), events...), event)
	if len(out) > models.MaxRecentEvents {
		out = out[len(out)-models.MaxRecentEvents:]
	}
	return out
}

// Summarize returns the first sentence of text capped at SummaryMaxWords,
// or fallback when text is blank.
func Summarize(text, fallback string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		text = strings.TrimSpace(fallback)
	}
	if i := strings.IndexAny(text, ".!?\n"); i > 0 {
		text = text[:i+1]
	}
	return TruncateWords(strings.TrimSpace(text), SummaryMaxWords)
}

// TruncateWords keeps the first max words of text.
func TruncateWords(text string, max int) string {
	words := strings.Fields(text)
	if len(words) <= max {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:max], " ") + "..."
}
