package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/tatianab/storyframe/internal/apperrors"
	"github.com/tatianab/storyframe/internal/frames"
	"github.com/tatianab/storyframe/internal/models"
	"github.com/tatianab/storyframe/internal/session"
	"github.com/tatianab/storyframe/internal/world"
)

// runFunc finishes a resolved turn in the background and releases the
// session lease when the turn is persisted.
type runFunc func(ctx context.Context, release func())

func (e *Engine) begin(ctx context.Context, id, hint string) (*Turn, runFunc, error) {
	rec, err := e.deps.Store.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if rec.State.Begun() {
		return nil, nil, apperrors.WrapWithMetadata(apperrors.CodeValidation, "begin session",
			map[string]string{"session": id}, fmt.Errorf("session %q already begun, reset it first", id))
	}

	t := newTurn(id, 0, "begin", false)
	log := turnLogger(e.log, t)
	t.onPhase = phaseLogger(log)
	ctx, span := e.span(ctx, "turn.begin", t)
	defer span.End()

	worldPrompt := strings.TrimSpace(hint)
	if len(strings.Fields(worldPrompt)) < WorldPromptMinWords {
		worldPrompt, err = retryOnce(ctx, log, "generate world", e.opts.NarrativeTimeout, func(ctx context.Context) (string, error) {
			text, err := e.deps.Narrator.GenerateWorld(ctx, hint)
			if err == nil && strings.TrimSpace(text) == "" {
				err = fmt.Errorf("empty world prompt")
			}
			return strings.TrimSpace(text), err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "generate world")
			return nil, nil, err
		}
	}

	narrative, err := e.narrate(ctx, log, func(ctx context.Context) (Narrative, error) {
		return e.deps.Narrator.Opening(ctx, worldPrompt)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "opening")
		return nil, nil, err
	}

	tr, err := e.deps.World.Start(ctx, id, worldPrompt, narrative.Text, "")
	if err != nil {
		return nil, nil, err
	}

	t.Narrative = narrative
	t.State = tr.State
	t.advance(PhaseNarrativeResolved)
	return t, e.runner(t, rec, tr, nil), nil
}

func (e *Engine) resolve(ctx context.Context, id, action string, timedOut bool) (*Turn, runFunc, error) {
	rec, err := e.deps.Store.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !rec.State.Begun() {
		return nil, nil, notBegun(id)
	}
	history, err := e.deps.Store.History(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	t := newTurn(id, rec.State.TurnCount+1, action, timedOut)
	log := turnLogger(e.log, t)
	t.onPhase = phaseLogger(log)
	ctx, span := e.span(ctx, "turn.narrative", t)
	defer span.End()

	var vision string
	if n := len(history); n > 0 {
		vision = history[n-1].Vision
	}
	recent := history
	if len(recent) > recentHistory {
		recent = recent[len(recent)-recentHistory:]
	}

	narrative, err := e.narrate(ctx, log, func(ctx context.Context) (Narrative, error) {
		return e.deps.Narrator.Continue(ctx, NarrativeRequest{
			State:    rec.State,
			Recent:   recent,
			Action:   action,
			Vision:   vision,
			TimedOut: timedOut,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "narrative")
		return nil, nil, err
	}

	tr, err := e.deps.World.Merge(ctx, id, rec.State, world.TurnOutcome{
		Turn:        t.Number,
		Action:      action,
		Consequence: narrative.Text,
		Vision:      vision,
	})
	if err != nil {
		return nil, nil, err
	}

	t.Narrative = narrative
	t.State = tr.State
	t.advance(PhaseNarrativeResolved)
	return t, e.runner(t, rec, tr, history), nil
}

func (e *Engine) narrate(ctx context.Context, log zerolog.Logger, call func(context.Context) (Narrative, error)) (Narrative, error) {
	return retryOnce(ctx, log, "generate narrative", e.opts.NarrativeTimeout, func(ctx context.Context) (Narrative, error) {
		n, err := call(ctx)
		if err == nil && strings.TrimSpace(n.Text) == "" {
			err = fmt.Errorf("empty narrative")
		}
		return n, err
	})
}

func (e *Engine) runner(t *Turn, rec *session.Record, tr world.Transition, history []models.HistoryEntry) runFunc {
	return func(ctx context.Context, release func()) {
		defer release()
		ctx, span := e.span(ctx, "turn.finish", t)
		defer span.End()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			t.setImage(e.runImage(gctx, t, rec.Spent, history))
			return nil
		})
		g.Go(func() error {
			t.setChoices(e.runChoices(gctx, t))
			return nil
		})
		_ = g.Wait()

		out, err := e.persist(ctx, t, rec, tr)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "persist")
		}
		t.complete(out, err)
	}
}

func (e *Engine) runImage(ctx context.Context, t *Turn, spent float64, history []models.HistoryEntry) ImageResult {
	t.advance(PhaseImageRequested)
	ctx, span := e.span(ctx, "turn.image", t)
	defer span.End()
	log := turnLogger(e.log, t)

	transition := frames.Classify(t.Action)
	sel := e.deps.Selector.Select(history, t.Number, transition, e.meter(t.Session, spent))
	if sel.Override {
		log.Debug().Msg("frame 1 keeps continuity despite hard transition")
	}
	if sel.BudgetExceeded {
		log.Info().Msg("cost ceiling reached, using cheap generator")
	}

	req := ImageRequest{
		Prompt:      imagePrompt(t.Narrative),
		WorldPrompt: t.State.WorldPrompt,
		Strength:    sel.Strength,
		Mode:        sel.Mode,
		Generator:   sel.Generator,
		Instruction: sel.Instruction,
	}
	for _, ref := range sel.References {
		data, mime, err := e.deps.Assets.Read(ref.Path())
		if err != nil {
			log.Warn().Err(err).Int("ref_turn", ref.Turn()).Msg("reference frame unreadable, skipping")
			continue
		}
		req.References = append(req.References, ImageReference{
			Data:     data,
			MIMEType: mime,
			Weight:   ref.Weight(),
			Role:     ref.Role(),
			Turn:     ref.Turn(),
		})
	}
	if len(req.References) == 0 && req.Mode == frames.ImageToImage {
		req.Mode = frames.TextToImage
	}

	img, err := e.illustrate(ctx, req)
	if sel.Generator == frames.Expensive {
		if err == nil {
			sel.Reservation.Commit()
		} else {
			sel.Reservation.Release()
			log.Warn().Err(err).Msg("expensive generator failed, falling back to cheap")
			req.Generator = frames.Cheap
			req.Mode = frames.ImageToImage
			if len(req.References) == 0 {
				req.Mode = frames.TextToImage
			}
			img, err = e.illustrate(ctx, req)
		}
	}

	res := ImageResult{Prompt: req.Prompt, Mode: req.Mode, Generator: req.Generator}
	if err != nil {
		res.Err = apperrors.Generation("generate image", err)
		log.Warn().Err(res.Err).Msg("image generation failed")
		span.RecordError(res.Err)
		return res
	}
	if img.Prompt != "" {
		res.Prompt = img.Prompt
	}

	frame, err := e.deps.Assets.SaveFrame(t.Session, t.Number, img.Data, img.Grid)
	if err != nil {
		res.Err = apperrors.Storage("save frame", err)
		log.Warn().Err(res.Err).Msg("image could not be stored")
		return res
	}
	res.Frame = frame
	res.Vision = e.describe(ctx, log, frame)
	return res
}

func (e *Engine) illustrate(ctx context.Context, req ImageRequest) (Image, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.ImageTimeout)
	defer cancel()
	img, err := e.deps.Illustrator.Illustrate(ctx, req)
	if err == nil && len(img.Data) == 0 {
		err = fmt.Errorf("no image data returned")
	}
	return img, err
}

func (e *Engine) describe(ctx context.Context, log zerolog.Logger, frame *models.FrameReference) string {
	if e.deps.Analyzer == nil {
		return ""
	}
	data, mime, err := e.deps.Assets.Read(frame.Full)
	if err != nil {
		log.Warn().Err(err).Msg("frame unreadable for vision analysis")
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.NarrativeTimeout)
	defer cancel()
	text, err := e.deps.Analyzer.Describe(ctx, data, mime)
	if err != nil {
		log.Warn().Err(apperrors.Generation("describe frame", err)).Msg("vision analysis failed")
		return ""
	}
	return strings.TrimSpace(text)
}

func (e *Engine) runChoices(ctx context.Context, t *Turn) ChoiceResult {
	t.advance(PhaseChoicesRequested)
	ctx, span := e.span(ctx, "turn.choices", t)
	defer span.End()
	log := turnLogger(e.log, t)

	choices, err := retryOnce(ctx, log, "generate choices", e.opts.NarrativeTimeout, func(ctx context.Context) ([]string, error) {
		raw, err := e.deps.Choices.Choices(ctx, ChoiceRequest{
			State:     t.State,
			Narrative: t.Narrative.Text,
			Count:     e.opts.ChoiceCount,
		})
		if err != nil {
			return nil, err
		}
		cleaned := cleanChoices(raw, e.opts.ChoiceCount)
		if len(cleaned) == 0 {
			return nil, fmt.Errorf("no usable choices")
		}
		return cleaned, nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("choice generation failed, using fallback choices")
		span.RecordError(err)
		return ChoiceResult{
			Choices:  append([]string(nil), FallbackChoices...),
			Fallback: true,
			Err:      err,
		}
	}
	return ChoiceResult{Choices: choices}
}

// persist commits a turn: the advanced state first, then its history entry,
// then its archive entry. A failed write undoes the earlier ones so the
// state, history and archive never disagree about the last turn.
func (e *Engine) persist(ctx context.Context, t *Turn, rec *session.Record, tr world.Transition) (Outcome, error) {
	ctx, span := e.span(ctx, "turn.persist", t)
	defer span.End()
	log := turnLogger(e.log, t)

	img, ch := t.image, t.choices
	entry := models.HistoryEntry{
		Turn:            t.Number,
		Choice:          t.Action,
		Fate:            t.Narrative.Fate,
		Narrative:       t.Narrative.Text,
		Image:           img.Frame,
		ImagePrompt:     img.Prompt,
		ImageMode:       string(img.Mode),
		Vision:          img.Vision,
		Choices:         ch.Choices,
		ChoicesFallback: ch.Fallback,
		TimedOut:        t.TimedOut,
		CreatedAt:       time.Now().UTC(),
	}

	var gaps []string
	if img.Err != nil {
		entry.ImageError = img.Err.Error()
		gaps = append(gaps, "image: "+gapReason(img.Err))
	}
	if ch.Fallback {
		gaps = append(gaps, "choices: fallback")
	}

	prev := rec.State
	rec.State = tr.State
	rec.Spent = e.meter(t.Session, rec.Spent).Spent()
	if err := e.deps.Store.Save(ctx, rec); err != nil {
		log.Error().Err(err).Msg("save state failed")
		return Outcome{}, err
	}

	if err := e.deps.Store.AppendHistory(ctx, t.Session, entry); err != nil {
		log.Error().Err(err).Msg("append history failed")
		return Outcome{}, e.rollback(ctx, log, rec, prev, t.Number, false, err)
	}

	if _, err := e.deps.World.Archive(ctx, tr); err != nil {
		return Outcome{}, e.rollback(ctx, log, rec, prev, t.Number, true, err)
	}

	if len(gaps) > 0 {
		log.Info().Strs("gaps", gaps).Msg("turn persisted degraded")
	} else {
		log.Debug().Msg("turn persisted")
	}
	return Outcome{Entry: entry, State: t.State, Gaps: gaps}, nil
}

// rollback restores prev as the session state after a later write of turn
// failed, dropping the turn's history entry when it was appended. cause is
// returned joined with any error from the rollback itself.
func (e *Engine) rollback(ctx context.Context, log zerolog.Logger, rec *session.Record, prev models.GameState, turn int, appended bool, cause error) error {
	errs := []error{cause}
	if appended {
		if err := e.deps.Store.TruncateHistory(ctx, rec.ID, turn); err != nil {
			errs = append(errs, err)
		}
	}
	rec.State = prev
	if err := e.deps.Store.Save(ctx, rec); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 1 {
		log.Error().Errs("errors", errs[1:]).Msg("turn rollback incomplete")
	} else {
		log.Warn().Msg("turn rolled back")
	}
	return errors.Join(errs...)
}

// retryOnce calls call up to twice, each under its own timeout. Errors come
// back classified as generation errors.
func retryOnce[T any](ctx context.Context, log zerolog.Logger, what string, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= 2; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		v, err := call(cctx)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = apperrors.Generation(what, err)
		if ctx.Err() != nil {
			break
		}
		if attempt == 1 {
			log.Warn().Err(lastErr).Str("call", what).Msg("collaborator call failed, retrying")
		}
	}
	return zero, lastErr
}

func imagePrompt(n Narrative) string {
	if p := strings.TrimSpace(n.ImagePrompt); p != "" {
		return p
	}
	return world.TruncateWords(n.Text, 60)
}

func cleanChoices(raw []string, max int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range raw {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if len(out) == max {
			break
		}
	}
	return out
}

func gapReason(err error) string {
	if apperrors.CodeOf(err) == apperrors.CodeGenerationTimeout {
		return "timeout"
	}
	return err.Error()
}

func phaseLogger(log zerolog.Logger) func(Phase) {
	return func(p Phase) {
		log.Debug().Str("phase", p.String()).Msg("phase reached")
	}
}
