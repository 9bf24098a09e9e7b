package engine

import (
	"context"
	"sync/atomic"

	"github.com/tatianab/storyframe/internal/frames"
	"github.com/tatianab/storyframe/internal/models"
)

// Phase is the furthest point a turn has reached.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseNarrativeResolved
	PhaseImageRequested
	PhaseImageReady
	PhaseImageFailed
	PhaseChoicesRequested
	PhaseChoicesReady
	PhaseChoicesFailed
	PhasePersisted
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseNarrativeResolved:
		return "narrative_resolved"
	case PhaseImageRequested:
		return "image_requested"
	case PhaseImageReady:
		return "image_ready"
	case PhaseImageFailed:
		return "image_failed"
	case PhaseChoicesRequested:
		return "choices_requested"
	case PhaseChoicesReady:
		return "choices_ready"
	case PhaseChoicesFailed:
		return "choices_failed"
	case PhasePersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// ImageResult is the terminal outcome of the image sub-phase.
type ImageResult struct {
	Frame     *models.FrameReference
	Prompt    string
	Mode      frames.Mode
	Generator frames.Generator
	Vision    string
	Err       error
}

// ChoiceResult is the terminal outcome of the choice sub-phase.
type ChoiceResult struct {
	Choices  []string
	Fallback bool
	Err      error // last collaborator error when Fallback is set
}

// Outcome is a persisted turn.
type Outcome struct {
	Entry models.HistoryEntry
	State models.GameState
	// Gaps lists what the turn is missing, e.g. "image: timeout".
	Gaps []string
}

// Degraded reports whether the turn completed without its image or bespoke choices.
func (o Outcome) Degraded() bool {
	return len(o.Gaps) > 0
}

// Turn is one in-flight turn. Narrative and State are set before the Turn is
// returned; the image and choices arrive later through their own signals.
type Turn struct {
	Session   string
	Number    int
	Action    string
	TimedOut  bool
	Narrative Narrative
	State     models.GameState

	phase atomic.Int32

	imageDone   chan struct{}
	image       ImageResult
	choicesDone chan struct{}
	choices     ChoiceResult
	persisted   chan struct{}
	outcome     Outcome
	err         error

	onPhase func(Phase)
}

func newTurn(sessionID string, number int, action string, timedOut bool) *Turn {
	return &Turn{
		Session:     sessionID,
		Number:      number,
		Action:      action,
		TimedOut:    timedOut,
		imageDone:   make(chan struct{}),
		choicesDone: make(chan struct{}),
		persisted:   make(chan struct{}),
	}
}

// Phase returns the furthest phase reached. The image and choice sub-phases
// run concurrently, so use Image or Choices to wait for a specific one.
func (t *Turn) Phase() Phase {
	return Phase(t.phase.Load())
}

func (t *Turn) advance(p Phase) {
	for {
		cur := t.phase.Load()
		if int32(p) <= cur {
			break
		}
		if t.phase.CompareAndSwap(cur, int32(p)) {
			break
		}
	}
	if t.onPhase != nil {
		t.onPhase(p)
	}
}

// Image waits for the image sub-phase. The returned error is ctx's; a
// generation failure is reported in ImageResult.Err.
func (t *Turn) Image(ctx context.Context) (ImageResult, error) {
	select {
	case <-t.imageDone:
		return t.image, nil
	case <-ctx.Done():
		return ImageResult{}, ctx.Err()
	}
}

// ImageReady reports whether the image sub-phase has finished.
func (t *Turn) ImageReady() bool {
	select {
	case <-t.imageDone:
		return true
	default:
		return false
	}
}

// Choices waits for the choice sub-phase.
func (t *Turn) Choices(ctx context.Context) (ChoiceResult, error) {
	select {
	case <-t.choicesDone:
		return t.choices, nil
	case <-ctx.Done():
		return ChoiceResult{}, ctx.Err()
	}
}

// ChoicesReady reports whether the choice sub-phase has finished.
func (t *Turn) ChoicesReady() bool {
	select {
	case <-t.choicesDone:
		return true
	default:
		return false
	}
}

// Wait blocks until the turn is persisted. A non-nil error means the turn
// could not be committed; the session is left as it was before the turn.
func (t *Turn) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.persisted:
		return t.outcome, t.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (t *Turn) setImage(res ImageResult) {
	t.image = res
	if res.Err != nil {
		t.advance(PhaseImageFailed)
	} else {
		t.advance(PhaseImageReady)
	}
	close(t.imageDone)
}

func (t *Turn) setChoices(res ChoiceResult) {
	t.choices = res
	if res.Fallback {
		t.advance(PhaseChoicesFailed)
	} else {
		t.advance(PhaseChoicesReady)
	}
	close(t.choicesDone)
}

func (t *Turn) complete(out Outcome, err error) {
	t.outcome = out
	t.err = err
	if err == nil {
		t.advance(PhasePersisted)
	}
	close(t.persisted)
}
