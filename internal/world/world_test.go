package world

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/storyframe/internal/apperrors"
	"github.com/tatianab/storyframe/internal/models"
)

type situationFunc func(ctx context.Context, req SituationRequest) (string, error)

func (f situationFunc) UpdateSituation(ctx context.Context, req SituationRequest) (string, error) {
	return f(ctx, req)
}

type extractFunc func(ctx context.Context, situation string) ([]string, error)

func (f extractFunc) ExtractEntities(ctx context.Context, situation string) ([]string, error) {
	return f(ctx, situation)
}

type memLedger struct {
	mu      sync.Mutex
	entries []models.ArchiveEntry
	err     error
}

func (l *memLedger) Append(ctx context.Context, entry models.ArchiveEntry) (models.ArchiveEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return models.ArchiveEntry{}, l.err
	}
	entry.Turn = len(l.entries)
	l.entries = append(l.entries, entry)
	return entry, nil
}

const longSituation = "You stand in the flooded lower market of the drowned city. A skeletal guard tower leans over " +
	"the canal, its lantern still burning, and a rusted iron gate blocks the way north toward the cathedral."

const worldPrompt = "In the drowned city of Vel Marrow, you are a smuggler.\nThe tides never recede."

func echoWriter() SituationWriter {
	return situationFunc(func(ctx context.Context, req SituationRequest) (string, error) {
		return longSituation, nil
	})
}

func staticExtractor(phrases ...string) EntityExtractor {
	return extractFunc(func(ctx context.Context, situation string) ([]string, error) {
		return phrases, nil
	})
}

func begun() models.GameState {
	return models.GameState{
		WorldPrompt:      worldPrompt,
		CurrentSituation: "You wake on a raft.",
	}
}

func TestEvolve_WorldPromptNeverChanges(t *testing.T) {
	ledger := &memLedger{}
	acc := NewAccumulator(echoWriter(), staticExtractor("lantern"), ledger, zerolog.Nop(), Options{})
	ctx := context.Background()

	state := begun()
	for turn := 1; turn <= 35; turn++ {
		next, err := acc.Evolve(ctx, "s", state, TurnOutcome{Turn: turn, Action: "wade on", Consequence: "The water rises."})
		require.NoError(t, err)
		assert.Equal(t, worldPrompt, next.WorldPrompt)
		assert.Equal(t, turn, next.TurnCount)
		state = next
	}
	assert.Len(t, ledger.entries, 35)
}

func TestEvolve_DoesNotMutatePrevious(t *testing.T) {
	acc := NewAccumulator(echoWriter(), staticExtractor("guard tower"), &memLedger{}, zerolog.Nop(), Options{})
	prev := begun()
	prev.RecentEvents = []string{"Turn 0: start"}

	next, err := acc.Evolve(context.Background(), "s", prev, TurnOutcome{Turn: 1, Action: "look", Consequence: "A tower."})
	require.NoError(t, err)
	assert.Equal(t, []string{"Turn 0: start"}, prev.RecentEvents)
	assert.Empty(t, prev.SeenElements)
	assert.Len(t, next.RecentEvents, 2)
	assert.Equal(t, "Turn 1: A tower.", next.RecentEvents[1])
}

func TestEvolve_RecentEventsFIFO(t *testing.T) {
	acc := NewAccumulator(echoWriter(), nil, &memLedger{}, zerolog.Nop(), Options{})
	state := begun()
	for turn := 1; turn <= 15; turn++ {
		next, err := acc.Evolve(context.Background(), "s", state, TurnOutcome{
			Turn:        turn,
			Action:      "step",
			Consequence: fmt.Sprintf("Event number %d happens.", turn),
		})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(next.RecentEvents), models.MaxRecentEvents)
		state = next
	}

	require.Len(t, state.RecentEvents, 10)
	for turn := 1; turn <= 5; turn++ {
		for _, ev := range state.RecentEvents {
			assert.NotContains(t, ev, fmt.Sprintf("Turn %d:", turn))
		}
	}
	assert.Equal(t, "Turn 6: Event number 6 happens.", state.RecentEvents[0])
	assert.Equal(t, "Turn 15: Event number 15 happens.", state.RecentEvents[9])
}

func TestEvolve_DedupKeepsMoreSpecific(t *testing.T) {
	acc := NewAccumulator(echoWriter(), staticExtractor("skeletal guard tower"), &memLedger{}, zerolog.Nop(), Options{})
	prev := begun()
	prev.SeenElements = []string{"guard tower"}

	next, err := acc.Evolve(context.Background(), "s", prev, TurnOutcome{Turn: 1, Action: "look", Consequence: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"skeletal guard tower"}, next.SeenElements)
}

func TestEvolve_ExtractionTimeoutLeavesSeenUnchanged(t *testing.T) {
	slow := extractFunc(func(ctx context.Context, situation string) ([]string, error) {
		select {
		case <-time.After(5 * time.Second):
			return []string{"should not appear"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	ledger := &memLedger{}
	acc := NewAccumulator(echoWriter(), slow, ledger, zerolog.Nop(), Options{ExtractionTimeout: 20 * time.Millisecond})
	prev := begun()
	prev.SeenElements = []string{"raft", "lantern"}

	next, err := acc.Evolve(context.Background(), "s", prev, TurnOutcome{Turn: 1, Action: "look", Consequence: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"raft", "lantern"}, next.SeenElements)
	assert.Len(t, ledger.entries, 1, "archive entry written regardless")
}

func TestEvolve_ExtractorIgnoringContextStillTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := extractFunc(func(ctx context.Context, situation string) ([]string, error) {
		<-release
		return []string{"late"}, nil
	})
	acc := NewAccumulator(echoWriter(), stuck, &memLedger{}, zerolog.Nop(), Options{ExtractionTimeout: 20 * time.Millisecond})

	start := time.Now()
	next, err := acc.Evolve(context.Background(), "s", begun(), TurnOutcome{Turn: 1, Action: "look", Consequence: "x"})
	require.NoError(t, err)
	assert.Empty(t, next.SeenElements)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEvolve_ShortSituationSkipsExtraction(t *testing.T) {
	called := false
	extractor := extractFunc(func(ctx context.Context, situation string) ([]string, error) {
		called = true
		return nil, nil
	})
	short := situationFunc(func(ctx context.Context, req SituationRequest) (string, error) {
		return "A quiet dock.", nil
	})
	acc := NewAccumulator(short, extractor, &memLedger{}, zerolog.Nop(), Options{})

	next, err := acc.Evolve(context.Background(), "s", begun(), TurnOutcome{Turn: 1, Action: "wait", Consequence: "Nothing."})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, "A quiet dock.", next.CurrentSituation)
}

func TestEvolve_SituationFailureFallsBackToConsequence(t *testing.T) {
	failing := situationFunc(func(ctx context.Context, req SituationRequest) (string, error) {
		return "", errors.New("quota")
	})
	acc := NewAccumulator(failing, nil, &memLedger{}, zerolog.Nop(), Options{})
	consequence := strings.Repeat("word ", 100)

	next, err := acc.Evolve(context.Background(), "s", begun(), TurnOutcome{Turn: 1, Action: "wait", Consequence: consequence})
	require.NoError(t, err)
	assert.Len(t, strings.Fields(next.CurrentSituation), SituationMaxWords)
}

func TestEvolve_SituationRequestCarriesVision(t *testing.T) {
	var got SituationRequest
	writer := situationFunc(func(ctx context.Context, req SituationRequest) (string, error) {
		got = req
		return "ok", nil
	})
	acc := NewAccumulator(writer, nil, &memLedger{}, zerolog.Nop(), Options{})
	prev := begun()

	_, err := acc.Evolve(context.Background(), "s", prev, TurnOutcome{Turn: 1, Action: "swim", Consequence: "cold", Vision: "a red sky"})
	require.NoError(t, err)
	assert.Equal(t, prev.CurrentSituation, got.Previous)
	assert.Equal(t, "swim", got.Action)
	assert.Equal(t, "a red sky", got.Vision)
	assert.Equal(t, SituationMaxWords, got.MaxWords)
}

func TestEvolve_LedgerFailureIsFatal(t *testing.T) {
	ledger := &memLedger{err: errors.New("disk full")}
	acc := NewAccumulator(echoWriter(), nil, ledger, zerolog.Nop(), Options{})

	_, err := acc.Evolve(context.Background(), "s", begun(), TurnOutcome{Turn: 1, Action: "look"})
	assert.ErrorIs(t, err, apperrors.ErrStorage)
}

func TestMerge_DefersArchive(t *testing.T) {
	ledger := &memLedger{}
	acc := NewAccumulator(echoWriter(), nil, ledger, zerolog.Nop(), Options{})
	ctx := context.Background()

	tr, err := acc.Merge(ctx, "s", begun(), TurnOutcome{Turn: 1, Action: "look", Consequence: "A tower."})
	require.NoError(t, err)
	assert.Equal(t, 1, tr.State.TurnCount)
	assert.Equal(t, 1, tr.Entry.GameTurn)
	assert.Equal(t, longSituation, tr.Entry.SituationAfter)
	assert.Empty(t, ledger.entries)

	entry, err := acc.Archive(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, "look", entry.Action)
	require.Len(t, ledger.entries, 1)

	ledger.err = errors.New("disk full")
	_, err = acc.Archive(ctx, tr)
	assert.ErrorIs(t, err, apperrors.ErrStorage)

	_, err = acc.Start(ctx, "s", " ", "x", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestEvolve_RejectsUnbegunAndStaleTurns(t *testing.T) {
	acc := NewAccumulator(echoWriter(), nil, &memLedger{}, zerolog.Nop(), Options{})

	_, err := acc.Evolve(context.Background(), "s", models.GameState{}, TurnOutcome{Turn: 1})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	prev := begun()
	prev.TurnCount = 3
	_, err = acc.Evolve(context.Background(), "s", prev, TurnOutcome{Turn: 3})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestEvolve_SeenElementsBoundedAndTrimmed(t *testing.T) {
	turn := 0
	extractor := extractFunc(func(ctx context.Context, situation string) ([]string, error) {
		return []string{fmt.Sprintf("crate %d", turn*2), fmt.Sprintf("barrel %d", turn*2+1)}, nil
	})
	acc := NewAccumulator(echoWriter(), extractor, &memLedger{}, zerolog.Nop(), Options{})
	state := begun()

	for turn = 1; turn <= 30; turn++ {
		next, err := acc.Evolve(context.Background(), "s", state, TurnOutcome{Turn: turn, Action: "loot", Consequence: "More crates."})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(next.SeenElements), models.MaxSeenElements)
		state = next
	}
	assert.Len(t, state.SeenElements, models.SeenElementsTrimTo)
	assert.Equal(t, "barrel 61", state.SeenElements[len(state.SeenElements)-1])
}

func TestGenesis(t *testing.T) {
	ledger := &memLedger{}
	acc := NewAccumulator(echoWriter(), staticExtractor("guard tower", "Vel Marrow", "you"), ledger, zerolog.Nop(), Options{})

	state, err := acc.Genesis(context.Background(), "s", worldPrompt, "You wake in the flooded market.", "")
	require.NoError(t, err)
	assert.Equal(t, worldPrompt, state.WorldPrompt)
	assert.Equal(t, 0, state.TurnCount)
	assert.Equal(t, []string{"guard tower"}, state.SeenElements)
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, "begin", ledger.entries[0].Action)
	assert.Empty(t, ledger.entries[0].SituationBefore)

	_, err = acc.Genesis(context.Background(), "s", "  ", "x", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "The door opens.", Summarize("The door opens. Light floods in.", "open door"))
	assert.Equal(t, "open door", Summarize("  ", "open door"))
	long := strings.Repeat("very ", 30) + "long."
	assert.Len(t, strings.Fields(Summarize(long, "")), SummaryMaxWords)
}
