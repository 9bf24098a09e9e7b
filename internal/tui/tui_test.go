package tui

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/storyframe/internal/engine"
	"github.com/tatianab/storyframe/internal/models"
)

func resumedModel(t *testing.T) model {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	eng := engine.NewEngine(engine.Deps{}, engine.DefaultOptions(), zerolog.Nop())
	return newModel(ctx, eng, engine.Snapshot{
		Session: "s",
		State:   models.GameState{WorldPrompt: "w", CurrentSituation: "You tread water.", TurnCount: 1},
		History: []models.HistoryEntry{
			{Turn: 0, Narrative: "The flood rises."},
			{Turn: 1, Choice: "look", Narrative: "You look around.", Choices: []string{"Swim", "Climb"}},
		},
	})
}

func TestResumeBegunSession(t *testing.T) {
	m := resumedModel(t)

	assert.Equal(t, statePlaying, m.state)
	assert.NotNil(t, m.resume)
	assert.NotNil(t, m.decisions)
	assert.False(t, m.deadline.IsZero())
	assert.Contains(t, m.gameLog, "You look around.")

	view := m.View()
	assert.Contains(t, view, "2. Climb")
	assert.Contains(t, view, "choices: ready")
	assert.Contains(t, view, "image: painting...")
}

func TestSubmitPicksNumberedChoice(t *testing.T) {
	m := resumedModel(t)
	decisions := m.decisions

	next, _ := m.submit("2")
	assert.Equal(t, "Climb", <-decisions)
	assert.Nil(t, next.(model).decisions)

	// Nothing is pending until the turn starts.
	next, cmd := next.(model).submit("swim")
	assert.Nil(t, cmd)
	assert.Nil(t, next.(model).decisions)
}

func TestSubmitFreeText(t *testing.T) {
	m := resumedModel(t)
	decisions := m.decisions

	next, _ := m.submit("9")
	require.NotNil(t, next)
	assert.Equal(t, "9", <-decisions)
}

func TestNewSessionAsksForHint(t *testing.T) {
	eng := engine.NewEngine(engine.Deps{}, engine.DefaultOptions(), zerolog.Nop())
	m := newModel(context.Background(), eng, engine.Snapshot{Session: "s"})
	assert.Equal(t, stateInputHint, m.state)
	assert.Nil(t, m.resume)
	assert.Contains(t, m.View(), "Welcome to Storyframe!")
}
