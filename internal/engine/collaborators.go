package engine

import (
	"context"

	"github.com/tatianab/storyframe/internal/frames"
	"github.com/tatianab/storyframe/internal/models"
)

// NarrativeRequest asks for the continuation of a turn.
type NarrativeRequest struct {
	State    models.GameState
	Recent   []models.HistoryEntry
	Action   string
	Vision   string
	TimedOut bool
}

// Narrative is the story text of a turn plus what the image needs.
type Narrative struct {
	Text        string
	Fate        string
	ImagePrompt string
}

// Narrator writes the story.
type Narrator interface {
	// GenerateWorld expands a short hint into a full world prompt.
	GenerateWorld(ctx context.Context, hint string) (string, error)
	// Opening writes the intro turn.
	Opening(ctx context.Context, worldPrompt string) (Narrative, error)
	// Continue resolves a player action.
	Continue(ctx context.Context, req NarrativeRequest) (Narrative, error)
}

// ChoiceRequest asks for the next set of player choices.
type ChoiceRequest struct {
	State     models.GameState
	Narrative string
	Count     int
}

// ChoiceWriter proposes player choices.
type ChoiceWriter interface {
	Choices(ctx context.Context, req ChoiceRequest) ([]string, error)
}

// ImageReference is a loaded full-fidelity reference frame.
type ImageReference struct {
	Data     []byte
	MIMEType string
	Weight   float64
	Role     frames.Role
	Turn     int
}

// ImageRequest asks for one frame.
type ImageRequest struct {
	Prompt      string
	WorldPrompt string
	References  []ImageReference
	Strength    float64
	Mode        frames.Mode
	Generator   frames.Generator
	Instruction string
}

// Image is a generated frame.
type Image struct {
	Data []byte
	// Prompt is the prompt text the generator actually used.
	Prompt string
	// Grid is set when the frame packs several panels.
	Grid *models.GridLayout
}

// Illustrator generates frames.
type Illustrator interface {
	Illustrate(ctx context.Context, req ImageRequest) (Image, error)
}

// Analyzer describes a generated frame. The description feeds the next turn.
type Analyzer interface {
	Describe(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Resetter is notified when a session is reset. The archive ledger
// implements it to start a new epoch.
type Resetter interface {
	MarkReset(ctx context.Context, sessionID string) error
}
