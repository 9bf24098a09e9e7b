package models

import "time"

const (
	// MaxRecentEvents bounds the rolling event log; the oldest entry is dropped first.
	MaxRecentEvents = 10
	// MaxSeenElements bounds the discovered entity set at all times.
	MaxSeenElements = 50
	// SeenElementsTrimTo is the size the entity set is cut down to on trim turns.
	SeenElementsTrimTo = 40
	// SeenElementsTrimEvery is the turn period of the entity trim.
	SeenElementsTrimEvery = 30
)

// GameState represents the accumulated world state of one session.
//
// WorldPrompt is written once when the session begins. Every other field is
// changed only by the world accumulator.
type GameState struct {
	WorldPrompt      string   `yaml:"world_prompt" json:"world_prompt"`
	CurrentSituation string   `yaml:"current_situation" json:"current_situation"`
	RecentEvents     []string `yaml:"recent_events" json:"recent_events"`
	SeenElements     []string `yaml:"seen_elements" json:"seen_elements"`
	TurnCount        int      `yaml:"turn_count" json:"turn_count"`
}

// Begun reports whether the session has a world yet.
func (s GameState) Begun() bool {
	return s.WorldPrompt != ""
}

// Clone returns a copy that shares no slices with s.
func (s GameState) Clone() GameState {
	out := s
	out.RecentEvents = append([]string(nil), s.RecentEvents...)
	out.SeenElements = append([]string(nil), s.SeenElements...)
	return out
}

// HistoryEntry represents a single turn in the game. Entries are never
// modified after they are appended.
type HistoryEntry struct {
	Turn            int             `yaml:"turn" json:"turn"`
	Choice          string          `yaml:"choice" json:"choice"`
	Fate            string          `yaml:"fate,omitempty" json:"fate,omitempty"`
	Narrative       string          `yaml:"narrative" json:"narrative"`
	Image           *FrameReference `yaml:"image,omitempty" json:"image,omitempty"`
	ImagePrompt     string          `yaml:"image_prompt" json:"image_prompt"`
	ImageError      string          `yaml:"image_error,omitempty" json:"image_error,omitempty"`
	ImageMode       string          `yaml:"image_mode,omitempty" json:"image_mode,omitempty"`
	Vision          string          `yaml:"vision,omitempty" json:"vision,omitempty"`
	Choices         []string        `yaml:"choices,omitempty" json:"choices,omitempty"`
	ChoicesFallback bool            `yaml:"choices_fallback,omitempty" json:"choices_fallback,omitempty"`
	TimedOut        bool            `yaml:"timed_out,omitempty" json:"timed_out,omitempty"`
	CreatedAt       time.Time       `yaml:"created_at" json:"created_at"`
}

// ArchiveEntry is one world-state transition in the archive ledger.
type ArchiveEntry struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Turn            int       `json:"turn"`      // ledger turn, strictly increasing per session
	GameTurn        int       `json:"game_turn"` // turn index inside the game that produced it
	Epoch           int       `json:"epoch"`     // number of resets the session had seen
	Timestamp       time.Time `json:"timestamp"`
	SituationBefore string    `json:"situation_before"`
	SituationAfter  string    `json:"situation_after"`
	Action          string    `json:"action"`
	Consequence     string    `json:"consequence"`
	Vision          string    `json:"vision,omitempty"`
}

// FullImagePath is the path of a full-fidelity frame. Only this variant may
// be fed back into generation.
type FullImagePath string

// PreviewImagePath is the path of a downsampled frame used for display.
type PreviewImagePath string

// GridLayout describes a frame that packs several sub-frames into one image.
type GridLayout struct {
	Rows int `yaml:"rows" json:"rows"`
	Cols int `yaml:"cols" json:"cols"`
}

// Panels returns the number of sub-frames in the grid.
func (g GridLayout) Panels() int {
	return g.Rows * g.Cols
}

// FrameReference is a generated image with its resolution variants.
type FrameReference struct {
	Turn      int              `yaml:"turn" json:"turn"`
	Full      FullImagePath    `yaml:"full" json:"full"`
	Preview   PreviewImagePath `yaml:"preview,omitempty" json:"preview,omitempty"`
	Grid      *GridLayout      `yaml:"grid,omitempty" json:"grid,omitempty"`
	LastPanel FullImagePath    `yaml:"last_panel,omitempty" json:"last_panel,omitempty"`
}

// IsGrid reports whether the frame is a multi-panel grid with an isolated last panel.
func (f FrameReference) IsGrid() bool {
	return f.Grid != nil && f.Grid.Panels() > 1 && f.LastPanel != ""
}

// Frames returns the frames of history in turn order, skipping turns without an image.
func Frames(history []HistoryEntry) []FrameReference {
	out := make([]FrameReference, 0, len(history))
	for _, entry := range history {
		if entry.Image == nil || entry.Image.Full == "" {
			continue
		}
		out = append(out, *entry.Image)
	}
	return out
}
