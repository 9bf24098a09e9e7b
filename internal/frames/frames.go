// Package frames selects the reference images, strength and generation mode
// for each requested frame.
//
// References are built only from full-fidelity paths. Preview paths have
// their own type and there is no way to turn one into a Reference.
package frames

import (
	"github.com/tatianab/storyframe/internal/models"
)

// Mode is the generation mode of an image request.
type Mode string

const (
	TextToImage  Mode = "text-to-image"
	ImageToImage Mode = "image-to-image"
	VideoToFrame Mode = "video-to-frame"
)

// Backend selects how generators are mixed.
type Backend string

const (
	// BackendImage always uses the cheap single-image generator.
	BackendImage Backend = "image"
	// BackendHybrid spends on the expensive generator for frame 1 and hard
	// transitions while the session budget allows.
	BackendHybrid Backend = "hybrid"
)

// Generator names the generator a selection is routed to.
type Generator string

const (
	Cheap     Generator = "cheap"
	Expensive Generator = "expensive"
)

// Role says what part of a prior frame a reference carries.
type Role string

const (
	RoleFrame Role = "frame"
	RoleGrid  Role = "grid"
	RolePanel Role = "panel"
)

const (
	ContinuationStrength = 0.75
	HardStrength         = 0.45
	GridStrength         = 0.55
	PanelStrength        = 0.85

	// Window is the number of recent frames a continuation references.
	Window = 2
)

// GridInstruction accompanies grid continuations.
const GridInstruction = "The first panel of the new grid must continue directly from the last panel " +
	"of the previous grid, keeping its lighting, color palette and camera framing."

// Reference is one full-fidelity prior frame handed to the image generator.
type Reference struct {
	path   models.FullImagePath
	turn   int
	role   Role
	weight float64
}

func (r Reference) Path() models.FullImagePath { return r.path }
func (r Reference) Turn() int                  { return r.turn }
func (r Reference) Role() Role                 { return r.role }
func (r Reference) Weight() float64            { return r.weight }

func frameRef(f models.FrameReference, weight float64) Reference {
	return Reference{path: f.Full, turn: f.Turn, role: RoleFrame, weight: weight}
}

func gridRef(f models.FrameReference) Reference {
	return Reference{path: f.Full, turn: f.Turn, role: RoleGrid, weight: GridStrength}
}

func panelRef(f models.FrameReference, weight float64) Reference {
	return Reference{path: f.LastPanel, turn: f.Turn, role: RolePanel, weight: weight}
}

// Selection is the outcome of Select.
type Selection struct {
	References  []Reference
	Strength    float64
	Mode        Mode
	Generator   Generator
	Transition  Transition // after the frame-1 override
	Override    bool       // frame 1 turned a hard transition into a continuation
	Instruction string

	// BudgetExceeded is set when the expensive generator was wanted but the
	// meter refused it.
	BudgetExceeded bool
	// Reservation holds the expensive call's cost; nil for cheap calls.
	Reservation *Reservation
}

// Selector applies the continuity policy.
type Selector struct {
	backend       Backend
	expensiveCost float64
}

// NewSelector creates a Selector.
func NewSelector(backend Backend, expensiveCost float64) *Selector {
	if backend == "" {
		backend = BackendImage
	}
	return &Selector{backend: backend, expensiveCost: expensiveCost}
}

// Backend returns the configured backend.
func (s *Selector) Backend() Backend {
	return s.backend
}

// Select chooses the references for the frame of turn. history holds the
// entries of earlier turns. meter may be nil, which leaves the expensive
// generator unmetered.
func (s *Selector) Select(history []models.HistoryEntry, turn int, transition Transition, meter *Meter) Selection {
	frames := models.Frames(history)
	if turn == 0 || len(frames) == 0 {
		return Selection{Mode: TextToImage, Generator: Cheap, Transition: transition}
	}

	sel := Selection{Mode: ImageToImage, Generator: Cheap, Transition: transition}
	if turn == 1 && transition == HardTransition {
		sel.Transition = Continuation
		sel.Override = true
	}

	last := frames[len(frames)-1]
	switch {
	case sel.Transition == HardTransition && last.IsGrid():
		sel.References = []Reference{panelRef(last, HardStrength)}
		sel.Strength = HardStrength
	case sel.Transition == HardTransition:
		sel.References = []Reference{frameRef(last, HardStrength)}
		sel.Strength = HardStrength
	case last.IsGrid():
		sel.References = []Reference{gridRef(last), panelRef(last, PanelStrength)}
		sel.Strength = ContinuationStrength
		sel.Instruction = GridInstruction
	default:
		start := len(frames) - Window
		if start < 0 {
			start = 0
		}
		for _, f := range frames[start:] {
			sel.References = append(sel.References, frameRef(f, ContinuationStrength))
		}
		sel.Strength = ContinuationStrength
	}

	if s.backend == BackendHybrid && (turn == 1 || transition == HardTransition) {
		s.routeExpensive(&sel, meter)
	}
	return sel
}

func (s *Selector) routeExpensive(sel *Selection, meter *Meter) {
	if meter != nil {
		res, err := meter.Reserve(s.expensiveCost)
		if err != nil {
			sel.BudgetExceeded = true
			return
		}
		sel.Reservation = res
	}
	sel.Generator = Expensive
	sel.Mode = VideoToFrame
}
