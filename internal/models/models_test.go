package models

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGameStateYAML(t *testing.T) {
	dir := t.TempDir()
	layout := Layout{Root: dir}
	state := GameState{
		WorldPrompt:      "A drowned city of brass bells.",
		CurrentSituation: "You stand on a flooded stair.",
		RecentEvents:     []string{"Turn 1: The bells rang."},
		SeenElements:     []string{"brass bell"},
		TurnCount:        1,
	}

	if err := WriteYAML(layout.StatePath("s1"), state); err != nil {
		t.Fatalf("Failed to write state: %v", err)
	}

	var state2 GameState
	found, err := ReadYAML(layout.StatePath("s1"), &state2)
	if err != nil {
		t.Fatalf("Failed to read state: %v", err)
	}
	if !found {
		t.Fatalf("Expected state file to exist")
	}
	if state2.WorldPrompt != state.WorldPrompt {
		t.Errorf("Expected world prompt %s, got %s", state.WorldPrompt, state2.WorldPrompt)
	}
	if len(state2.SeenElements) != 1 {
		t.Errorf("Expected 1 seen element, got %d", len(state2.SeenElements))
	}

	leftovers, _ := filepath.Glob(filepath.Join(layout.SessionDir("s1"), ".state.yaml.*"))
	if len(leftovers) != 0 {
		t.Errorf("Expected no temp files left behind, got %v", leftovers)
	}
}

func TestReadYAMLMissing(t *testing.T) {
	var state GameState
	found, err := ReadYAML(filepath.Join(t.TempDir(), "nope.yaml"), &state)
	if err != nil || found {
		t.Fatalf("Expected missing file to be reported as not found, got found=%v err=%v", found, err)
	}
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	state := GameState{RecentEvents: []string{"a"}, SeenElements: []string{"b"}}
	clone := state.Clone()
	clone.RecentEvents[0] = "changed"
	clone.SeenElements[0] = "changed"
	if state.RecentEvents[0] != "a" || state.SeenElements[0] != "b" {
		t.Errorf("Clone shares backing arrays with the original")
	}
}

func TestFramesSkipsMissingImages(t *testing.T) {
	history := []HistoryEntry{
		{Turn: 0, Image: &FrameReference{Turn: 0, Full: "a.png"}},
		{Turn: 1, ImageError: "timeout"},
		{Turn: 2, Image: &FrameReference{Turn: 2, Full: "c.png", Preview: "c_preview.jpg"}},
	}
	frames := Frames(history)
	if len(frames) != 2 || frames[0].Turn != 0 || frames[1].Turn != 2 {
		t.Errorf("Unexpected frames: %+v", frames)
	}
}

func TestValidSessionID(t *testing.T) {
	for _, id := range []string{"default", "chat:123", "A_b-c.d"} {
		if !ValidSessionID(id) {
			t.Errorf("Expected %q to be valid", id)
		}
	}
	for _, id := range []string{"", "..", "../x", "a/b", " space"} {
		if ValidSessionID(id) {
			t.Errorf("Expected %q to be rejected", id)
		}
	}
}

func TestListSessions(t *testing.T) {
	dir := t.TempDir()
	layout := Layout{Root: dir}
	if err := WriteYAML(layout.StatePath("alpha"), GameState{}); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "stray"), 0755); err != nil {
		t.Fatal(err)
	}

	sessions, err := layout.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0] != "alpha" {
		t.Errorf("Expected [alpha], got %v", sessions)
	}
}
