package frames

import (
	"strings"

	"github.com/tatianab/storyframe/internal/world"
)

// Transition classifies how far an action moves the scene.
type Transition int

const (
	Continuation Transition = iota
	HardTransition
)

func (t Transition) String() string {
	if t == HardTransition {
		return "hard"
	}
	return "continuation"
}

var (
	// Phrases that change the scene on their own.
	transitionPhrases = []string{
		"leave the", "leave this", "exit the", "go outside", "step outside", "head outside",
		"new room", "next room", "another room", "travel to", "journey to", "set off",
		"fast forward", "time passes", "wake up", "fall asleep", "teleport", "portal",
		"flee the", "escape the", "run away", "get out of",
	}

	movementVerbs = set("go", "goes", "going", "went", "walk", "walks", "walking", "run", "runs",
		"running", "ran", "head", "heads", "heading", "move", "moves", "climb", "climbs", "climbing",
		"descend", "descends", "enter", "enters", "entering", "step", "steps", "dive", "dives",
		"jump", "jumps", "sprint", "dash", "crawl", "swim", "ride", "sail", "fly", "drive", "follow",
		"flee", "escape", "leave", "rush", "hurry", "race", "travel", "cross", "return", "sneak")

	destinationCues = []string{"into", "through", "outside", "inside", "upstairs", "downstairs",
		"out of", "beyond", "away", "toward", "towards", "across", "down to", "up to", "onto"}

	sceneNouns = set("room", "hall", "hallway", "corridor", "street", "alley", "forest", "cave",
		"tunnel", "building", "house", "tower", "city", "town", "village", "basement", "cellar",
		"roof", "rooftop", "bridge", "river", "shore", "ship", "train", "car", "market", "temple", "castle", "station", "chamber", "passage", "square")
)

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Classify applies a closed rule set to the action text. An action is a hard
// transition when it contains a scene-change phrase, or a movement verb
// followed by a destination cue or a scene noun.
func Classify(action string) Transition {
	norm := world.Normalize(action)
	if norm == "" {
		return Continuation
	}
	padded := " " + norm + " "
	for _, phrase := range transitionPhrases {
		if strings.Contains(padded, " "+phrase+" ") {
			return HardTransition
		}
	}

	words := strings.Fields(norm)
	for i, w := range words {
		if !movementVerbs[w] {
			continue
		}
		rest := " " + strings.Join(words[i+1:], " ") + " "
		for _, cue := range destinationCues {
			if strings.Contains(rest, " "+cue+" ") {
				return HardTransition
			}
		}
		for _, next := range words[i+1:] {
			if sceneNouns[next] {
				return HardTransition
			}
		}
	}
	return Continuation
}
