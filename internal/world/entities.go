package world

import (
	"strings"
	"unicode"

	"github.com/tatianab/storyframe/internal/models"
)

// Exclusion names the rule that rejected a candidate entity phrase.
type Exclusion int

const (
	Accepted Exclusion = iota
	SelfReference
	SettingName
	AbstractNoun
	BareVerb
	GenericMaterial
	Malformed
)

func (e Exclusion) String() string {
	switch e {
	case Accepted:
		return "accepted"
	case SelfReference:
		return "self-reference"
	case SettingName:
		return "setting-name"
	case AbstractNoun:
		return "abstract"
	case BareVerb:
		return "bare-verb"
	case GenericMaterial:
		return "generic-material"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

const maxEntityWords = 5

var (
	determiners = set("a", "an", "the", "some", "your", "my", "our", "this", "that", "these", "those")

	selfWords = set("you", "yourself", "i", "me", "myself", "we", "us", "player", "protagonist",
		"hero", "heroine", "adventurer", "traveler", "traveller", "character")
	selfPossessives = set("your", "my", "our")
	bodyParts       = set("hand", "hands", "arm", "arms", "body", "feet", "foot", "face", "eyes",
		"head", "heart", "mind", "breath", "reflection", "shadow", "legs", "voice", "skin", "fingers")

	abstractNouns = set("fear", "hope", "despair", "dread", "courage", "silence", "darkness", "danger",
		"mystery", "tension", "anger", "joy", "sorrow", "grief", "rage", "memory", "memories",
		"loneliness", "peace", "chaos", "freedom", "power", "destiny", "fate", "truth", "time",
		"atmosphere", "mood", "feeling", "feelings", "sense", "presence", "curiosity", "anxiety",
		"panic", "relief", "calm", "determination", "resolve", "doom", "hunger", "thirst", "pain",
		"exhaustion", "unease", "menace", "urgency", "confusion", "wonder", "awe", "hesitation")

	verbStems = []string{"run", "walk", "look", "see", "hear", "fight", "attack", "hide", "climb",
		"open", "close", "wait", "move", "turn", "stand", "sit", "fall", "escape", "search", "listen",
		"approach", "enter", "leave", "flee", "grab", "take", "use", "follow", "watch", "speak",
		"shout", "whisper", "jump", "crawl", "push", "pull", "strike", "dodge", "breathe", "rest",
		"explore", "examine", "investigate", "hesitate", "continue", "pause", "begin", "try", "seem"}
	irregularVerbs = set("ran", "running", "sat", "sitting", "stood", "fell", "fallen", "hid",
		"hidden", "took", "taken", "saw", "seen", "heard", "fought", "left", "grabbing", "spoke",
		"spoken", "began", "begun", "is", "are", "was", "were", "be", "being", "been")
	bareVerbs = verbForms(verbStems, irregularVerbs)

	materials = set("stone", "stones", "wood", "metal", "iron", "steel", "water", "dust", "dirt",
		"mud", "sand", "glass", "rock", "rocks", "fire", "smoke", "ash", "ashes", "blood", "light",
		"air", "ice", "snow", "rust", "rubble", "debris", "fog", "mist", "grass", "moss", "earth",
		"concrete", "brick", "bricks", "paper", "cloth", "leather", "bone", "bones", "oil", "rain")
	materialQualifiers = set("cold", "wet", "dry", "black", "white", "grey", "gray", "red", "thick",
		"thin", "old", "dark", "loose", "broken", "damp", "fresh", "warm", "hot", "pale", "heavy",
		"fine", "rough", "smooth", "bright", "dim", "more", "much", "little")

	settingStopwords = set("the", "a", "an", "in", "on", "at", "you", "your", "it", "this", "welcome",
		"once", "long", "here", "there", "as", "when", "after", "before")
)

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func verbForms(stems []string, extra map[string]bool) map[string]bool {
	forms := make(map[string]bool, len(stems)*4+len(extra))
	for w := range extra {
		forms[w] = true
	}
	for _, s := range stems {
		forms[s] = true
		forms[s+"s"] = true
		if strings.HasSuffix(s, "e") {
			forms[s+"d"] = true
			forms[s[:len(s)-1]+"ing"] = true
		} else {
			forms[s+"ed"] = true
			forms[s+"ing"] = true
		}
	}
	return forms
}

// EntityFilter classifies candidate entity phrases against a closed set of
// exclusion rules. Rules are checked in declaration order of Exclusion.
type EntityFilter struct {
	settingNames []string
}

// NewEntityFilter builds a filter that also rejects the proper name of the
// setting described by worldPrompt.
func NewEntityFilter(worldPrompt string) *EntityFilter {
	return &EntityFilter{settingNames: settingNames(worldPrompt)}
}

// Normalize lowercases phrase, replaces punctuation with spaces and collapses
// whitespace.
func Normalize(phrase string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'', r == '-':
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, phrase)
	words := strings.Fields(cleaned)
	return strings.Join(words, " ")
}

func stripDeterminers(words []string) []string {
	for len(words) > 1 && determiners[words[0]] {
		words = words[1:]
	}
	return words
}

// Classify returns the normalized phrase and the rule that rejects it, or
// Accepted.
func (f *EntityFilter) Classify(phrase string) (string, Exclusion) {
	raw := strings.Fields(Normalize(phrase))
	if len(raw) == 0 {
		return "", Malformed
	}

	if isSelfReference(raw) {
		return strings.Join(raw, " "), SelfReference
	}

	words := stripDeterminers(raw)
	norm := strings.Join(words, " ")
	if len(words) > maxEntityWords || len(norm) < 2 || !hasLetter(norm) {
		return norm, Malformed
	}
	if len(words) == 1 && determiners[words[0]] {
		return norm, Malformed
	}

	for _, name := range f.settingNames {
		if containsWords(norm, name) {
			return norm, SettingName
		}
	}

	head := words[len(words)-1]
	if abstractNouns[head] {
		return norm, AbstractNoun
	}
	if len(words) == 1 && bareVerbs[head] {
		return norm, BareVerb
	}
	if materials[head] && allIn(words[:len(words)-1], materialQualifiers) {
		return norm, GenericMaterial
	}
	return norm, Accepted
}

// Accept filters candidates, returning the accepted normalized phrases and
// the rejections keyed by exclusion.
func (f *EntityFilter) Accept(candidates []string) ([]string, map[Exclusion][]string) {
	var accepted []string
	rejected := make(map[Exclusion][]string)
	for _, c := range candidates {
		norm, why := f.Classify(c)
		if why == Accepted {
			accepted = append(accepted, norm)
			continue
		}
		rejected[why] = append(rejected[why], c)
	}
	return accepted, rejected
}

func isSelfReference(words []string) bool {
	if allIn(stripDeterminers(words), selfWords) {
		return true
	}
	if len(words) == 2 && selfPossessives[words[0]] && (bodyParts[words[1]] || selfWords[words[1]]) {
		return true
	}
	return false
}

func allIn(words []string, in map[string]bool) bool {
	for _, w := range words {
		if !in[w] {
			return false
		}
	}
	return true
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// containsWords reports whether needle occurs in haystack on word boundaries.
func containsWords(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

// settingNames collects runs of capitalized words from the first line and
// first sentence of the world prompt.
func settingNames(worldPrompt string) []string {
	text := strings.TrimSpace(worldPrompt)
	if text == "" {
		return nil
	}
	firstLine := strings.SplitN(text, "\n", 2)[0]
	firstSentence := firstLine
	if i := strings.IndexAny(firstLine, ".!?"); i >= 0 {
		firstSentence = firstLine[:i]
	}

	seen := make(map[string]bool)
	var names []string
	var run []string
	runStart := 0
	flush := func() {
		for len(run) > 0 && settingStopwords[strings.ToLower(run[0])] {
			run = run[1:]
			runStart++
		}
		// A lone capitalized word opening the sentence counts only if the
		// prompt repeats it.
		if len(run) == 1 && runStart == 0 && strings.Count(text, run[0]) < 2 {
			run = nil
		}
		if len(run) > 0 {
			name := Normalize(strings.Join(run, " "))
			if name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		run = nil
	}
	for i, tok := range strings.Fields(firstSentence) {
		trimmed := strings.TrimFunc(tok, func(r rune) bool { return !unicode.IsLetter(r) && r != '\'' && r != '-' })
		if trimmed == "" {
			flush()
			continue
		}
		if unicode.IsUpper([]rune(trimmed)[0]) {
			if len(run) == 0 {
				runStart = i
			}
			run = append(run, trimmed)
			if strings.ContainsAny(tok, ",;:") {
				flush()
			}
			continue
		}
		flush()
	}
	flush()
	return names
}

// sameEntity reports whether two normalized phrases name the same entity:
// one contained in the other on word boundaries, where a word also matches
// its plural. Whole words keep "rat" apart from "pirate".
func sameEntity(a, b string) bool {
	return a == b || containsPhrase(a, b) || containsPhrase(b, a)
}

func containsPhrase(haystack, needle string) bool {
	hw, nw := strings.Fields(haystack), strings.Fields(needle)
	if len(nw) == 0 || len(nw) > len(hw) {
		return false
	}
	for i := 0; i+len(nw) <= len(hw); i++ {
		match := true
		for j, w := range nw {
			if !sameWord(hw[i+j], w) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// sameWord matches a word against itself and its -s and -es plurals.
func sameWord(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	return b == a+"s" || b == a+"es"
}

// moreSpecific returns the more specific of two phrases: more words wins,
// then the longer string, then a.
func moreSpecific(a, b string) string {
	wa, wb := len(strings.Fields(a)), len(strings.Fields(b))
	switch {
	case wa != wb:
		if wa > wb {
			return a
		}
		return b
	case len(b) > len(a):
		return b
	default:
		return a
	}
}

// MergeSeen merges accepted phrases into seen. A phrase matching existing
// entries replaces them with the most specific of the group, moved to the
// most recent position. The result never exceeds MaxSeenElements; the
// oldest entries go first.
func MergeSeen(seen, accepted []string) []string {
	out := append([]string(nil), seen...)
	for _, cand := range accepted {
		cand = Normalize(cand)
		if cand == "" {
			continue
		}
		winner := cand
		kept := out[:0:0]
		for _, existing := range out {
			if sameEntity(strings.ToLower(existing), cand) {
				winner = moreSpecific(winner, strings.ToLower(existing))
				continue
			}
			kept = append(kept, existing)
		}
		out = append(kept, winner)
	}
	if len(out) > models.MaxSeenElements {
		out = out[len(out)-models.MaxSeenElements:]
	}
	return out
}

// TrimSeen keeps the SeenElementsTrimTo most recent entries on every
// SeenElementsTrimEvery-th turn.
func TrimSeen(seen []string, turn int) []string {
	if turn <= 0 || turn%models.SeenElementsTrimEvery != 0 || len(seen) <= models.SeenElementsTrimTo {
		return seen
	}
	return append([]string(nil), seen[len(seen)-models.SeenElementsTrimTo:]...)
}
