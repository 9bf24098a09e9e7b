package world

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tatianab/storyframe/internal/models"
)

func TestEntityFilter_Classify(t *testing.T) {
	filter := NewEntityFilter(worldPrompt)

	tests := []struct {
		phrase string
		want   Exclusion
		norm   string
	}{
		{"the skeletal guard tower", Accepted, "skeletal guard tower"},
		{"Rusted Iron Gate", Accepted, "rusted iron gate"},
		{"you", SelfReference, "you"},
		{"your hands", SelfReference, "your hands"},
		{"the Player", SelfReference, "the player"},
		{"Vel Marrow", SettingName, "vel marrow"},
		{"the streets of Vel Marrow", SettingName, "streets of vel marrow"},
		{"growing dread", AbstractNoun, "growing dread"},
		{"silence", AbstractNoun, "silence"},
		{"running", BareVerb, "running"},
		{"hiding", BareVerb, "hiding"},
		{"stone", GenericMaterial, "stone"},
		{"black smoke", GenericMaterial, "black smoke"},
		{"stone altar", Accepted, "stone altar"},
		{"a very long phrase that never ends here", Malformed, "very long phrase that never ends here"},
		{"x", Malformed, "x"},
		{"!!!", Malformed, ""},
		{"42", Malformed, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			norm, got := filter.Classify(tt.phrase)
			assert.Equal(t, tt.want, got, "exclusion %s", got)
			assert.Equal(t, tt.norm, norm)
		})
	}
}

func TestEntityFilter_Accept(t *testing.T) {
	accepted, rejected := NewEntityFilter(worldPrompt).Accept([]string{"A Lantern", "fear", "you", "ferryman"})
	assert.Equal(t, []string{"lantern", "ferryman"}, accepted)
	assert.Equal(t, []string{"fear"}, rejected[AbstractNoun])
	assert.Equal(t, []string{"you"}, rejected[SelfReference])
}

func TestSettingNames(t *testing.T) {
	assert.Equal(t, []string{"vel marrow"}, settingNames(worldPrompt))
	assert.Equal(t, []string{"ashen reach"}, settingNames("The Ashen Reach\nA wasteland of cinders."))
	assert.Empty(t, settingNames("Rain hammers the neon streets. Nobody sleeps."))
	assert.Equal(t, []string{"neo-kyoto"}, settingNames("Neo-Kyoto never sleeps. Neo-Kyoto hungers."))
}

func TestMergeSeen(t *testing.T) {
	t.Run("substring keeps more specific", func(t *testing.T) {
		assert.Equal(t, []string{"skeletal guard tower"}, MergeSeen([]string{"guard tower"}, []string{"skeletal guard tower"}))
		assert.Equal(t, []string{"skeletal guard tower"}, MergeSeen([]string{"skeletal guard tower"}, []string{"guard tower"}))
	})

	t.Run("case insensitive exact", func(t *testing.T) {
		assert.Equal(t, []string{"lantern"}, MergeSeen([]string{"Lantern"}, []string{"lantern"}))
	})

	t.Run("word boundaries only", func(t *testing.T) {
		assert.Equal(t, []string{"pirate", "rat"}, MergeSeen([]string{"pirate"}, []string{"rat"}))
	})

	t.Run("plural matches singular", func(t *testing.T) {
		assert.Equal(t, []string{"lanterns"}, MergeSeen([]string{"lantern"}, []string{"lanterns"}))
		assert.Equal(t, []string{"rusted iron gates"}, MergeSeen([]string{"rusted iron gates"}, []string{"iron gate"}))
		assert.Equal(t, []string{"torches"}, MergeSeen([]string{"torch"}, []string{"torches"}))
		assert.Equal(t, []string{"rat", "rations"}, MergeSeen([]string{"rat"}, []string{"rations"}))
	})

	t.Run("winner moves to most recent", func(t *testing.T) {
		got := MergeSeen([]string{"tower", "raft", "gate"}, []string{"old tower"})
		assert.Equal(t, []string{"raft", "gate", "old tower"}, got)
	})

	t.Run("candidate joins several entries", func(t *testing.T) {
		got := MergeSeen([]string{"iron gate", "gate"}, []string{"rusted iron gate"})
		assert.Equal(t, []string{"rusted iron gate"}, got)
	})

	t.Run("capped oldest first", func(t *testing.T) {
		var seen []string
		for i := 0; i < models.MaxSeenElements; i++ {
			seen = append(seen, fmt.Sprintf("crate %d", i))
		}
		got := MergeSeen(seen, []string{"ferryman"})
		assert.Len(t, got, models.MaxSeenElements)
		assert.Equal(t, "crate 1", got[0])
		assert.Equal(t, "ferryman", got[len(got)-1])
	})
}

func TestTrimSeen(t *testing.T) {
	var seen []string
	for i := 0; i < 45; i++ {
		seen = append(seen, fmt.Sprintf("crate %d", i))
	}
	assert.Len(t, TrimSeen(seen, 29), 45)
	trimmed := TrimSeen(seen, 30)
	assert.Len(t, trimmed, models.SeenElementsTrimTo)
	assert.Equal(t, "crate 5", trimmed[0])
	assert.Len(t, TrimSeen(seen, 0), 45)
}
