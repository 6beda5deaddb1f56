package achievements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afkwatch/internal/database"
)

func TestCatalogueIDsAreUnique(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}
	for _, a := range All() {
		require.False(t, seen[a.ID], "duplicate id %s", a.ID)
		seen[a.ID] = true
		assert.Positive(t, a.Threshold, a.ID)
		assert.NotEmpty(t, a.Name, a.ID)
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		stats    database.Stats
		unlocked map[string]bool
		want     []string
	}{
		{name: "nothing yet", want: []string{}},
		{
			name:  "first session",
			stats: database.Stats{Sessions: 1, VoiceSeconds: 600, LongestSessionSeconds: 600},
			want:  []string{"first_call"},
		},
		{
			name:  "exact thresholds",
			stats: database.Stats{Sessions: 25, VoiceSeconds: int64(time.Hour / time.Second), LongestSessionSeconds: int64(4 * time.Hour / time.Second)},
			want:  []string{"first_call", "regular", "warming_up", "marathon"},
		},
		{
			name:     "already unlocked are skipped",
			stats:    database.Stats{Sessions: 25, AFKMoves: 1, Messages: 1},
			unlocked: map[string]bool{"first_call": true, "first_words": true},
			want:     []string{"regular", "dozed_off"},
		},
		{
			name:  "one below threshold",
			stats: database.Stats{Messages: 499},
			want:  []string{"first_words"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IDs(Evaluate(tt.stats, tt.unlocked)))
		})
	}
}

func TestLookupAndProgress(t *testing.T) {
	t.Parallel()

	a, ok := Lookup("chatterbox")
	require.True(t, ok)
	current, target := a.Progress(database.Stats{VoiceSeconds: 6 * 3600})
	assert.Equal(t, 6.0, current)
	assert.Equal(t, 24.0, target)
	assert.Equal(t, "🗣️ Chatterbox", a.String())

	_, ok = Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, "afk moves", METRIC_AFK_MOVES.String())
}
