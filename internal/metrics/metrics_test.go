package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEverything(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AFKMoves.Inc()
	m.SessionsEnded.WithLabelValues("left").Add(2)
	m.ActiveVoiceUsers.Set(3)
	m.SessionDuration.Observe(120)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AFKMoves))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsEnded.WithLabelValues("left")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveVoiceUsers))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["afkwatch_afk_moves_total"])
	assert.True(t, names["afkwatch_session_duration_seconds"])

	assert.Panics(t, func() { New(reg) }, "registering twice on the same registry fails")
}
