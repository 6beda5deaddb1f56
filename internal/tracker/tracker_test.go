package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"afkwatch/internal/database"
	"afkwatch/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type move struct {
	guildID   string
	userID    string
	channelID string
}

type fakeMover struct {
	mu     sync.Mutex
	moves  []move
	err    error
	during func()
}

func (f *fakeMover) GuildMemberMove(guildID string, userID string, channelID *string, _ ...discordgo.RequestOption) error {
	if f.during != nil {
		f.during()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.moves = append(f.moves, move{guildID, userID, *channelID})
	return nil
}

func (f *fakeMover) Moves() []move {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]move(nil), f.moves...)
}

type recorder struct {
	mu       sync.Mutex
	sessions []database.Session
	moves    []AFKMove
	unlocks  []string
}

func (r *recorder) SessionEnded(session database.Session, _ database.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, session)
}

func (r *recorder) MovedToAFK(m AFKMove) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, m)
}

func (r *recorder) AchievementUnlocked(u Unlock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unlocks = append(r.unlocks, u.Achievement.ID)
}

func (r *recorder) Sessions() []database.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]database.Session(nil), r.sessions...)
}

func (r *recorder) Unlocks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.unlocks...)
}

type harness struct {
	clock    *quartz.Mock
	db       *database.DB
	mover    *fakeMover
	listener *recorder
	metrics  *metrics.Metrics
	tracker  *Tracker
}

func newHarness(t *testing.T, settings database.Settings) *harness {
	t.Helper()

	db, err := database.Open(database.Options{Path: filepath.Join(t.TempDir(), "tracker.db"), DefaultTimeout: 10 * time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		clock:    quartz.NewMock(t),
		db:       db,
		mover:    &fakeMover{},
		listener: &recorder{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	if settings.GuildID != "" {
		require.NoError(t, db.SaveSettings(settings, h.clock.Now()))
	}
	h.tracker = New(Options{
		Clock:    h.clock,
		Store:    db,
		Mover:    h.mover,
		Listener: h.listener,
		Metrics:  h.metrics,
	})
	return h
}

func guildSettings() database.Settings {
	return database.Settings{
		GuildID:            "g",
		AFKChannelID:       "afk",
		TimeoutSeconds:     600,
		Enabled:            true,
		NotifyAchievements: true,
	}
}

func alice(channelID string) Member {
	return Member{GuildID: "g", UserID: "alice", Username: "Alice", ChannelID: channelID}
}

func TestIdleMemberIsMovedToAFK(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, guildSettings())
	start := h.clock.Now()

	h.tracker.VoiceState(alice("general"))
	snapshot := h.tracker.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, start.Add(10*time.Minute), snapshot[0].IdleDeadline)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ActiveVoiceUsers))

	// Activity five minutes in pushes the deadline back
	h.clock.Advance(5 * time.Minute).MustWait(ctx)
	h.tracker.Activity("g", "alice")
	assert.Equal(t, start.Add(15*time.Minute), h.tracker.Snapshot()[0].IdleDeadline)

	h.clock.Advance(10 * time.Minute).MustWait(ctx)

	assert.Equal(t, []move{{"g", "alice", "afk"}}, h.mover.Moves())
	assert.Empty(t, h.tracker.Snapshot())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AFKMoves))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.ActiveVoiceUsers))

	sessions := h.listener.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, database.REASON_AFK, sessions[0].Reason)
	assert.Equal(t, 5*time.Minute, sessions[0].Duration(), "idle time is not credited")

	h.listener.mu.Lock()
	require.Len(t, h.listener.moves, 1)
	assert.Equal(t, 10*time.Minute, h.listener.moves[0].Idle)
	assert.Equal(t, "general", h.listener.moves[0].FromChannelID)
	h.listener.mu.Unlock()

	stats, err := h.db.GetStats("g", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.AFKMoves)
	assert.Equal(t, int64(300), stats.VoiceSeconds)
	assert.Equal(t, "Alice", stats.Username)

	assert.ElementsMatch(t, []string{"first_call", "dozed_off"}, h.listener.Unlocks())

	// Discord then reports the member in the AFK channel, which starts nothing
	h.tracker.VoiceState(alice("afk"))
	assert.Empty(t, h.tracker.Snapshot())
}

func TestLeaveRecordsSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, guildSettings())

	h.tracker.VoiceState(alice("general"))
	h.clock.Advance(3 * time.Minute).MustWait(ctx)
	h.tracker.VoiceState(alice("gaming"))
	h.clock.Advance(4 * time.Minute).MustWait(ctx)
	h.tracker.VoiceState(alice(""))

	sessions := h.listener.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, database.REASON_LEFT, sessions[0].Reason)
	assert.Equal(t, 7*time.Minute, sessions[0].Duration())
	assert.Equal(t, "gaming", sessions[0].ChannelID)
	assert.Empty(t, h.mover.Moves())
	assert.Equal(t, []string{"first_call"}, h.listener.Unlocks())

	// Leaving twice is harmless
	h.tracker.Leave("g", "alice")
	assert.Len(t, h.listener.Sessions(), 1)
}

func TestMovingIntoAFKChannelEndsSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, guildSettings())

	h.tracker.VoiceState(alice("afk"))
	assert.Empty(t, h.tracker.Snapshot(), "joining the AFK channel is not a session")

	h.tracker.VoiceState(alice("general"))
	h.clock.Advance(2 * time.Minute).MustWait(ctx)
	h.tracker.VoiceState(alice("afk"))

	sessions := h.listener.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, database.REASON_LEFT, sessions[0].Reason)
	assert.Equal(t, 2*time.Minute, sessions[0].Duration())
	assert.Empty(t, h.mover.Moves())
}

func TestMembersThatAreNeverIdled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings func(database.Settings) database.Settings
		member   Member
	}{
		{
			name:     "disabled guild",
			settings: func(s database.Settings) database.Settings { s.Enabled = false; return s },
			member:   alice("general"),
		},
		{
			name:     "no AFK channel",
			settings: func(s database.Settings) database.Settings { s.AFKChannelID = ""; return s },
			member:   alice("general"),
		},
		{
			name:     "exempt user",
			settings: func(s database.Settings) database.Settings { s.ExemptUserIDs = database.IDList{"alice"}; return s },
			member:   alice("general"),
		},
		{
			name:     "exempt role",
			settings: func(s database.Settings) database.Settings { s.ExemptRoleIDs = database.IDList{"mods"}; return s },
			member:   Member{GuildID: "g", UserID: "bob", ChannelID: "general", Roles: []string{"mods"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tt.settings(guildSettings()))

			h.tracker.VoiceState(tt.member)
			snapshot := h.tracker.Snapshot()
			require.Len(t, snapshot, 1, "the session is still tracked")
			assert.True(t, snapshot[0].IdleDeadline.IsZero())
			_, ok := h.clock.Peek()
			assert.False(t, ok, "no timer armed")
		})
	}
}

func TestFailedMoveIsRetried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, guildSettings())
	h.mover.err = errors.New("missing permissions")

	h.tracker.VoiceState(alice("general"))
	h.clock.Advance(10 * time.Minute).MustWait(ctx)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AFKMoveFailures))
	snapshot := h.tracker.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, h.clock.Now().Add(10*time.Minute), snapshot[0].IdleDeadline)
	assert.Empty(t, h.listener.Sessions())

	h.mover.mu.Lock()
	h.mover.err = nil
	h.mover.mu.Unlock()
	h.clock.Advance(10 * time.Minute).MustWait(ctx)
	assert.Len(t, h.mover.Moves(), 1)
	assert.Empty(t, h.tracker.Snapshot())
}

func TestStateChangesCountAsActivity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, guildSettings())

	h.tracker.VoiceState(alice("general"))
	h.clock.Advance(9 * time.Minute).MustWait(ctx)
	// Same channel again, for instance after muting
	h.tracker.VoiceState(alice("general"))
	h.clock.Advance(9 * time.Minute).MustWait(ctx)
	assert.Empty(t, h.mover.Moves())

	h.clock.Advance(time.Minute).MustWait(ctx)
	assert.Len(t, h.mover.Moves(), 1)
}

func TestMessagesUnlockOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, guildSettings())

	h.tracker.Message("g", "bob", "Bob")
	h.tracker.Message("g", "bob", "Bob")

	assert.Equal(t, []string{"first_words"}, h.listener.Unlocks())
	stats, err := h.db.GetStats("g", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Messages)
}

func TestReloadAppliesNewTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, guildSettings())
	start := h.clock.Now()

	h.tracker.VoiceState(alice("general"))
	h.clock.Advance(2 * time.Minute).MustWait(ctx)

	settings := guildSettings()
	settings.TimeoutSeconds = 180
	require.NoError(t, h.db.SaveSettings(settings, h.clock.Now()))
	h.tracker.Reload("g")

	snapshot := h.tracker.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, start.Add(3*time.Minute), snapshot[0].IdleDeadline, "deadline counts from the last activity")

	h.clock.Advance(time.Minute).MustWait(ctx)
	assert.Len(t, h.mover.Moves(), 1)
}

func TestSyncEndsMissingMembers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, guildSettings())

	h.tracker.VoiceState(alice("general"))
	h.tracker.VoiceState(Member{GuildID: "g", UserID: "bob", ChannelID: "general"})
	h.clock.Advance(time.Minute).MustWait(ctx)

	h.tracker.Sync("g", []Member{
		{GuildID: "g", UserID: "bob", ChannelID: "general"},
		{GuildID: "g", UserID: "carol", ChannelID: "gaming"},
	})

	sessions := h.listener.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "alice", sessions[0].UserID)

	var users []string
	for _, p := range h.tracker.Snapshot() {
		users = append(users, p.UserID)
	}
	assert.ElementsMatch(t, []string{"bob", "carol"}, users)
}

func TestShutdownEndsEverySession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, guildSettings())

	h.tracker.VoiceState(alice("general"))
	h.tracker.VoiceState(Member{GuildID: "g", UserID: "bob", ChannelID: "gaming"})
	h.clock.Advance(time.Minute).MustWait(ctx)

	require.NoError(t, h.tracker.Shutdown())
	sessions := h.listener.Sessions()
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		assert.Equal(t, database.REASON_SHUTDOWN, s.Reason)
		assert.Equal(t, time.Minute, s.Duration())
	}
	_, ok := h.clock.Peek()
	assert.False(t, ok, "timers are stopped")

	h.tracker.VoiceState(alice("general"))
	assert.Empty(t, h.tracker.Snapshot(), "nothing is tracked after shutdown")
}

func TestShutdownUnlocksAchievements(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	settings := guildSettings()
	settings.Enabled = false
	h := newHarness(t, settings)

	h.tracker.VoiceState(alice("general"))
	h.clock.Advance(2 * time.Hour).MustWait(ctx)

	require.NoError(t, h.tracker.Shutdown())
	assert.ElementsMatch(t, []string{"first_call", "warming_up"}, h.listener.Unlocks())

	owned, err := h.db.GetAchievements("g", "alice")
	require.NoError(t, err)
	var ids []string
	for _, a := range owned {
		ids = append(ids, a.AchievementID)
	}
	assert.ElementsMatch(t, []string{"first_call", "warming_up"}, ids)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AchievementsUnlocked.WithLabelValues("warming_up")))
}

func TestEventsAfterShutdownAreIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, guildSettings())

	h.tracker.VoiceState(alice("general"))
	require.NoError(t, h.tracker.Shutdown())
	unlocked := h.listener.Unlocks()

	h.tracker.Message("g", "bob", "Bob")
	h.tracker.Activity("g", "alice")
	h.tracker.Sync("g", []Member{alice("general")})

	stats, err := h.db.GetStats("g", "bob")
	require.NoError(t, err)
	assert.Zero(t, stats.Messages)
	assert.Equal(t, unlocked, h.listener.Unlocks(), "nothing unlocks after shutdown")
	assert.Empty(t, h.tracker.Snapshot())
	_, ok := h.clock.Peek()
	assert.False(t, ok, "no timer armed after shutdown")
}

func TestSyncKeepsIdleDeadline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, guildSettings())
	start := h.clock.Now()

	h.tracker.VoiceState(alice("general"))
	h.clock.Advance(5 * time.Minute).MustWait(ctx)

	renamed := alice("general")
	renamed.Username = "Alice B"
	h.tracker.Sync("g", []Member{renamed})

	snapshot := h.tracker.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, start.Add(10*time.Minute), snapshot[0].IdleDeadline, "reconnecting is not activity")
	assert.Equal(t, start, snapshot[0].LastActivity)
	assert.Equal(t, "Alice B", snapshot[0].Username)

	h.clock.Advance(5 * time.Minute).MustWait(ctx)
	assert.Len(t, h.mover.Moves(), 1)
}

func TestMemberLeavingDuringMoveIsNotCounted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, guildSettings())
	h.mover.during = func() { h.tracker.Leave("g", "alice") }

	h.tracker.VoiceState(alice("general"))
	h.clock.Advance(10 * time.Minute).MustWait(ctx)

	assert.Len(t, h.mover.Moves(), 1)
	sessions := h.listener.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, database.REASON_LEFT, sessions[0].Reason)

	h.listener.mu.Lock()
	assert.Empty(t, h.listener.moves)
	h.listener.mu.Unlock()

	stats, err := h.db.GetStats("g", "alice")
	require.NoError(t, err)
	assert.Zero(t, stats.AFKMoves)
	assert.NotContains(t, h.listener.Unlocks(), "dozed_off")
}
