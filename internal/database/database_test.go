package database

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{Path: filepath.Join(t.TempDir(), "test.db"), DefaultTimeout: 15 * time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(Options{Path: path})
	require.NoError(t, err)
	version, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
	require.NoError(t, db.Close())

	db, err = Open(Options{Path: path})
	require.NoError(t, err)
	defer db.Close()
	version, err = db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestSettings(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	settings, err := db.GetSettings("g1")
	require.NoError(t, err)
	assert.Equal(t, db.DefaultSettings("g1"), settings)
	assert.Equal(t, 15*time.Minute, settings.Timeout())
	assert.True(t, settings.Enabled)

	settings.AFKChannelID = "afk"
	settings.TimeoutSeconds = 300
	settings.ExemptUserIDs = IDList{"u1", "u2"}
	settings.ExemptRoleIDs = IDList{"r1"}
	settings.NotifyAFK = true
	require.NoError(t, db.SaveSettings(settings, epoch))

	got, err := db.GetSettings("g1")
	require.NoError(t, err)
	assert.Equal(t, "afk", got.AFKChannelID)
	assert.Equal(t, 5*time.Minute, got.Timeout())
	assert.Equal(t, IDList{"u1", "u2"}, got.ExemptUserIDs)
	assert.True(t, got.NotifyAFK)
	assert.True(t, got.NotifyAchievements)
	assert.True(t, got.UpdatedAt.Equal(epoch))
	assert.True(t, got.Exempt("u2", nil))
	assert.True(t, got.Exempt("u9", []string{"r0", "r1"}))
	assert.False(t, got.Exempt("u9", []string{"r0"}))

	got.TimeoutSeconds = 0
	assert.Error(t, db.SaveSettings(got, epoch))

	require.NoError(t, db.TouchGuild("g1", "Guild One"))
	require.NoError(t, db.TouchGuild("g2", "Another"))
	guilds, err := db.ListGuilds()
	require.NoError(t, err)
	require.Len(t, guilds, 2)
	assert.Equal(t, "Another", guilds[0].GuildName)
	assert.Equal(t, "Guild One", guilds[1].GuildName)
	assert.Equal(t, "afk", guilds[1].AFKChannelID, "touching a guild keeps its settings")
}

func TestRecordSession(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	stats, err := db.RecordSession(Session{
		ID: "s1", GuildID: "g", UserID: "u", Username: "alice", ChannelID: "c",
		StartedAt: At(epoch), EndedAt: At(epoch.Add(time.Hour)), DurationSeconds: 3600, Reason: REASON_LEFT,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3600), stats.VoiceSeconds)
	assert.Equal(t, int64(1), stats.Sessions)
	assert.Equal(t, "alice", stats.Username)

	stats, err = db.RecordSession(Session{
		ID: "s2", GuildID: "g", UserID: "u", ChannelID: "c",
		StartedAt: At(epoch.Add(2 * time.Hour)), EndedAt: At(epoch.Add(150 * time.Minute)), DurationSeconds: 1800, Reason: REASON_AFK,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5400), stats.VoiceSeconds)
	assert.Equal(t, int64(2), stats.Sessions)
	assert.Equal(t, time.Hour, stats.LongestSession())
	assert.Equal(t, "alice", stats.Username, "an empty username keeps the stored one")
	assert.True(t, stats.LastSeen.Equal(epoch.Add(150*time.Minute)))

	_, err = db.RecordSession(Session{ID: "s1", GuildID: "g", UserID: "u", Reason: REASON_LEFT})
	require.Error(t, err, "duplicate session ids are rejected")
	stats, err = db.GetStats("g", "u")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Sessions, "failed session left the stats untouched")

	sessions, err := db.RecentSessions("g", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.Equal(t, "alice", sessions[0].Username)
	assert.Equal(t, 30*time.Minute, sessions[0].Duration())

	activity, err := db.ActivitySince(epoch.Add(90 * time.Minute))
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, Activity{GuildID: "g", Users: 1, Sessions: 1, VoiceSeconds: 1800, AFKMoves: 1}, activity[0])

	pruned, err := db.PruneSessions(epoch.Add(90 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
	stats, err = db.GetStats("g", "u")
	require.NoError(t, err)
	assert.Equal(t, int64(5400), stats.VoiceSeconds, "pruning keeps aggregated stats")
}

func TestCountersAndLeaderboard(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	stats, err := db.GetStats("g", "nobody")
	require.NoError(t, err)
	assert.Equal(t, Stats{GuildID: "g", UserID: "nobody"}, stats)

	for i := 0; i < 3; i++ {
		stats, err = db.AddMessage("g", "a", "alice", epoch)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), stats.Messages)

	stats, err = db.AddAFKMove("g", "a", epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.AFKMoves)

	_, err = db.RecordSession(Session{ID: "1", GuildID: "g", UserID: "b", DurationSeconds: 100, Reason: REASON_LEFT})
	require.NoError(t, err)
	_, err = db.RecordSession(Session{ID: "2", GuildID: "g", UserID: "a", DurationSeconds: 50, Reason: REASON_LEFT})
	require.NoError(t, err)
	_, err = db.RecordSession(Session{ID: "3", GuildID: "other", UserID: "c", DurationSeconds: 500, Reason: REASON_LEFT})
	require.NoError(t, err)

	board, err := db.Leaderboard("g", 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "b", board[0].UserID)
	assert.Equal(t, "a", board[1].UserID)

	totals, err := db.GuildTotals("g")
	require.NoError(t, err)
	assert.Equal(t, GuildTotals{Users: 2, VoiceSeconds: 150, Sessions: 2, AFKMoves: 1, Messages: 3}, totals)
}

func TestAchievements(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	unlocked, err := db.UnlockAchievements("g", "u", []string{"first", "second"}, epoch)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, unlocked)

	unlocked, err = db.UnlockAchievements("g", "u", []string{"second", "third"}, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"third"}, unlocked)

	unlocked, err = db.UnlockAchievements("g", "u", nil, epoch)
	require.NoError(t, err)
	assert.Empty(t, unlocked)

	all, err := db.GetAchievements("g", "u")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].AchievementID)

	recent, err := db.RecentAchievements("g", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "third", recent[0].AchievementID)
}

func TestIDList(t *testing.T) {
	t.Parallel()
	var list IDList
	require.NoError(t, list.Scan(" a, ,b "))
	assert.Equal(t, IDList{"a", "b"}, list)
	assert.True(t, list.Toggle("c"))
	assert.False(t, list.Toggle("a"))
	assert.Equal(t, IDList{"b", "c"}, list)
	value, err := list.Value()
	require.NoError(t, err)
	assert.Equal(t, "b,c", value)

	require.NoError(t, list.Scan(nil))
	assert.Empty(t, list)
}

func TestActivityCountsAFKSessions(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	for i, reason := range []string{REASON_LEFT, REASON_AFK, REASON_SHUTDOWN, REASON_AFK} {
		start := epoch.Add(time.Duration(i) * time.Hour)
		_, err := db.RecordSession(Session{
			ID: fmt.Sprintf("s%d", i), GuildID: "g", UserID: fmt.Sprintf("u%d", i%2), ChannelID: "c",
			StartedAt: At(start), EndedAt: At(start.Add(10 * time.Minute)), DurationSeconds: 600, Reason: reason,
		})
		require.NoError(t, err)
	}
	// A counted move without an AFK session is not part of the summary
	_, err := db.AddAFKMove("g", "u0", epoch)
	require.NoError(t, err)

	activity, err := db.ActivitySince(epoch)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, Activity{GuildID: "g", Users: 2, Sessions: 4, VoiceSeconds: 2400, AFKMoves: 2}, activity[0])
}
