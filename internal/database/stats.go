package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const statsColumns = `guild_id, user_id, username, voice_seconds, sessions, longest_session_seconds,
	afk_moves, messages, last_seen`

type queryer interface {
	Get(dest interface{}, query string, args ...interface{}) error
}

func getStats(q queryer, guildID string, userID string) (Stats, error) {

	var stats Stats
	err := q.Get(&stats, `SELECT `+statsColumns+` FROM stats WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{GuildID: guildID, UserID: userID}, nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("get stats of user %s in guild %s: %w", userID, guildID, err)
	}
	return stats, nil
}

// GetStats returns the stats of a member. Members never seen get zeroed stats
func (db *DB) GetStats(guildID string, userID string) (Stats, error) {
	return getStats(db.db, guildID, userID)
}

// AddMessage counts one more message sent by the member
func (db *DB) AddMessage(guildID string, userID string, username string, at time.Time) (Stats, error) {

	_, err := db.db.Exec(`INSERT INTO stats (guild_id, user_id, username, messages, last_seen)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			messages = messages + 1,
			username = CASE WHEN excluded.username = '' THEN username ELSE excluded.username END,
			last_seen = MAX(last_seen, excluded.last_seen)`,
		guildID, userID, username, At(at))
	if err != nil {
		return Stats{}, fmt.Errorf("add message of user %s in guild %s: %w", userID, guildID, err)
	}
	return db.GetStats(guildID, userID)
}

// AddAFKMove counts one more move of the member to the AFK channel
func (db *DB) AddAFKMove(guildID string, userID string, at time.Time) (Stats, error) {

	_, err := db.db.Exec(`INSERT INTO stats (guild_id, user_id, afk_moves, last_seen)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			afk_moves = afk_moves + 1,
			last_seen = MAX(last_seen, excluded.last_seen)`,
		guildID, userID, At(at))
	if err != nil {
		return Stats{}, fmt.Errorf("add afk move of user %s in guild %s: %w", userID, guildID, err)
	}
	return db.GetStats(guildID, userID)
}

// RecordSession stores a finished voice session and adds it to the stats
// of the member, returning the updated stats
func (db *DB) RecordSession(session Session) (Stats, error) {

	if session.DurationSeconds < 0 {
		session.DurationSeconds = 0
	}

	tx, err := db.db.Beginx()
	if err != nil {
		return Stats{}, fmt.Errorf("begin record session: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO sessions (id, guild_id, user_id, channel_id, started_at, ended_at, duration_seconds, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.GuildID, session.UserID, session.ChannelID, session.StartedAt, session.EndedAt,
		session.DurationSeconds, session.Reason)
	if err != nil {
		return Stats{}, fmt.Errorf("insert session %s: %w", session.ID, err)
	}

	_, err = tx.Exec(`INSERT INTO stats (guild_id, user_id, username, voice_seconds, sessions, longest_session_seconds, last_seen)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			voice_seconds = voice_seconds + excluded.voice_seconds,
			sessions = sessions + 1,
			longest_session_seconds = MAX(longest_session_seconds, excluded.longest_session_seconds),
			username = CASE WHEN excluded.username = '' THEN username ELSE excluded.username END,
			last_seen = MAX(last_seen, excluded.last_seen)`,
		session.GuildID, session.UserID, session.Username, session.DurationSeconds, session.DurationSeconds, session.EndedAt)
	if err != nil {
		return Stats{}, fmt.Errorf("update stats for session %s: %w", session.ID, err)
	}

	stats, err := getStats(tx, session.GuildID, session.UserID)
	if err != nil {
		return Stats{}, err
	}
	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit session %s: %w", session.ID, err)
	}
	return stats, nil
}

// Leaderboard returns the members of a guild with the most voice time
// first. Members that never finished a session are left out
func (db *DB) Leaderboard(guildID string, limit int) ([]Stats, error) {

	board := []Stats{}
	err := db.db.Select(&board, `SELECT `+statsColumns+` FROM stats WHERE guild_id = ? AND sessions > 0
		ORDER BY voice_seconds DESC, user_id LIMIT ?`, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard of guild %s: %w", guildID, err)
	}
	return board, nil
}

func (db *DB) GuildTotals(guildID string) (GuildTotals, error) {

	var totals GuildTotals
	err := db.db.Get(&totals, `SELECT COUNT(*) AS users,
			COALESCE(SUM(voice_seconds), 0) AS voice_seconds,
			COALESCE(SUM(sessions), 0) AS sessions,
			COALESCE(SUM(afk_moves), 0) AS afk_moves,
			COALESCE(SUM(messages), 0) AS messages
		FROM stats WHERE guild_id = ?`, guildID)
	if err != nil {
		return GuildTotals{}, fmt.Errorf("totals of guild %s: %w", guildID, err)
	}
	return totals, nil
}
