package database

import (
	"fmt"
	"time"
)

// RecentSessions returns the last sessions that ended in the guild
func (db *DB) RecentSessions(guildID string, limit int) ([]Session, error) {

	sessions := []Session{}
	err := db.db.Select(&sessions, `SELECT s.id, s.guild_id, s.user_id, COALESCE(st.username, '') AS username,
			s.channel_id, s.started_at, s.ended_at, s.duration_seconds, s.reason
		FROM sessions s
		LEFT JOIN stats st ON st.guild_id = s.guild_id AND st.user_id = s.user_id
		WHERE s.guild_id = ?
		ORDER BY s.ended_at DESC, s.id LIMIT ?`, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sessions of guild %s: %w", guildID, err)
	}
	return sessions, nil
}

// ActivitySince summarises, per guild, the sessions that ended after the
// provided time. An AFK move always ends exactly one session with the afk
// reason, so those sessions are the AFK moves
func (db *DB) ActivitySince(since time.Time) ([]Activity, error) {

	activity := []Activity{}
	err := db.db.Select(&activity, `SELECT guild_id,
			COUNT(DISTINCT user_id) AS users,
			COUNT(*) AS sessions,
			COALESCE(SUM(duration_seconds), 0) AS voice_seconds,
			COALESCE(SUM(CASE WHEN reason = ? THEN 1 ELSE 0 END), 0) AS afk_moves
		FROM sessions WHERE ended_at >= ?
		GROUP BY guild_id ORDER BY guild_id`, REASON_AFK, At(since))
	if err != nil {
		return nil, fmt.Errorf("activity since %s: %w", since, err)
	}
	return activity, nil
}

// PruneSessions deletes the sessions that ended before the provided time.
// Aggregated stats are kept
func (db *DB) PruneSessions(before time.Time) (int64, error) {

	res, err := db.db.Exec(`DELETE FROM sessions WHERE ended_at < ?`, At(before))
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}
