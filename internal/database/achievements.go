package database

import (
	"fmt"
	"time"
)

// UnlockAchievements stores the achievements for the member and returns
// the ids that were not unlocked before
func (db *DB) UnlockAchievements(guildID string, userID string, ids []string, at time.Time) ([]string, error) {

	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := db.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("begin unlock achievements: %w", err)
	}
	defer tx.Rollback()

	unlocked := []string{}
	for _, id := range ids {
		res, err := tx.Exec(`INSERT OR IGNORE INTO achievements (guild_id, user_id, achievement_id, unlocked_at)
			VALUES (?, ?, ?, ?)`, guildID, userID, id, At(at))
		if err != nil {
			return nil, fmt.Errorf("unlock achievement %s for user %s: %w", id, userID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			unlocked = append(unlocked, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit achievements for user %s: %w", userID, err)
	}
	return unlocked, nil
}

// GetAchievements returns what the member unlocked, oldest first
func (db *DB) GetAchievements(guildID string, userID string) ([]Achievement, error) {

	achievements := []Achievement{}
	err := db.db.Select(&achievements, `SELECT guild_id, user_id, achievement_id, unlocked_at
		FROM achievements WHERE guild_id = ? AND user_id = ?
		ORDER BY unlocked_at, achievement_id`, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("achievements of user %s in guild %s: %w", userID, guildID, err)
	}
	return achievements, nil
}

// RecentAchievements returns the last achievements unlocked in the guild
func (db *DB) RecentAchievements(guildID string, limit int) ([]Achievement, error) {

	achievements := []Achievement{}
	err := db.db.Select(&achievements, `SELECT guild_id, user_id, achievement_id, unlocked_at
		FROM achievements WHERE guild_id = ?
		ORDER BY unlocked_at DESC, achievement_id LIMIT ?`, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent achievements of guild %s: %w", guildID, err)
	}
	return achievements, nil
}
