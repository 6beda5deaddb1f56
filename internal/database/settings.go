package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const settingsColumns = `guild_id, guild_name, afk_channel_id, timeout_seconds, enabled, announce_channel_id,
	exempt_user_ids, exempt_role_ids, notify_afk, notify_achievements, updated_at`

// DefaultSettings are the settings of a guild nobody configured yet
func (db *DB) DefaultSettings(guildID string) Settings {
	return Settings{
		GuildID:            guildID,
		TimeoutSeconds:     int64(db.defaultTimeout / time.Second),
		Enabled:            true,
		NotifyAchievements: true,
	}
}

// GetSettings returns the settings of the guild, or the defaults
// if the guild has none stored
func (db *DB) GetSettings(guildID string) (Settings, error) {

	var settings Settings
	err := db.db.Get(&settings, `SELECT `+settingsColumns+` FROM settings WHERE guild_id = ?`, guildID)
	if errors.Is(err, sql.ErrNoRows) {
		return db.DefaultSettings(guildID), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("get settings of guild %s: %w", guildID, err)
	}
	return settings, nil
}

// SaveSettings stores every field of the settings. Last write wins
func (db *DB) SaveSettings(settings Settings, now time.Time) error {

	if settings.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout must be positive, got %d seconds", settings.TimeoutSeconds)
	}
	settings.UpdatedAt = At(now)
	_, err := db.db.Exec(`INSERT INTO settings (`+settingsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			guild_name = excluded.guild_name,
			afk_channel_id = excluded.afk_channel_id,
			timeout_seconds = excluded.timeout_seconds,
			enabled = excluded.enabled,
			announce_channel_id = excluded.announce_channel_id,
			exempt_user_ids = excluded.exempt_user_ids,
			exempt_role_ids = excluded.exempt_role_ids,
			notify_afk = excluded.notify_afk,
			notify_achievements = excluded.notify_achievements,
			updated_at = excluded.updated_at`,
		settings.GuildID, settings.GuildName, settings.AFKChannelID, settings.TimeoutSeconds, settings.Enabled,
		settings.AnnounceChannelID, settings.ExemptUserIDs, settings.ExemptRoleIDs, settings.NotifyAFK,
		settings.NotifyAchievements, settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save settings of guild %s: %w", settings.GuildID, err)
	}
	return nil
}

// TouchGuild makes sure the guild has a settings row and records its name
func (db *DB) TouchGuild(guildID string, name string) error {

	defaults := db.DefaultSettings(guildID)
	_, err := db.db.Exec(`INSERT INTO settings (guild_id, guild_name, timeout_seconds, enabled, notify_achievements)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET guild_name = excluded.guild_name`,
		guildID, name, defaults.TimeoutSeconds, defaults.Enabled, defaults.NotifyAchievements)
	if err != nil {
		return fmt.Errorf("touch guild %s: %w", guildID, err)
	}
	return nil
}

// ListGuilds returns the settings of every known guild
func (db *DB) ListGuilds() ([]Settings, error) {

	guilds := []Settings{}
	err := db.db.Select(&guilds, `SELECT `+settingsColumns+` FROM settings ORDER BY guild_name, guild_id`)
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	return guilds, nil
}
