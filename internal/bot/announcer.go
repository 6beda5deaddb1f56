package bot

import (
	"github.com/rs/zerolog/log"

	"afkwatch/internal/database"
	"afkwatch/internal/telegram"
	"afkwatch/internal/tracker"
)

// Announcer tells the guilds and the administrators what the tracker did
type Announcer struct {
	discord  Sender
	database *database.DB
	notifier *telegram.Notifier
}

func NewAnnouncer(discord Sender, db *database.DB, notifier *telegram.Notifier) *Announcer {
	return &Announcer{discord: discord, database: db, notifier: notifier}
}

func (a *Announcer) SessionEnded(session database.Session, stats database.Stats) {
	log.Debug().Str("guild_id", session.GuildID).Str("user_id", session.UserID).Str("reason", session.Reason).
		Int64("voice_seconds", stats.VoiceSeconds).Msg("Session recorded")
}

func (a *Announcer) MovedToAFK(move tracker.AFKMove) {

	settings, ok := a.settings(move.GuildID)
	if !ok || !settings.NotifyAFK {
		return
	}
	a.notifier.NotifyAsync(telegram.FormatAFKMove(guildName(settings), username(move.Username, move.UserID), move.Idle, move.Stats))
}

func (a *Announcer) AchievementUnlocked(unlock tracker.Unlock) {

	settings, ok := a.settings(unlock.GuildID)
	if !ok {
		return
	}

	if settings.AnnounceChannelID != "" {
		if err := AchievementAnnouncement(unlock).Send(settings.AnnounceChannelID, a.discord); err != nil {
			log.Error().Err(err).Str("guild_id", unlock.GuildID).Str("channel_id", settings.AnnounceChannelID).
				Msg("Could not announce achievement")
		}
	}
	if settings.NotifyAchievements {
		a.notifier.NotifyAsync(telegram.FormatAchievement(guildName(settings), username(unlock.Username, unlock.UserID), unlock.Achievement))
	}
}

func (a *Announcer) settings(guildID string) (database.Settings, bool) {
	settings, err := a.database.GetSettings(guildID)
	if err != nil {
		log.Error().Err(err).Str("guild_id", guildID).Msg("Could not get settings")
		return database.Settings{}, false
	}
	return settings, true
}

func guildName(settings database.Settings) string {
	if settings.GuildName == "" {
		return settings.GuildID
	}
	return settings.GuildName
}

func username(name string, userID string) string {
	if name == "" {
		return userID
	}
	return name
}
