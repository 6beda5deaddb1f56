package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"afkwatch/internal/database"
	"afkwatch/internal/tracker"
)

const LEADERBOARD_SIZE = 10

// Members with any of these can change the settings
const adminPermissions = discordgo.PermissionManageServer | discordgo.PermissionAdministrator

// handleCommand parses the message and returns what to answer. Messages
// not meant for the bot get no responses
func (bot *Bot) handleCommand(message *discordgo.MessageCreate) []Response {

	parseResult := bot.parser.Parse(message.Content)
	switch parseResult.parseid {
	case PARSEID_NO_BOT_PREFIX:
		return nil
	case PARSEID_OK:
	default:
		// The command is invalid input, so it contains an error message
		log.Info().Str("content", message.Content).Str("reason", parseResult.errorMessage).Msg("Wrong input")
		return InputNotValid(parseResult.errorMessage)
	}

	name := commandNames[parseResult.command]
	bot.metrics.Commands.WithLabelValues(name).Inc()
	log.Info().Str("guild_id", message.GuildID).Str("user_id", message.Author.ID).Str("command", name).Msg("Command understood")

	if adminCommand(parseResult.command) && !bot.isAdmin(message.Author.ID, message.ChannelID) {
		log.Info().Str("guild_id", message.GuildID).Str("user_id", message.Author.ID).Msg("Rejecting admin command")
		return NotAllowed()
	}

	guildID := message.GuildID
	switch parseResult.command {
	case COMMAND_STATS:
		return bot.stats(guildID, userOrAuthor(parseResult, message))
	case COMMAND_TOP:
		return bot.top(guildID)
	case COMMAND_ACHIEVEMENTS:
		return bot.achievements(guildID, userOrAuthor(parseResult, message))
	case COMMAND_STATUS:
		return bot.status(guildID)
	case COMMAND_HELP:
		return HelpMessage(bot.parser.prefix)
	case COMMAND_CHANNEL:
		return bot.channel(guildID, parseResult.arguments.(string))
	case COMMAND_TIMEOUT:
		return bot.timeout(guildID, parseResult.arguments.(int))
	case COMMAND_ANNOUNCE:
		return bot.announce(guildID, parseResult.arguments.(string))
	case COMMAND_ENABLE:
		return bot.enable(guildID, true)
	case COMMAND_DISABLE:
		return bot.enable(guildID, false)
	case COMMAND_EXEMPT:
		return bot.exempt(guildID, parseResult.arguments.(string))
	case COMMAND_NOTIFY:
		return bot.notify(guildID, parseResult.arguments.(string))
	default:
		log.Error().Int("command", parseResult.command).Msg("Command is not one of the possible ones")
		return SomethingWentWrong()
	}
}

func userOrAuthor(parseResult ParseResult, message *discordgo.MessageCreate) string {
	if userID, _ := parseResult.arguments.(string); userID != "" {
		return userID
	}
	return message.Author.ID
}

func (bot *Bot) isAdmin(userID string, channelID string) bool {

	permissions, err := bot.discord.UserChannelPermissions(userID, channelID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Could not get permissions")
		return false
	}
	return permissions&adminPermissions != 0
}

func (bot *Bot) stats(guildID string, userID string) []Response {

	stats, err := bot.database.GetStats(guildID, userID)
	if err != nil {
		log.Error().Err(err).Msg("Could not get stats")
		return SomethingWentWrong()
	}
	owned, err := bot.database.GetAchievements(guildID, userID)
	if err != nil {
		log.Error().Err(err).Msg("Could not get achievements")
		return SomethingWentWrong()
	}

	// Include the running session if any
	var live *tracker.Presence
	for _, p := range bot.tracker.Snapshot() {
		if p.GuildID == guildID && p.UserID == userID {
			live = &p
			break
		}
	}
	return StatsMessage(stats, len(owned), live, bot.clock.Now())
}

func (bot *Bot) top(guildID string) []Response {

	board, err := bot.database.Leaderboard(guildID, LEADERBOARD_SIZE)
	if err != nil {
		log.Error().Err(err).Msg("Could not get leaderboard")
		return SomethingWentWrong()
	}
	return LeaderboardMessage(board)
}

func (bot *Bot) achievements(guildID string, userID string) []Response {

	stats, err := bot.database.GetStats(guildID, userID)
	if err != nil {
		log.Error().Err(err).Msg("Could not get stats")
		return SomethingWentWrong()
	}
	owned, err := bot.database.GetAchievements(guildID, userID)
	if err != nil {
		log.Error().Err(err).Msg("Could not get achievements")
		return SomethingWentWrong()
	}
	return AchievementsMessage(userID, stats, owned)
}

func (bot *Bot) status(guildID string) []Response {

	settings, err := bot.database.GetSettings(guildID)
	if err != nil {
		log.Error().Err(err).Msg("Could not get settings")
		return SomethingWentWrong()
	}
	watched := []tracker.Presence{}
	for _, p := range bot.tracker.Snapshot() {
		if p.GuildID == guildID {
			watched = append(watched, p)
		}
	}
	return StatusMessage(settings, watched, bot.clock.Now())
}

func (bot *Bot) channel(guildID string, channelName string) []Response {

	// Try to find the id from the channel name
	channelID, err := bot.getChannelId(guildID, channelName, discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice)
	if err != nil {
		log.Info().Err(err).Str("guild_id", guildID).Msg("AFK channel not found")
		return ChannelDoesNotExist(channelName, "voice")
	}

	_, err = bot.updateSettings(guildID, func(settings *database.Settings) {
		settings.AFKChannelID = channelID
	})
	if err != nil {
		return SomethingWentWrong()
	}
	log.Info().Str("guild_id", guildID).Str("channel_id", channelID).Msg("AFK channel changed")
	return AFKChannelChanged(channelID)
}

func (bot *Bot) timeout(guildID string, minutes int) []Response {

	timeout := time.Duration(minutes) * time.Minute
	_, err := bot.updateSettings(guildID, func(settings *database.Settings) {
		settings.TimeoutSeconds = int64(timeout / time.Second)
	})
	if err != nil {
		return SomethingWentWrong()
	}
	log.Info().Str("guild_id", guildID).Dur("timeout", timeout).Msg("AFK timeout changed")
	return TimeoutChanged(timeout)
}

func (bot *Bot) announce(guildID string, channelName string) []Response {

	channelID := ""
	if !strings.EqualFold(channelName, "off") {
		var err error
		channelID, err = bot.getChannelId(guildID, channelName, discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews)
		if err != nil {
			log.Info().Err(err).Str("guild_id", guildID).Msg("Announcement channel not found")
			return ChannelDoesNotExist(channelName, "text")
		}
	}

	_, err := bot.updateSettings(guildID, func(settings *database.Settings) {
		settings.AnnounceChannelID = channelID
	})
	if err != nil {
		return SomethingWentWrong()
	}
	log.Info().Str("guild_id", guildID).Str("channel_id", channelID).Msg("Announcement channel changed")
	return AnnounceChannelChanged(channelID)
}

func (bot *Bot) enable(guildID string, enabled bool) []Response {

	settings, err := bot.updateSettings(guildID, func(settings *database.Settings) {
		settings.Enabled = enabled
	})
	if err != nil {
		return SomethingWentWrong()
	}
	log.Info().Str("guild_id", guildID).Bool("enabled", enabled).Msg("Guild toggled")
	return EnabledChanged(enabled, settings.AFKChannelID)
}

func (bot *Bot) exempt(guildID string, userID string) []Response {

	var exempt bool
	_, err := bot.updateSettings(guildID, func(settings *database.Settings) {
		exempt = settings.ExemptUserIDs.Toggle(userID)
	})
	if err != nil {
		return SomethingWentWrong()
	}
	log.Info().Str("guild_id", guildID).Str("user_id", userID).Bool("exempt", exempt).Msg("Exemption toggled")
	return ExemptChanged(userID, exempt)
}

func (bot *Bot) notify(guildID string, kind string) []Response {

	var enabled bool
	_, err := bot.updateSettings(guildID, func(settings *database.Settings) {
		switch kind {
		case NOTIFY_AFK:
			settings.NotifyAFK = !settings.NotifyAFK
			enabled = settings.NotifyAFK
		case NOTIFY_ACHIEVEMENTS:
			settings.NotifyAchievements = !settings.NotifyAchievements
			enabled = settings.NotifyAchievements
		}
	})
	if err != nil {
		return SomethingWentWrong()
	}
	log.Info().Str("guild_id", guildID).Str("kind", kind).Bool("enabled", enabled).Msg("Notification toggled")
	return NotifyChanged(kind, enabled, bot.notifier.Enabled())
}

// updateSettings applies the change to the stored settings and makes the
// tracker use them
func (bot *Bot) updateSettings(guildID string, change func(*database.Settings)) (database.Settings, error) {

	settings, err := bot.database.GetSettings(guildID)
	if err != nil {
		log.Error().Err(err).Str("guild_id", guildID).Msg("Could not get settings")
		return database.Settings{}, err
	}
	change(&settings)
	if err := bot.database.SaveSettings(settings, bot.clock.Now()); err != nil {
		log.Error().Err(err).Str("guild_id", guildID).Msg("Could not save settings")
		return database.Settings{}, err
	}
	bot.tracker.Reload(guildID)
	return settings, nil
}

func (bot *Bot) getChannelId(guildID string, channelName string, types ...discordgo.ChannelType) (string, error) {

	channels, err := bot.discord.GuildChannels(guildID)
	if err != nil {
		return "", fmt.Errorf("could not extract list of channels of guild id %s: %w", guildID, err)
	}
	for _, ch := range channels {
		if !strings.EqualFold(ch.Name, channelName) {
			continue
		}
		for _, t := range types {
			if ch.Type == t {
				return ch.ID, nil
			}
		}
	}
	return "", fmt.Errorf("no channel id found for channel name %s", channelName)
}
