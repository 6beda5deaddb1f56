package bot

import (
	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"afkwatch/internal/telegram"
	"afkwatch/internal/tracker"
)

func (bot *Bot) ready(_ *discordgo.Session, r *discordgo.Ready) {

	bot.mu.Lock()
	bot.selfID = r.User.ID
	bot.name = r.User.Username
	bot.mu.Unlock()
	log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("Connected to discord")

	// Ready is sent again on every reconnection
	bot.started.Do(func() {
		bot.notifier.NotifyAsync(telegram.FormatStarted(r.User.Username, len(r.Guilds)))
	})
}

// guildCreate is received for every guild when connecting, so it is where
// the members already sitting in voice channels are picked up
func (bot *Bot) guildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {

	if g.Guild == nil || g.Unavailable {
		return
	}
	if err := bot.database.TouchGuild(g.ID, g.Name); err != nil {
		log.Error().Err(err).Str("guild_id", g.ID).Msg("Could not register guild")
	}

	// Members carries the roles and names of the ones in voice
	members := map[string]*discordgo.Member{}
	for _, member := range g.Members {
		if member.User != nil {
			members[member.User.ID] = member
		}
	}

	var inVoice []tracker.Member
	for _, vs := range g.VoiceStates {
		member := vs.Member
		if member == nil {
			member = members[vs.UserID]
		}
		if bot.ignored(vs.UserID, member) || vs.ChannelID == "" {
			continue
		}
		inVoice = append(inVoice, trackerMember(g.ID, vs.UserID, vs.ChannelID, member))
	}
	log.Info().Str("guild_id", g.ID).Str("guild", g.Name).Int("in_voice", len(inVoice)).Msg("Guild available")
	bot.tracker.Sync(g.ID, inVoice)
}

func (bot *Bot) voiceStateUpdate(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {

	if v.VoiceState == nil || v.GuildID == "" || bot.ignored(v.UserID, v.Member) {
		return
	}
	log.Debug().Str("guild_id", v.GuildID).Str("user_id", v.UserID).Str("channel_id", v.ChannelID).Msg("Voice state update")
	// Mute, deafen, stream and video toggles arrive here too and count as activity
	bot.tracker.VoiceState(trackerMember(v.GuildID, v.UserID, v.ChannelID, v.Member))
}

func (bot *Bot) messageCreate(_ *discordgo.Session, message *discordgo.MessageCreate) {

	// Reject my own messages and the ones of other bots
	if message.Author == nil || message.Author.Bot || message.Author.ID == bot.botID() {
		return
	}

	// Ignore messages from private channels
	if message.GuildID == "" {
		log.Debug().Str("user_id", message.Author.ID).Msg("Ignoring private message")
		return
	}

	bot.tracker.Message(message.GuildID, message.Author.ID, displayName(message.Author, message.Member))

	responses := bot.handleCommand(message)
	bot.sendResponses(message.ChannelID, responses)
}

func (bot *Bot) reactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {

	if r.MessageReaction == nil || r.GuildID == "" || r.UserID == bot.botID() {
		return
	}
	if r.Member != nil && r.Member.User != nil && r.Member.User.Bot {
		return
	}
	bot.tracker.Activity(r.GuildID, r.UserID)
}

func (bot *Bot) sendResponses(channelID string, responses []Response) {
	for _, response := range responses {
		if err := response.Send(channelID, bot.discord); err != nil {
			log.Error().Err(err).Str("channel_id", channelID).Msg("Could not send response")
		}
	}
}

// ignored tells if the user is this bot or another bot
func (bot *Bot) ignored(userID string, member *discordgo.Member) bool {
	if userID == bot.botID() {
		return true
	}
	return member != nil && member.User != nil && member.User.Bot
}

func trackerMember(guildID string, userID string, channelID string, member *discordgo.Member) tracker.Member {

	m := tracker.Member{GuildID: guildID, UserID: userID, ChannelID: channelID}
	if member != nil {
		m.Roles = member.Roles
		m.Username = displayName(member.User, member)
	}
	return m
}

// displayName prefers the guild nickname, then the global name
func displayName(user *discordgo.User, member *discordgo.Member) string {

	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user == nil && member != nil {
		user = member.User
	}
	if user == nil {
		return ""
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}
