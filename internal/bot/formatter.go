package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"afkwatch/internal/achievements"
	"afkwatch/internal/common"
	"afkwatch/internal/database"
	"afkwatch/internal/tracker"
)

// Use "slate blue" color for the bot
const color int = 0x6a5acd

func InputNotValid(errorMessage string) []Response {
	return []Response{ResponseString{fmt.Sprintf("Input not valid: \n> %s", errorMessage)}}
}

func HelpMessage(prefix string) []Response {

	embed := discordgo.MessageEmbed{Title: "Commands available", Color: color}
	add := func(usage string, description string) {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   fmt.Sprintf("`%s %s`", prefix, usage),
			Value:  description,
			Inline: false,
		})
	}
	add("stats [@user]", "Print the voice statistics of a member, yourself by default")
	add("top", "Print the members with the most voice time")
	add("achievements [@user]", "Print the achievements unlocked and the progress towards the next ones")
	add("status", "Print the AFK settings of this server and who is being watched")
	add("help", "Print the usage of the different commands")
	add("channel <voice_channel_name>", "*Admin.* Set the channel idle members are moved to")
	add("timeout <minutes>", "*Admin.* Set how long a member may stay inactive")
	add("announce <text_channel_name|off>", "*Admin.* Set where unlocked achievements are announced")
	add("enable / disable", "*Admin.* Turn moving idle members on or off")
	add("exempt <@user>", "*Admin.* Toggle whether a member is never moved")
	add("notify <afk|achievements>", "*Admin.* Toggle Telegram notifications to the administrators")
	return []Response{ResponseEmbed{embed}}
}

func NotAllowed() []Response {
	return []Response{ResponseString{"Only members with the *Manage Server* permission can change the settings"}}
}

func SomethingWentWrong() []Response {
	return []Response{ResponseString{"Something went wrong, please try again later"}}
}

func ChannelDoesNotExist(channelName string, kind string) []Response {
	return []Response{ResponseString{fmt.Sprintf("There is no %s channel called `%s`", kind, channelName)}}
}

func AFKChannelChanged(channelID string) []Response {
	return []Response{ResponseString{fmt.Sprintf("Idle members will be moved to <#%s>", channelID)}}
}

func AnnounceChannelChanged(channelID string) []Response {
	if channelID == "" {
		return []Response{ResponseString{"Achievements will not be announced anymore"}}
	}
	return []Response{ResponseString{fmt.Sprintf("Achievements will be announced in <#%s>", channelID)}}
}

func TimeoutChanged(timeout time.Duration) []Response {
	return []Response{ResponseString{fmt.Sprintf("Members will be moved after %s of inactivity", common.FormatDuration(timeout))}}
}

func EnabledChanged(enabled bool, afkChannelID string) []Response {
	if !enabled {
		return []Response{ResponseString{"Idle members will not be moved anymore"}}
	}
	content := "Idle members will be moved to the AFK channel"
	if afkChannelID == "" {
		content += "\nNo AFK channel is set yet, choose one with the `channel` command"
	}
	return []Response{ResponseString{content}}
}

func ExemptChanged(userID string, exempt bool) []Response {
	if exempt {
		return []Response{ResponseString{fmt.Sprintf("<@%s> will never be moved to the AFK channel", userID)}}
	}
	return []Response{ResponseString{fmt.Sprintf("<@%s> is no longer exempt", userID)}}
}

func NotifyChanged(kind string, enabled bool, telegramEnabled bool) []Response {
	state := "off"
	if enabled {
		state = "on"
	}
	content := fmt.Sprintf("Telegram notifications for `%s` are now %s", kind, state)
	if !telegramEnabled {
		content += "\nTelegram is not configured for this bot, nothing will be sent"
	}
	return []Response{ResponseString{content}}
}

func StatsMessage(stats database.Stats, unlocked int, live *tracker.Presence, now time.Time) []Response {

	embed := discordgo.MessageEmbed{
		Title:       "Voice statistics",
		Description: fmt.Sprintf("<@%s>", stats.UserID),
		Color:       color,
	}
	field := func(name string, value string) {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: name, Value: value, Inline: true})
	}
	field("Voice time", common.FormatDuration(stats.VoiceTime()))
	field("Sessions", fmt.Sprint(stats.Sessions))
	field("Longest session", common.FormatDuration(stats.LongestSession()))
	field("AFK moves", fmt.Sprint(stats.AFKMoves))
	field("Messages", fmt.Sprint(stats.Messages))
	field("Achievements", fmt.Sprintf("%d/%d", unlocked, len(achievements.All())))
	if live != nil {
		field("In voice now", fmt.Sprintf("<#%s> for %s", live.ChannelID, common.FormatDuration(now.Sub(live.JoinedAt))))
	} else if !stats.LastSeen.IsZero() {
		field("Last seen", fmt.Sprintf("<t:%d:R>", stats.LastSeen.Unix()))
	}
	return []Response{ResponseEmbed{embed}}
}

func LeaderboardMessage(board []database.Stats) []Response {

	if len(board) == 0 {
		return []Response{ResponseString{"Nobody has spent time in voice yet"}}
	}
	lines := make([]string, 0, len(board))
	for i, stats := range board {
		lines = append(lines, fmt.Sprintf("**%d.** <@%s>: %s in %d session(s)", i+1, stats.UserID,
			common.FormatDuration(stats.VoiceTime()), stats.Sessions))
	}
	embed := discordgo.MessageEmbed{Title: "Most time in voice", Description: strings.Join(lines, "\n"), Color: color}
	return []Response{ResponseEmbed{embed}}
}

func AchievementsMessage(userID string, stats database.Stats, owned []database.Achievement) []Response {

	unlocked := map[string]database.Achievement{}
	for _, a := range owned {
		unlocked[a.AchievementID] = a
	}

	var done, next []string
	for _, a := range achievements.All() {
		if got, ok := unlocked[a.ID]; ok {
			done = append(done, fmt.Sprintf("%s **%s** <t:%d:d>", a.Emoji, a.Name, got.UnlockedAt.Unix()))
			continue
		}
		current, target := a.Progress(stats)
		next = append(next, fmt.Sprintf("🔒 **%s**: %s (%s/%s)", a.Name, a.Description, trimFloat(current), trimFloat(target)))
	}

	embed := discordgo.MessageEmbed{
		Title:       "Achievements",
		Description: fmt.Sprintf("<@%s> unlocked %d of %d", userID, len(done), len(done)+len(next)),
		Color:       color,
	}
	if len(done) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Unlocked", Value: strings.Join(done, "\n")})
	}
	if len(next) > 0 {
		// Keep the embed short, only the closest ones are interesting
		if len(next) > 5 {
			next = next[:5]
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Locked", Value: strings.Join(next, "\n")})
	}
	return []Response{ResponseEmbed{embed}}
}

func AchievementAnnouncement(unlock tracker.Unlock) Response {
	embed := discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s Achievement unlocked: %s", unlock.Achievement.Emoji, unlock.Achievement.Name),
		Description: fmt.Sprintf("<@%s> %s", unlock.UserID, lowerFirst(unlock.Achievement.Description)),
		Color:       color,
	}
	return ResponseEmbed{embed}
}

func StatusMessage(settings database.Settings, watched []tracker.Presence, now time.Time) []Response {

	orNotSet := func(channelID string) string {
		if channelID == "" {
			return "not set"
		}
		return fmt.Sprintf("<#%s>", channelID)
	}
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}

	embed := discordgo.MessageEmbed{Title: "AFK status", Color: color}
	field := func(name string, value string, inline bool) {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline})
	}
	field("Moving idle members", onOff(settings.Enabled), true)
	field("AFK channel", orNotSet(settings.AFKChannelID), true)
	field("Timeout", common.FormatDuration(settings.Timeout()), true)
	field("Announcements", orNotSet(settings.AnnounceChannelID), true)
	field("Telegram", fmt.Sprintf("afk %s, achievements %s", onOff(settings.NotifyAFK), onOff(settings.NotifyAchievements)), true)
	field("Exempt", fmt.Sprintf("%d member(s), %d role(s)", len(settings.ExemptUserIDs), len(settings.ExemptRoleIDs)), true)

	if len(watched) == 0 {
		field("In voice", "Nobody", false)
	} else {
		lines := make([]string, 0, len(watched))
		for _, p := range watched {
			line := fmt.Sprintf("<@%s> in <#%s> for %s", p.UserID, p.ChannelID, common.FormatDuration(now.Sub(p.JoinedAt)))
			if !p.IdleDeadline.IsZero() {
				line += fmt.Sprintf(", idle in %s", common.FormatDuration(p.IdleDeadline.Sub(now)))
			}
			lines = append(lines, line)
		}
		field("In voice", strings.Join(lines, "\n"), false)
	}
	return []Response{ResponseEmbed{embed}}
}

func trimFloat(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.1f", f), "0"), ".")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
