package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"

	"afkwatch/internal/achievements"
	"afkwatch/internal/common"
	"afkwatch/internal/database"
)

// Everything here produces Telegram HTML, so user provided names are escaped

func FormatStarted(botName string, guilds int) string {
	return fmt.Sprintf("🟢 <b>%s</b> is online, watching %d guild(s)", html.EscapeString(botName), guilds)
}

func FormatStopped(botName string, sessions int) string {
	return fmt.Sprintf("🔴 <b>%s</b> is shutting down, %d open session(s) closed", html.EscapeString(botName), sessions)
}

func FormatAFKMove(guildName string, username string, idle time.Duration, stats database.Stats) string {
	return fmt.Sprintf("😴 <b>%s</b> was moved to AFK in <i>%s</i> after %s of inactivity (%d times so far)",
		html.EscapeString(username), html.EscapeString(guildName), common.FormatDuration(idle), stats.AFKMoves)
}

func FormatAchievement(guildName string, username string, achievement achievements.Achievement) string {
	return fmt.Sprintf("🏆 <b>%s</b> unlocked %s <b>%s</b> in <i>%s</i>\n%s",
		html.EscapeString(username), achievement.Emoji, html.EscapeString(achievement.Name),
		html.EscapeString(guildName), html.EscapeString(achievement.Description))
}

type SummaryEntry struct {
	GuildName string
	Activity  database.Activity
}

func FormatDailySummary(day time.Time, entries []SummaryEntry) string {

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 <b>Voice activity for %s</b>\n", day.Format("Mon 02 Jan 2006"))
	if len(entries) == 0 {
		sb.WriteString("Nobody joined a voice channel.")
		return sb.String()
	}
	for _, entry := range entries {
		fmt.Fprintf(&sb, "\n<b>%s</b>\n• %d member(s), %d session(s)\n• %s in voice\n• %d AFK move(s)\n",
			html.EscapeString(entry.GuildName), entry.Activity.Users, entry.Activity.Sessions,
			common.FormatDuration(time.Duration(entry.Activity.VoiceSeconds)*time.Second), entry.Activity.AFKMoves)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func FormatTest(from string) string {
	return fmt.Sprintf("✅ Test notification requested from %s", html.EscapeString(from))
}
