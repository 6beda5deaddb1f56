package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"afkwatch/internal/telegram"
)

const SUMMARY_PERIOD = 24 * time.Hour

// cronLogger sends the scheduler logs to zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func (bot *Bot) startJobs() error {

	bot.cron = cron.New(cron.WithLogger(cronLogger{}), cron.WithChain(cron.Recover(cronLogger{})))
	if bot.dailySummaryCron != "" {
		if _, err := bot.cron.AddFunc(bot.dailySummaryCron, func() { bot.dailySummary(context.Background()) }); err != nil {
			return fmt.Errorf("could not schedule daily summary: %w", err)
		}
	}
	if bot.housekeepingCron != "" {
		if _, err := bot.cron.AddFunc(bot.housekeepingCron, bot.housekeeping); err != nil {
			return fmt.Errorf("could not schedule housekeeping: %w", err)
		}
	}
	bot.cron.Start()
	return nil
}

// dailySummary sends the activity of the last day to the administrators
func (bot *Bot) dailySummary(ctx context.Context) {

	if !bot.notifier.Enabled() {
		return
	}
	now := bot.clock.Now()
	activity, err := bot.database.ActivitySince(now.Add(-SUMMARY_PERIOD))
	if err != nil {
		log.Error().Err(err).Msg("Could not compute daily summary")
		return
	}

	names := map[string]string{}
	guilds, err := bot.database.ListGuilds()
	if err != nil {
		log.Warn().Err(err).Msg("Could not get guild names for the summary")
	}
	for _, settings := range guilds {
		names[settings.GuildID] = guildName(settings)
	}

	entries := make([]telegram.SummaryEntry, 0, len(activity))
	for _, a := range activity {
		name, ok := names[a.GuildID]
		if !ok {
			name = a.GuildID
		}
		entries = append(entries, telegram.SummaryEntry{GuildName: name, Activity: a})
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := bot.notifier.Notify(ctx, telegram.FormatDailySummary(now, entries)); err != nil {
		log.Error().Err(err).Msg("Could not send daily summary")
		return
	}
	log.Info().Int("guilds", len(entries)).Msg("Daily summary sent")
}

// housekeeping drops the sessions older than the retention
func (bot *Bot) housekeeping() {

	if bot.sessionRetention <= 0 {
		return
	}
	pruned, err := bot.database.PruneSessions(bot.clock.Now().Add(-bot.sessionRetention))
	if err != nil {
		log.Error().Err(err).Msg("Could not prune sessions")
		return
	}
	log.Info().Int64("pruned", pruned).Msg("Housekeeping done")
}
