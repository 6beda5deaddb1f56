// Package bot connects the tracker to discord: it feeds voice, message and
// reaction events to the tracker, answers the chat commands and forwards
// what happens to the announcement channels and to Telegram.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"afkwatch/internal/database"
	"afkwatch/internal/metrics"
	"afkwatch/internal/telegram"
	"afkwatch/internal/tracker"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsGuildMembers

// Discord is the part of the discord REST API the bot uses
type Discord interface {
	Sender
	tracker.Mover
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	UserChannelPermissions(userID string, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
}

type Options struct {
	Token            string
	Prefix           string
	DailySummaryCron string
	HousekeepingCron string
	SessionRetention time.Duration
	Database         *database.DB
	Notifier         *telegram.Notifier
	Metrics          *metrics.Metrics
	Clock            quartz.Clock
}

type Bot struct {
	session   *discordgo.Session
	discord   Discord
	database  *database.DB
	tracker   *tracker.Tracker
	announcer *Announcer
	notifier  *telegram.Notifier
	metrics   *metrics.Metrics
	parser    Parser
	clock     quartz.Clock
	cron      *cron.Cron

	dailySummaryCron string
	housekeepingCron string
	sessionRetention time.Duration

	mu       sync.Mutex
	selfID   string
	name     string
	started  sync.Once
	handlers []func()
}

func New(opts Options) (*Bot, error) {

	// Create session
	session, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("could not create discord session: %w", err)
	}
	session.Identify.Intents = intents

	bot := newBot(session, opts)
	bot.session = session
	return bot, nil
}

func newBot(discord Discord, opts Options) *Bot {

	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}

	bot := &Bot{
		discord:          discord,
		database:         opts.Database,
		notifier:         opts.Notifier,
		metrics:          opts.Metrics,
		parser:           NewParser(opts.Prefix),
		clock:            opts.Clock,
		dailySummaryCron: opts.DailySummaryCron,
		housekeepingCron: opts.HousekeepingCron,
		sessionRetention: opts.SessionRetention,
	}
	bot.announcer = NewAnnouncer(discord, opts.Database, opts.Notifier)
	bot.tracker = tracker.New(tracker.Options{
		Clock:    opts.Clock,
		Store:    opts.Database,
		Mover:    discord,
		Listener: bot.announcer,
		Metrics:  opts.Metrics,
	})
	return bot
}

// Tracker gives access to the live presences, used by the dashboard
func (bot *Bot) Tracker() *tracker.Tracker {
	return bot.tracker
}

// Run connects to discord and blocks until the context is done.
// Open sessions are closed before returning
func (bot *Bot) Run(ctx context.Context) error {

	if bot.session == nil {
		return fmt.Errorf("bot has no discord session")
	}

	// Event handlers
	bot.handlers = []func(){
		bot.session.AddHandler(bot.ready),
		bot.session.AddHandler(bot.guildCreate),
		bot.session.AddHandler(bot.voiceStateUpdate),
		bot.session.AddHandler(bot.messageCreate),
		bot.session.AddHandler(bot.reactionAdd),
	}

	// Open session
	if err := bot.session.Open(); err != nil {
		return fmt.Errorf("could not open discord session: %w", err)
	}

	if err := bot.startJobs(); err != nil {
		bot.disconnect()
		return err
	}

	log.Info().Msg("Bot running")
	<-ctx.Done()
	log.Info().Msg("Shutting down bot")

	return bot.shutdown()
}

// disconnect stops the discord events. REST calls keep working
func (bot *Bot) disconnect() {

	for _, remove := range bot.handlers {
		remove()
	}
	bot.handlers = nil
	if bot.session != nil {
		if err := bot.session.Close(); err != nil {
			log.Warn().Err(err).Msg("Could not close discord session")
		}
	}
}

func (bot *Bot) shutdown() error {

	// No events may reach the tracker once it starts closing sessions
	bot.disconnect()

	// Let running jobs finish
	if bot.cron != nil {
		<-bot.cron.Stop().Done()
	}

	sessions := len(bot.tracker.Snapshot())
	err := bot.tracker.Shutdown()
	if err != nil {
		log.Error().Err(err).Msg("Could not record every open session")
	}
	bot.notifier.NotifyAsync(telegram.FormatStopped(bot.botName(), sessions))
	bot.notifier.Close()
	return err
}

func (bot *Bot) botName() string {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	if bot.name == "" {
		return "afkwatch"
	}
	return bot.name
}

func (bot *Bot) botID() string {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	return bot.selfID
}
