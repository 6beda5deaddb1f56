package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"afkwatch/internal/achievements"
	"afkwatch/internal/bot"
	"afkwatch/internal/common"
	"afkwatch/internal/config"
	"afkwatch/internal/dashboard"
	"afkwatch/internal/database"
	"afkwatch/internal/metrics"
	"afkwatch/internal/telegram"
)

// Flags shared by every command, they win over the environment
type rootFlags struct {
	envFile  string
	logLevel string
	database string
}

func main() {

	var flags rootFlags
	root := &cobra.Command{
		Use:           "afkwatch",
		Short:         "Discord bot that moves idle members to the AFK channel and keeps voice statistics",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&flags.envFile, "env-file", ".env", "File with environment variables to load first")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	f.StringVar(&flags.database, "database", "", "Path of the SQLite database")

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return migrate(cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "achievements",
		Short: "Print the achievements members can unlock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printAchievements(cmd)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("afkwatch failed")
		stop()
		os.Exit(1)
	}
}

func loadConfig(flags rootFlags) (config.Config, error) {

	cfg, err := config.Load(flags.envFile)
	if err != nil {
		return cfg, fmt.Errorf("read configuration: %w", err)
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.database != "" {
		cfg.DatabasePath = flags.database
	}
	if err := common.SetupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func migrate(cfg config.Config) error {

	db, err := database.Open(database.Options{Path: cfg.DatabasePath, DefaultTimeout: cfg.DefaultAFKTimeout})
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	log.Info().Str("path", cfg.DatabasePath).Int("version", version).Msg("Database is up to date")
	return nil
}

func printAchievements(cmd *cobra.Command) error {

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMETRIC\tTHRESHOLD\tDESCRIPTION")
	for _, a := range achievements.All() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", a.ID, a.String(), a.Metric, a.Threshold, a.Description)
	}
	return w.Flush()
}

func run(ctx context.Context, cfg config.Config) error {

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Database
	db, err := database.Open(database.Options{Path: cfg.DatabasePath, DefaultTimeout: cfg.DefaultAFKTimeout})
	if err != nil {
		return err
	}
	defer db.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Telegram, disabled without token or chats
	chatIds := make([]telegram.ChatId, 0, len(cfg.TelegramChatIDs))
	for _, id := range cfg.TelegramChatIDs {
		chatIds = append(chatIds, telegram.ChatId(id))
	}
	client := telegram.NewClient(telegram.ClientOptions{
		APIURL:        cfg.TelegramAPIURL,
		Token:         cfg.TelegramToken,
		RatePerSecond: cfg.TelegramRate,
	})
	notifier := telegram.NewNotifier(client, chatIds, m)
	if !notifier.Enabled() {
		log.Info().Msg("Telegram notifications disabled")
	}

	// Bot
	b, err := bot.New(bot.Options{
		Token:            cfg.DiscordToken,
		Prefix:           cfg.CommandPrefix,
		DailySummaryCron: cfg.DailySummaryCron,
		HousekeepingCron: cfg.HousekeepingCron,
		SessionRetention: cfg.SessionRetention,
		Database:         db,
		Notifier:         notifier,
		Metrics:          m,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Dashboard
	dashboardDone := make(chan error, 1)
	if cfg.DashboardEnabled() {
		server, err := dashboard.New(dashboard.Options{
			Password:   cfg.DashboardPassword,
			SessionTTL: cfg.DashboardSessionTTL,
			Database:   db,
			Live:       b.Tracker(),
			Notifier:   notifier,
			Gatherer:   reg,
		})
		if err != nil {
			return err
		}
		go func() {
			err := server.Run(ctx, cfg.DashboardAddr)
			if err != nil {
				// Without the dashboard the bot stops as well
				cancel()
			}
			dashboardDone <- err
		}()
	} else {
		log.Info().Msg("Dashboard disabled")
		dashboardDone <- nil
	}

	// Run bot
	botErr := b.Run(ctx)
	cancel()
	return errors.Join(botErr, <-dashboardDone)
}
