package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	AFKMoves             prometheus.Counter
	AFKMoveFailures      prometheus.Counter
	SessionsEnded        *prometheus.CounterVec
	SessionDuration      prometheus.Histogram
	ActiveVoiceUsers     prometheus.Gauge
	AchievementsUnlocked *prometheus.CounterVec
	TelegramMessages     *prometheus.CounterVec
	Commands             *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {

	m := &Metrics{
		AFKMoves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "afkwatch",
			Name:      "afk_moves_total",
			Help:      "Members moved to the AFK channel after inactivity.",
		}),
		AFKMoveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "afkwatch",
			Name:      "afk_move_failures_total",
			Help:      "Moves to the AFK channel that Discord rejected.",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afkwatch",
			Name:      "sessions_ended_total",
			Help:      "Voice sessions ended, by reason.",
		}, []string{"reason"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "afkwatch",
			Name:      "session_duration_seconds",
			Help:      "Duration of finished voice sessions.",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 2 * 3600, 4 * 3600, 8 * 3600, 12 * 3600},
		}),
		ActiveVoiceUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "afkwatch",
			Name:      "active_voice_users",
			Help:      "Members currently tracked in voice channels.",
		}),
		AchievementsUnlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afkwatch",
			Name:      "achievements_unlocked_total",
			Help:      "Achievements unlocked, by achievement.",
		}, []string{"achievement"}),
		TelegramMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afkwatch",
			Name:      "telegram_messages_total",
			Help:      "Telegram messages sent to admins, by result.",
		}, []string{"result"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afkwatch",
			Name:      "commands_total",
			Help:      "Chat commands handled, by command.",
		}, []string{"command"}),
	}

	reg.MustRegister(
		m.AFKMoves,
		m.AFKMoveFailures,
		m.SessionsEnded,
		m.SessionDuration,
		m.ActiveVoiceUsers,
		m.AchievementsUnlocked,
		m.TelegramMessages,
		m.Commands,
	)
	return m
}
