// Package achievements holds the catalogue of achievements members can
// unlock and decides which ones a set of stats deserves.
package achievements

import (
	"fmt"
	"time"

	"afkwatch/internal/database"
)

type Metric int

const (
	METRIC_VOICE_TIME Metric = iota
	METRIC_SESSIONS
	METRIC_LONGEST_SESSION
	METRIC_AFK_MOVES
	METRIC_MESSAGES
)

func (m Metric) String() string {
	switch m {
	case METRIC_VOICE_TIME:
		return "voice time"
	case METRIC_SESSIONS:
		return "sessions"
	case METRIC_LONGEST_SESSION:
		return "longest session"
	case METRIC_AFK_MOVES:
		return "afk moves"
	case METRIC_MESSAGES:
		return "messages"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// value extracts the metric from the stats. Time metrics are in seconds
func (m Metric) value(stats database.Stats) int64 {
	switch m {
	case METRIC_VOICE_TIME:
		return stats.VoiceSeconds
	case METRIC_SESSIONS:
		return stats.Sessions
	case METRIC_LONGEST_SESSION:
		return stats.LongestSessionSeconds
	case METRIC_AFK_MOVES:
		return stats.AFKMoves
	case METRIC_MESSAGES:
		return stats.Messages
	default:
		return 0
	}
}

type Achievement struct {
	ID          string
	Name        string
	Description string
	Emoji       string
	Metric      Metric
	Threshold   int64
}

func hours(n int64) int64 {
	return n * int64(time.Hour/time.Second)
}

var catalogue = []Achievement{
	{ID: "first_call", Name: "First Call", Emoji: "📞", Description: "Finish your first voice session", Metric: METRIC_SESSIONS, Threshold: 1},
	{ID: "regular", Name: "Regular", Emoji: "🪑", Description: "Finish 25 voice sessions", Metric: METRIC_SESSIONS, Threshold: 25},
	{ID: "furniture", Name: "Part of the Furniture", Emoji: "🛋️", Description: "Finish 250 voice sessions", Metric: METRIC_SESSIONS, Threshold: 250},
	{ID: "warming_up", Name: "Warming Up", Emoji: "🎙️", Description: "Spend 1 hour in voice channels", Metric: METRIC_VOICE_TIME, Threshold: hours(1)},
	{ID: "chatterbox", Name: "Chatterbox", Emoji: "🗣️", Description: "Spend 24 hours in voice channels", Metric: METRIC_VOICE_TIME, Threshold: hours(24)},
	{ID: "voice_veteran", Name: "Voice Veteran", Emoji: "🏅", Description: "Spend 100 hours in voice channels", Metric: METRIC_VOICE_TIME, Threshold: hours(100)},
	{ID: "no_life", Name: "Touch Grass", Emoji: "🌱", Description: "Spend 500 hours in voice channels", Metric: METRIC_VOICE_TIME, Threshold: hours(500)},
	{ID: "marathon", Name: "Marathon", Emoji: "🏃", Description: "Stay 4 hours in a single session", Metric: METRIC_LONGEST_SESSION, Threshold: hours(4)},
	{ID: "ultramarathon", Name: "Ultramarathon", Emoji: "🦾", Description: "Stay 12 hours in a single session", Metric: METRIC_LONGEST_SESSION, Threshold: hours(12)},
	{ID: "dozed_off", Name: "Dozed Off", Emoji: "😴", Description: "Get moved to the AFK channel", Metric: METRIC_AFK_MOVES, Threshold: 1},
	{ID: "sleepwalker", Name: "Sleepwalker", Emoji: "🛌", Description: "Get moved to the AFK channel 25 times", Metric: METRIC_AFK_MOVES, Threshold: 25},
	{ID: "first_words", Name: "First Words", Emoji: "💬", Description: "Send your first message", Metric: METRIC_MESSAGES, Threshold: 1},
	{ID: "talkative", Name: "Talkative", Emoji: "📝", Description: "Send 500 messages", Metric: METRIC_MESSAGES, Threshold: 500},
	{ID: "novelist", Name: "Novelist", Emoji: "📚", Description: "Send 5000 messages", Metric: METRIC_MESSAGES, Threshold: 5000},
}

var byID = func() map[string]Achievement {
	m := make(map[string]Achievement, len(catalogue))
	for _, a := range catalogue {
		m[a.ID] = a
	}
	return m
}()

// All returns a copy of the catalogue
func All() []Achievement {
	return append([]Achievement(nil), catalogue...)
}

func Lookup(id string) (Achievement, bool) {
	a, ok := byID[id]
	return a, ok
}

// Reached tells if the stats meet the threshold of the achievement
func (a Achievement) Reached(stats database.Stats) bool {
	return a.Metric.value(stats) >= a.Threshold
}

// Progress returns the current value of the metric and the threshold,
// both in human units (hours for time metrics)
func (a Achievement) Progress(stats database.Stats) (float64, float64) {
	current, target := float64(a.Metric.value(stats)), float64(a.Threshold)
	if a.Metric == METRIC_VOICE_TIME || a.Metric == METRIC_LONGEST_SESSION {
		current /= 3600
		target /= 3600
	}
	return current, target
}

func (a Achievement) String() string {
	return fmt.Sprintf("%s %s", a.Emoji, a.Name)
}

// Evaluate returns, in catalogue order, the achievements the stats reach
// that are not in the unlocked set
func Evaluate(stats database.Stats, unlocked map[string]bool) []Achievement {
	var reached []Achievement
	for _, a := range catalogue {
		if unlocked[a.ID] {
			continue
		}
		if a.Reached(stats) {
			reached = append(reached, a)
		}
	}
	return reached
}

// IDs extracts the ids of the achievements
func IDs(list []Achievement) []string {
	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	return ids
}
