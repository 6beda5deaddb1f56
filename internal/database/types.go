package database

import (
	"database/sql/driver"
	"fmt"
	"slices"
	"strings"
	"time"
)

// UnixTime is a time stored as unix seconds. The zero time is stored as 0
type UnixTime struct {
	time.Time
}

func At(t time.Time) UnixTime {
	return UnixTime{t}
}

func (t *UnixTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
	case int64:
		if v == 0 {
			t.Time = time.Time{}
		} else {
			t.Time = time.Unix(v, 0).UTC()
		}
	default:
		return fmt.Errorf("cannot scan %T into UnixTime", src)
	}
	return nil
}

func (t UnixTime) Value() (driver.Value, error) {
	if t.IsZero() {
		return int64(0), nil
	}
	return t.Unix(), nil
}

// IDList is a set of discord ids stored as a comma separated string
type IDList []string

func (l *IDList) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into IDList", src)
	}
	*l = nil
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			*l = append(*l, id)
		}
	}
	return nil
}

func (l IDList) Value() (driver.Value, error) {
	return strings.Join(l, ","), nil
}

func (l IDList) Contains(id string) bool {
	return slices.Contains(l, id)
}

// Toggle adds the id when missing and removes it otherwise.
// It reports if the id is present afterwards
func (l *IDList) Toggle(id string) bool {
	if i := slices.Index(*l, id); i >= 0 {
		*l = slices.Delete(*l, i, i+1)
		return false
	}
	*l = append(*l, id)
	return true
}

type Settings struct {
	GuildID            string   `db:"guild_id"`
	GuildName          string   `db:"guild_name"`
	AFKChannelID       string   `db:"afk_channel_id"`
	TimeoutSeconds     int64    `db:"timeout_seconds"`
	Enabled            bool     `db:"enabled"`
	AnnounceChannelID  string   `db:"announce_channel_id"`
	ExemptUserIDs      IDList   `db:"exempt_user_ids"`
	ExemptRoleIDs      IDList   `db:"exempt_role_ids"`
	NotifyAFK          bool     `db:"notify_afk"`
	NotifyAchievements bool     `db:"notify_achievements"`
	UpdatedAt          UnixTime `db:"updated_at"`
}

func (s Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Exempt tells if a member with the provided id and roles is never idled
func (s Settings) Exempt(userID string, roles []string) bool {
	if s.ExemptUserIDs.Contains(userID) {
		return true
	}
	for _, role := range roles {
		if s.ExemptRoleIDs.Contains(role) {
			return true
		}
	}
	return false
}

type Stats struct {
	GuildID               string   `db:"guild_id"`
	UserID                string   `db:"user_id"`
	Username              string   `db:"username"`
	VoiceSeconds          int64    `db:"voice_seconds"`
	Sessions              int64    `db:"sessions"`
	LongestSessionSeconds int64    `db:"longest_session_seconds"`
	AFKMoves              int64    `db:"afk_moves"`
	Messages              int64    `db:"messages"`
	LastSeen              UnixTime `db:"last_seen"`
}

func (s Stats) VoiceTime() time.Duration {
	return time.Duration(s.VoiceSeconds) * time.Second
}

func (s Stats) LongestSession() time.Duration {
	return time.Duration(s.LongestSessionSeconds) * time.Second
}

// Reasons a session ends with
const (
	REASON_LEFT     = "left"
	REASON_AFK      = "afk"
	REASON_SHUTDOWN = "shutdown"
)

type Session struct {
	ID              string   `db:"id"`
	GuildID         string   `db:"guild_id"`
	UserID          string   `db:"user_id"`
	Username        string   `db:"username"`
	ChannelID       string   `db:"channel_id"`
	StartedAt       UnixTime `db:"started_at"`
	EndedAt         UnixTime `db:"ended_at"`
	DurationSeconds int64    `db:"duration_seconds"`
	Reason          string   `db:"reason"`
}

func (s Session) Duration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}

type Achievement struct {
	GuildID       string   `db:"guild_id"`
	UserID        string   `db:"user_id"`
	AchievementID string   `db:"achievement_id"`
	UnlockedAt    UnixTime `db:"unlocked_at"`
}

// GuildTotals aggregates the stats of every member of a guild
type GuildTotals struct {
	Users        int64 `db:"users"`
	VoiceSeconds int64 `db:"voice_seconds"`
	Sessions     int64 `db:"sessions"`
	AFKMoves     int64 `db:"afk_moves"`
	Messages     int64 `db:"messages"`
}

// Activity summarises the sessions of a guild over a period
type Activity struct {
	GuildID      string `db:"guild_id"`
	Users        int64  `db:"users"`
	Sessions     int64  `db:"sessions"`
	VoiceSeconds int64  `db:"voice_seconds"`
	AFKMoves     int64  `db:"afk_moves"`
}
