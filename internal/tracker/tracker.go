// Package tracker follows members through voice channels. Every member in
// a voice channel has a session and, when the guild asks for it, an
// inactivity timer. Activity resets the timer; expiry moves the member to
// the AFK channel. Finished sessions feed the stats and the achievements.
package tracker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"afkwatch/internal/achievements"
	"afkwatch/internal/database"
	"afkwatch/internal/metrics"
)

type Store interface {
	GetSettings(guildID string) (database.Settings, error)
	RecordSession(session database.Session) (database.Stats, error)
	AddAFKMove(guildID string, userID string, at time.Time) (database.Stats, error)
	AddMessage(guildID string, userID string, username string, at time.Time) (database.Stats, error)
	GetAchievements(guildID string, userID string) ([]database.Achievement, error)
	UnlockAchievements(guildID string, userID string, ids []string, at time.Time) ([]string, error)
}

// Mover moves members between voice channels. *discordgo.Session is one
type Mover interface {
	GuildMemberMove(guildID string, userID string, channelID *string, options ...discordgo.RequestOption) error
}

// Listener is told about what the tracker did. Calls are made without
// holding any tracker lock
type Listener interface {
	SessionEnded(session database.Session, stats database.Stats)
	MovedToAFK(move AFKMove)
	AchievementUnlocked(unlock Unlock)
}

// Member is a guild member as seen in a voice state
type Member struct {
	GuildID   string
	UserID    string
	Username  string
	ChannelID string
	Roles     []string
}

type AFKMove struct {
	GuildID       string
	UserID        string
	Username      string
	FromChannelID string
	AFKChannelID  string
	Idle          time.Duration
	At            time.Time
	Stats         database.Stats
}

type Unlock struct {
	GuildID     string
	UserID      string
	Username    string
	Achievement achievements.Achievement
	Stats       database.Stats
	At          time.Time
}

// Presence is a read only view of a tracked member
type Presence struct {
	GuildID      string    `json:"guild_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	ChannelID    string    `json:"channel_id"`
	SessionID    string    `json:"session_id"`
	JoinedAt     time.Time `json:"joined_at"`
	LastActivity time.Time `json:"last_activity"`
	// Zero when the member is never idled
	IdleDeadline time.Time `json:"idle_deadline"`
}

type key struct {
	guildID string
	userID  string
}

type presence struct {
	member       Member
	sessionID    uuid.UUID
	joinedAt     time.Time
	lastActivity time.Time
	timer        *quartz.Timer
	deadline     time.Time
	// Identifies the armed timer, 0 when none is armed
	generation uint64
	// Set while the member is being moved to the AFK channel
	moving bool
}

type Tracker struct {
	clock    quartz.Clock
	store    Store
	mover    Mover
	listener Listener
	metrics  *metrics.Metrics

	mu         sync.Mutex
	presences  map[key]*presence
	generation uint64
	closed     bool

	settingsMu sync.Mutex
	settings   map[string]database.Settings
}

type Options struct {
	Clock    quartz.Clock
	Store    Store
	Mover    Mover
	Listener Listener
	Metrics  *metrics.Metrics
}

func New(opts Options) *Tracker {

	t := &Tracker{
		clock:     opts.Clock,
		store:     opts.Store,
		mover:     opts.Mover,
		listener:  opts.Listener,
		metrics:   opts.Metrics,
		presences: map[key]*presence{},
		settings:  map[string]database.Settings{},
	}
	if t.clock == nil {
		t.clock = quartz.NewReal()
	}
	if t.listener == nil {
		t.listener = nopListener{}
	}
	if t.metrics == nil {
		t.metrics = metrics.New(prometheus.NewRegistry())
	}
	return t
}

// VoiceState applies a voice state of a member: an empty channel means
// the member left, a new channel is a move, anything else is activity
func (t *Tracker) VoiceState(m Member) {

	if m.ChannelID == "" {
		t.Leave(m.GuildID, m.UserID)
		return
	}

	t.mu.Lock()
	p, ok := t.presences[key{m.GuildID, m.UserID}]
	sameChannel := ok && p.member.ChannelID == m.ChannelID
	t.mu.Unlock()

	switch {
	case !ok:
		t.Join(m)
	case sameChannel:
		t.refresh(m)
	default:
		t.Move(m)
	}
}

// Join starts a session for a member that entered a voice channel.
// Entering the AFK channel does not start a session
func (t *Tracker) Join(m Member) {

	settings := t.guildSettings(m.GuildID)
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || m.ChannelID == "" {
		return
	}
	k := key{m.GuildID, m.UserID}
	if p, ok := t.presences[k]; ok {
		// Already tracked, treat as activity
		p.member = mergeMember(p.member, m)
		p.lastActivity = now
		t.armLocked(k, p, settings, now)
		return
	}
	if settings.AFKChannelID != "" && m.ChannelID == settings.AFKChannelID {
		log.Debug().Str("guild_id", m.GuildID).Str("user_id", m.UserID).Msg("Member joined the AFK channel, not tracking")
		return
	}

	p := &presence{member: m, sessionID: uuid.New(), joinedAt: now, lastActivity: now}
	t.presences[k] = p
	t.armLocked(k, p, settings, now)
	t.metrics.ActiveVoiceUsers.Set(float64(len(t.presences)))
	log.Debug().Str("guild_id", m.GuildID).Str("user_id", m.UserID).Str("channel_id", m.ChannelID).Msg("Session started")
}

// Move follows a member into another voice channel. Moving into the AFK
// channel ends the session
func (t *Tracker) Move(m Member) {

	settings := t.guildSettings(m.GuildID)
	now := t.clock.Now()
	k := key{m.GuildID, m.UserID}

	t.mu.Lock()
	p, ok := t.presences[k]
	if !ok {
		t.mu.Unlock()
		t.Join(m)
		return
	}
	if settings.AFKChannelID != "" && m.ChannelID == settings.AFKChannelID {
		if p.moving {
			// The move we asked for, expire finishes the session
			t.mu.Unlock()
			return
		}
		session := t.endLocked(k, p, database.REASON_LEFT, now)
		t.mu.Unlock()
		t.finish(session)
		return
	}
	p.member = mergeMember(p.member, m)
	p.lastActivity = now
	t.armLocked(k, p, settings, now)
	t.mu.Unlock()
}

// Leave ends the session of a member that left voice
func (t *Tracker) Leave(guildID string, userID string) {

	now := t.clock.Now()
	k := key{guildID, userID}

	t.mu.Lock()
	p, ok := t.presences[k]
	if !ok {
		t.mu.Unlock()
		return
	}
	session := t.endLocked(k, p, database.REASON_LEFT, now)
	t.mu.Unlock()
	t.finish(session)
}

// Activity resets the inactivity timer of the member if tracked
func (t *Tracker) Activity(guildID string, userID string) {

	t.mu.Lock()
	_, ok := t.presences[key{guildID, userID}]
	closed := t.closed
	t.mu.Unlock()
	if !ok || closed {
		return
	}
	settings := t.guildSettings(guildID)
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{guildID, userID}
	if p, ok := t.presences[k]; ok && !p.moving {
		p.lastActivity = now
		t.armLocked(k, p, settings, now)
	}
}

// Message counts a chat message of the member, which is also activity.
// Messages are ignored after shutdown
func (t *Tracker) Message(guildID string, userID string, username string) {

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	t.Activity(guildID, userID)

	stats, err := t.store.AddMessage(guildID, userID, username, t.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("guild_id", guildID).Str("user_id", userID).Msg("Could not count message")
		return
	}
	t.evaluate(guildID, userID, username, stats)
}

// Sync makes the tracked members of a guild match the provided voice
// states, typically after (re)connecting to the gateway
func (t *Tracker) Sync(guildID string, members []Member) {

	present := map[string]bool{}
	for _, m := range members {
		present[m.UserID] = true
	}

	var gone []database.Session
	t.mu.Lock()
	for k, p := range t.presences {
		if k.guildID == guildID && !present[k.userID] && !p.moving {
			// Not seen since the connection dropped, credit until the last activity
			gone = append(gone, t.endLocked(k, p, database.REASON_LEFT, maxTime(p.lastActivity, p.joinedAt)))
		}
	}
	t.mu.Unlock()

	for _, session := range gone {
		t.finish(session)
	}
	for _, m := range members {
		if !t.resync(m) {
			t.VoiceState(m)
		}
	}
}

// resync updates a member still in the channel it was tracked in. Being
// there is not activity, so the idle deadline is kept
func (t *Tracker) resync(m Member) bool {

	settings := t.guildSettings(m.GuildID)
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{m.GuildID, m.UserID}
	p, ok := t.presences[k]
	if !ok || t.closed || m.ChannelID == "" || p.member.ChannelID != m.ChannelID {
		return false
	}
	if p.moving {
		return true
	}
	p.member = mergeMember(p.member, m)
	t.armLocked(k, p, settings, now)
	return true
}

// Reload drops the cached settings of the guild and re-arms the timers
// of its members with the new ones
func (t *Tracker) Reload(guildID string) {

	t.settingsMu.Lock()
	delete(t.settings, guildID)
	t.settingsMu.Unlock()

	settings := t.guildSettings(guildID)
	now := t.clock.Now()

	var ended []database.Session
	t.mu.Lock()
	for k, p := range t.presences {
		if k.guildID != guildID || p.moving {
			continue
		}
		if settings.AFKChannelID != "" && p.member.ChannelID == settings.AFKChannelID {
			ended = append(ended, t.endLocked(k, p, database.REASON_LEFT, now))
			continue
		}
		t.armLocked(k, p, settings, now)
	}
	t.mu.Unlock()

	for _, session := range ended {
		t.finish(session)
	}
	log.Info().Str("guild_id", guildID).Msg("Reloaded guild settings")
}

// Snapshot returns the tracked members ordered by guild and join time
func (t *Tracker) Snapshot() []Presence {

	t.mu.Lock()
	list := make([]Presence, 0, len(t.presences))
	for _, p := range t.presences {
		list = append(list, Presence{
			GuildID:      p.member.GuildID,
			UserID:       p.member.UserID,
			Username:     p.member.Username,
			ChannelID:    p.member.ChannelID,
			SessionID:    p.sessionID.String(),
			JoinedAt:     p.joinedAt,
			LastActivity: p.lastActivity,
			IdleDeadline: p.deadline,
		})
	}
	t.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].GuildID != list[j].GuildID {
			return list[i].GuildID < list[j].GuildID
		}
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].UserID < list[j].UserID
	})
	return list
}

// Shutdown ends every session and looks for the achievements they
// unlocked. The tracker ignores every event afterwards
func (t *Tracker) Shutdown() error {

	now := t.clock.Now()
	t.mu.Lock()
	t.closed = true
	sessions := make([]database.Session, 0, len(t.presences))
	for k, p := range t.presences {
		sessions = append(sessions, t.endLocked(k, p, database.REASON_SHUTDOWN, now))
	}
	t.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		stats, err := t.record(session)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.evaluate(session.GuildID, session.UserID, session.Username, stats)
	}
	log.Info().Int("sessions", len(sessions)).Msg("Tracker shut down")
	return errors.Join(errs...)
}

func (t *Tracker) refresh(m Member) {

	settings := t.guildSettings(m.GuildID)
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{m.GuildID, m.UserID}
	p, ok := t.presences[k]
	if !ok || p.moving {
		return
	}
	p.member = mergeMember(p.member, m)
	p.lastActivity = now
	t.armLocked(k, p, settings, now)
}

// armLocked (re)starts the inactivity timer so that it fires one timeout
// after the last activity, or stops it when the member must not be idled
func (t *Tracker) armLocked(k key, p *presence, settings database.Settings, now time.Time) {

	t.stopLocked(p)
	if !settings.Enabled || settings.AFKChannelID == "" || settings.TimeoutSeconds <= 0 {
		return
	}
	if p.member.ChannelID == settings.AFKChannelID || settings.Exempt(p.member.UserID, p.member.Roles) {
		return
	}

	t.generation++
	generation := t.generation
	p.generation = generation
	p.deadline = p.lastActivity.Add(settings.Timeout())
	wait := p.deadline.Sub(now)
	if wait < 0 {
		wait = 0
	}
	p.timer = t.clock.AfterFunc(wait, func() { t.expire(k, generation) }, "tracker", "idle")
}

func (t *Tracker) stopLocked(p *presence) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.generation = 0
	p.deadline = time.Time{}
}

// endLocked forgets the presence and returns its finished session
func (t *Tracker) endLocked(k key, p *presence, reason string, endedAt time.Time) database.Session {

	t.stopLocked(p)
	delete(t.presences, k)
	t.metrics.ActiveVoiceUsers.Set(float64(len(t.presences)))

	duration := endedAt.Sub(p.joinedAt)
	if duration < 0 {
		duration = 0
	}
	return database.Session{
		ID:              p.sessionID.String(),
		GuildID:         p.member.GuildID,
		UserID:          p.member.UserID,
		Username:        p.member.Username,
		ChannelID:       p.member.ChannelID,
		StartedAt:       database.At(p.joinedAt),
		EndedAt:         database.At(endedAt),
		DurationSeconds: int64(duration / time.Second),
		Reason:          reason,
	}
}

// expire runs when the inactivity timer of a member fires
func (t *Tracker) expire(k key, generation uint64) {

	t.mu.Lock()
	p, ok := t.presences[k]
	if !ok || t.closed || p.generation != generation {
		// Stale timer, the member moved on
		t.mu.Unlock()
		return
	}
	p.timer = nil
	p.generation = 0
	p.moving = true
	member := p.member
	idle := t.clock.Now().Sub(p.lastActivity)
	t.mu.Unlock()

	settings := t.guildSettings(k.guildID)
	logger := log.With().Str("guild_id", k.guildID).Str("user_id", k.userID).Logger()

	if !settings.Enabled || settings.AFKChannelID == "" {
		t.mu.Lock()
		p.moving = false
		t.mu.Unlock()
		return
	}

	afkChannelID := settings.AFKChannelID
	if err := t.mover.GuildMemberMove(k.guildID, k.userID, &afkChannelID); err != nil {
		t.metrics.AFKMoveFailures.Inc()
		logger.Error().Err(err).Msg("Could not move member to the AFK channel")
		// Try again after another timeout if the member is still around
		now := t.clock.Now()
		t.mu.Lock()
		if current, ok := t.presences[k]; ok && current == p {
			p.moving = false
			p.lastActivity = now
			t.armLocked(k, p, settings, now)
		}
		t.mu.Unlock()
		return
	}

	now := t.clock.Now()
	t.mu.Lock()
	var session *database.Session
	if current, ok := t.presences[k]; ok && current == p {
		// Idle time is not voice time
		ended := t.endLocked(k, p, database.REASON_AFK, p.lastActivity)
		session = &ended
	}
	t.mu.Unlock()

	logger.Info().Dur("idle", idle).Str("afk_channel_id", afkChannelID).Msg("Moved member to the AFK channel")
	t.metrics.AFKMoves.Inc()

	if session == nil {
		// The member left while being moved, so no session ended AFK
		logger.Debug().Msg("Member gone before the AFK move completed, not counting it")
		return
	}
	if _, err := t.record(*session); err != nil {
		logger.Error().Err(err).Msg("Could not record session")
	}
	stats, err := t.store.AddAFKMove(k.guildID, k.userID, now)
	if err != nil {
		logger.Error().Err(err).Msg("Could not count AFK move")
		return
	}
	t.listener.MovedToAFK(AFKMove{
		GuildID:       k.guildID,
		UserID:        k.userID,
		Username:      member.Username,
		FromChannelID: member.ChannelID,
		AFKChannelID:  afkChannelID,
		Idle:          idle,
		At:            now,
		Stats:         stats,
	})
	t.evaluate(k.guildID, k.userID, member.Username, stats)
}

// finish records a session and looks for achievements it unlocked
func (t *Tracker) finish(session database.Session) {

	stats, err := t.record(session)
	if err != nil {
		log.Error().Err(err).Str("guild_id", session.GuildID).Str("user_id", session.UserID).Msg("Could not record session")
		return
	}
	t.evaluate(session.GuildID, session.UserID, session.Username, stats)
}

func (t *Tracker) record(session database.Session) (database.Stats, error) {

	stats, err := t.store.RecordSession(session)
	if err != nil {
		return database.Stats{}, err
	}
	t.metrics.SessionsEnded.WithLabelValues(session.Reason).Inc()
	t.metrics.SessionDuration.Observe(float64(session.DurationSeconds))
	log.Debug().Str("guild_id", session.GuildID).Str("user_id", session.UserID).
		Str("reason", session.Reason).Dur("duration", session.Duration()).Msg("Session ended")
	t.listener.SessionEnded(session, stats)
	return stats, nil
}

func (t *Tracker) evaluate(guildID string, userID string, username string, stats database.Stats) {

	owned, err := t.store.GetAchievements(guildID, userID)
	if err != nil {
		log.Error().Err(err).Str("guild_id", guildID).Str("user_id", userID).Msg("Could not read achievements")
		return
	}
	unlocked := make(map[string]bool, len(owned))
	for _, a := range owned {
		unlocked[a.AchievementID] = true
	}
	reached := achievements.Evaluate(stats, unlocked)
	if len(reached) == 0 {
		return
	}

	now := t.clock.Now()
	fresh, err := t.store.UnlockAchievements(guildID, userID, achievements.IDs(reached), now)
	if err != nil {
		log.Error().Err(err).Str("guild_id", guildID).Str("user_id", userID).Msg("Could not unlock achievements")
		return
	}
	for _, id := range fresh {
		achievement, ok := achievements.Lookup(id)
		if !ok {
			continue
		}
		t.metrics.AchievementsUnlocked.WithLabelValues(id).Inc()
		log.Info().Str("guild_id", guildID).Str("user_id", userID).Str("achievement", id).Msg("Achievement unlocked")
		t.listener.AchievementUnlocked(Unlock{
			GuildID:     guildID,
			UserID:      userID,
			Username:    username,
			Achievement: achievement,
			Stats:       stats,
			At:          now,
		})
	}
}

// guildSettings returns the cached settings of the guild. On failure the
// guild behaves as disabled
func (t *Tracker) guildSettings(guildID string) database.Settings {

	t.settingsMu.Lock()
	settings, ok := t.settings[guildID]
	t.settingsMu.Unlock()
	if ok {
		return settings
	}

	settings, err := t.store.GetSettings(guildID)
	if err != nil {
		log.Error().Err(err).Str("guild_id", guildID).Msg("Could not read guild settings")
		return database.Settings{GuildID: guildID}
	}
	t.settingsMu.Lock()
	t.settings[guildID] = settings
	t.settingsMu.Unlock()
	return settings
}

func mergeMember(old Member, m Member) Member {
	if m.Username == "" {
		m.Username = old.Username
	}
	if m.Roles == nil {
		m.Roles = old.Roles
	}
	if m.ChannelID == "" {
		m.ChannelID = old.ChannelID
	}
	return m
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

type nopListener struct{}

func (nopListener) SessionEnded(database.Session, database.Stats) {}
func (nopListener) MovedToAFK(AFKMove)                           {}
func (nopListener) AchievementUnlocked(Unlock)                   {}
