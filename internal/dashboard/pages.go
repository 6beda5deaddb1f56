package dashboard

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"afkwatch/internal/achievements"
	"afkwatch/internal/common"
	"afkwatch/internal/database"
	"afkwatch/internal/tracker"
)

const (
	MIN_TIMEOUT_MINUTES = 1
	MAX_TIMEOUT_MINUTES = 24 * 60
)

var snowflake = regexp.MustCompile(`^\d{5,20}$`)

func templateFuncs(clock quartz.Clock) template.FuncMap {
	return template.FuncMap{
		"duration": common.FormatDuration,
		"seconds": func(s int64) string {
			return common.FormatDuration(time.Duration(s) * time.Second)
		},
		"since": func(t time.Time) string {
			return common.FormatDuration(clock.Now().Sub(t))
		},
		"until": func(t time.Time) string {
			if t.IsZero() {
				return "never"
			}
			return common.FormatDuration(t.Sub(clock.Now()))
		},
		"date": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.UTC().Format("2006-01-02 15:04")
		},
		"ids": func(l database.IDList) string {
			return strings.Join(l, ", ")
		},
		"achievement": func(id string) string {
			if a, ok := achievements.Lookup(id); ok {
				return a.String()
			}
			return id
		},
		"add": func(a, b int) int { return a + b },
	}
}

type guildRow struct {
	Settings database.Settings
	Totals   database.GuildTotals
	InVoice  int
}

type indexData struct {
	Guilds          []guildRow
	Live            []tracker.Presence
	Names           map[string]string
	TelegramEnabled bool
}

type guildData struct {
	Settings     database.Settings
	Totals       database.GuildTotals
	Leaderboard  []database.Stats
	Sessions     []database.Session
	Achievements []database.Achievement
	Live         []tracker.Presence
	Names        map[string]string
	Saved        bool
	Error        string
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {

	guilds, err := s.database.ListGuilds()
	if err != nil {
		s.internalError(w, err)
		return
	}
	live := s.live.Snapshot()
	inVoice := map[string]int{}
	for _, p := range live {
		inVoice[p.GuildID]++
	}

	data := indexData{Live: live, Names: map[string]string{}, TelegramEnabled: s.notifier != nil && s.notifier.Enabled()}
	for _, settings := range guilds {
		totals, err := s.database.GuildTotals(settings.GuildID)
		if err != nil {
			s.internalError(w, err)
			return
		}
		data.Guilds = append(data.Guilds, guildRow{Settings: settings, Totals: totals, InVoice: inVoice[settings.GuildID]})
		data.Names[settings.GuildID] = guildName(settings)
	}
	s.render(w, http.StatusOK, "index.html", data)
}

func (s *Server) guild(w http.ResponseWriter, r *http.Request) {

	guildID := chi.URLParam(r, "guildID")
	data, err := s.guildData(guildID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	data.Saved = r.URL.Query().Get("saved") == "1"
	s.render(w, http.StatusOK, "guild.html", data)
}

func (s *Server) guildData(guildID string) (guildData, error) {

	var data guildData
	var err error
	if data.Settings, err = s.database.GetSettings(guildID); err != nil {
		return data, err
	}
	if data.Totals, err = s.database.GuildTotals(guildID); err != nil {
		return data, err
	}
	if data.Leaderboard, err = s.database.Leaderboard(guildID, LEADERBOARD_SIZE); err != nil {
		return data, err
	}
	if data.Sessions, err = s.database.RecentSessions(guildID, RECENT_SESSIONS); err != nil {
		return data, err
	}
	if data.Achievements, err = s.database.RecentAchievements(guildID, RECENT_ACHIEVEMENTS); err != nil {
		return data, err
	}

	// Usernames come from the stats, ids are shown for the others
	data.Names = map[string]string{}
	for _, stats := range data.Leaderboard {
		data.Names[stats.UserID] = stats.Username
	}
	for _, session := range data.Sessions {
		if session.Username != "" {
			data.Names[session.UserID] = session.Username
		}
	}
	for _, p := range s.live.Snapshot() {
		if p.GuildID == guildID {
			data.Live = append(data.Live, p)
			if p.Username != "" {
				data.Names[p.UserID] = p.Username
			}
		}
	}
	return data, nil
}

func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {

	guildID := chi.URLParam(r, "guildID")
	settings, err := s.database.GetSettings(guildID)
	if err != nil {
		s.internalError(w, err)
		return
	}

	if err := applyForm(&settings, r); err != nil {
		data, dataErr := s.guildData(guildID)
		if dataErr != nil {
			s.internalError(w, dataErr)
			return
		}
		data.Error = err.Error()
		s.render(w, http.StatusBadRequest, "guild.html", data)
		return
	}

	if err := s.database.SaveSettings(settings, s.clock.Now()); err != nil {
		s.internalError(w, err)
		return
	}
	s.live.Reload(guildID)
	log.Info().Str("guild_id", guildID).Str("remote", r.RemoteAddr).Msg("Settings changed from the dashboard")
	http.Redirect(w, r, fmt.Sprintf("/guilds/%s?saved=1", guildID), http.StatusSeeOther)
}

// applyForm copies the submitted settings form into settings
func applyForm(settings *database.Settings, r *http.Request) error {

	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("could not read the form")
	}

	minutes, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("timeout_minutes")))
	if err != nil {
		return fmt.Errorf("timeout is not a number")
	}
	if minutes < MIN_TIMEOUT_MINUTES || minutes > MAX_TIMEOUT_MINUTES {
		return fmt.Errorf("timeout must be between %d and %d minutes", MIN_TIMEOUT_MINUTES, MAX_TIMEOUT_MINUTES)
	}

	afkChannelID := strings.TrimSpace(r.PostFormValue("afk_channel_id"))
	announceChannelID := strings.TrimSpace(r.PostFormValue("announce_channel_id"))
	for _, id := range []string{afkChannelID, announceChannelID} {
		if id != "" && !snowflake.MatchString(id) {
			return fmt.Errorf("%q is not a discord id", id)
		}
	}
	exemptUsers, err := parseIDs(r.PostFormValue("exempt_user_ids"))
	if err != nil {
		return err
	}
	exemptRoles, err := parseIDs(r.PostFormValue("exempt_role_ids"))
	if err != nil {
		return err
	}

	settings.TimeoutSeconds = int64(minutes) * 60
	settings.AFKChannelID = afkChannelID
	settings.AnnounceChannelID = announceChannelID
	settings.ExemptUserIDs = exemptUsers
	settings.ExemptRoleIDs = exemptRoles
	// Unchecked boxes are not submitted
	settings.Enabled = r.PostFormValue("enabled") != ""
	settings.NotifyAFK = r.PostFormValue("notify_afk") != ""
	settings.NotifyAchievements = r.PostFormValue("notify_achievements") != ""
	return nil
}

func parseIDs(raw string) (database.IDList, error) {
	var ids database.IDList
	for _, id := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\r' }) {
		if !snowflake.MatchString(id) {
			return nil, fmt.Errorf("%q is not a discord id", id)
		}
		if !ids.Contains(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("Could not render page")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("Dashboard request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func guildName(settings database.Settings) string {
	if settings.GuildName == "" {
		return settings.GuildID
	}
	return settings.GuildName
}
