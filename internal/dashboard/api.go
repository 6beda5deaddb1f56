package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"afkwatch/internal/database"
	"afkwatch/internal/telegram"
	"afkwatch/internal/tracker"
)

// Response is the body of every API answer that is not a listing
type Response struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type LeaderboardEntry struct {
	Rank                  int    `json:"rank"`
	UserID                string `json:"user_id"`
	Username              string `json:"username"`
	VoiceSeconds          int64  `json:"voice_seconds"`
	Sessions              int64  `json:"sessions"`
	LongestSessionSeconds int64  `json:"longest_session_seconds"`
	AFKMoves              int64  `json:"afk_moves"`
	Messages              int64  `json:"messages"`
}

type SessionEntry struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	Username        string `json:"username"`
	ChannelID       string `json:"channel_id"`
	StartedAt       int64  `json:"started_at"`
	EndedAt         int64  `json:"ended_at"`
	DurationSeconds int64  `json:"duration_seconds"`
	Reason          string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, response any) {

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(response); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// limit reads the limit query parameter, at most bound
func limit(r *http.Request, bound int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > bound {
		return bound
	}
	return n
}

func (s *Server) apiLive(w http.ResponseWriter, _ *http.Request) {
	live := s.live.Snapshot()
	if live == nil {
		live = []tracker.Presence{}
	}
	writeJSON(w, http.StatusOK, live)
}

func (s *Server) apiLeaderboard(w http.ResponseWriter, r *http.Request) {

	guildID := chi.URLParam(r, "guildID")
	board, err := s.database.Leaderboard(guildID, limit(r, LEADERBOARD_SIZE))
	if err != nil {
		log.Error().Err(err).Str("guild_id", guildID).Msg("Could not get leaderboard")
		writeJSON(w, http.StatusInternalServerError, Response{Message: "Could not get leaderboard"})
		return
	}
	entries := make([]LeaderboardEntry, 0, len(board))
	for i, stats := range board {
		entries = append(entries, leaderboardEntry(i+1, stats))
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) apiSessions(w http.ResponseWriter, r *http.Request) {

	guildID := chi.URLParam(r, "guildID")
	sessions, err := s.database.RecentSessions(guildID, limit(r, RECENT_SESSIONS))
	if err != nil {
		log.Error().Err(err).Str("guild_id", guildID).Msg("Could not get sessions")
		writeJSON(w, http.StatusInternalServerError, Response{Message: "Could not get sessions"})
		return
	}
	entries := make([]SessionEntry, 0, len(sessions))
	for _, session := range sessions {
		entries = append(entries, SessionEntry{
			ID:              session.ID,
			UserID:          session.UserID,
			Username:        session.Username,
			ChannelID:       session.ChannelID,
			StartedAt:       session.StartedAt.Unix(),
			EndedAt:         session.EndedAt.Unix(),
			DurationSeconds: session.DurationSeconds,
			Reason:          session.Reason,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) apiTelegramTest(w http.ResponseWriter, r *http.Request) {

	if s.notifier == nil || !s.notifier.Enabled() {
		writeJSON(w, http.StatusConflict, Response{Message: "Telegram notifications are not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), TELEGRAM_TEST_TIMEOUT)
	defer cancel()
	if err := s.notifier.Notify(ctx, telegram.FormatTest("the dashboard ("+r.RemoteAddr+")")); err != nil {
		log.Error().Err(err).Msg("Telegram test failed")
		writeJSON(w, http.StatusBadGateway, Response{Message: "Telegram test failed", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "Test notification sent"})
}

func leaderboardEntry(rank int, stats database.Stats) LeaderboardEntry {
	return LeaderboardEntry{
		Rank:                  rank,
		UserID:                stats.UserID,
		Username:              stats.Username,
		VoiceSeconds:          stats.VoiceSeconds,
		Sessions:              stats.Sessions,
		LongestSessionSeconds: stats.LongestSessionSeconds,
		AFKMoves:              stats.AFKMoves,
		Messages:              stats.Messages,
	}
}
