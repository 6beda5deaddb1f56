package dashboard

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"afkwatch/internal/common"
)

const COOKIE_NAME = "afkwatch_session"

// How often expired logins are dropped
const PURGE_INTERVAL = 5 * time.Minute

// logins keeps the dashboard sessions in memory. A restart logs everyone out
type logins struct {
	mu     sync.Mutex
	clock  quartz.Clock
	ttl    time.Duration
	expiry map[uuid.UUID]time.Time
	purger *common.TimedExecutor
}

func newLogins(clock quartz.Clock, ttl time.Duration) *logins {
	l := &logins{clock: clock, ttl: ttl, expiry: map[uuid.UUID]time.Time{}}
	l.purger = common.NewTimedExecutor(clock, PURGE_INTERVAL, l.purge)
	return l
}

func (l *logins) create() (uuid.UUID, time.Time) {
	token := uuid.New()
	expires := l.clock.Now().Add(l.ttl)
	l.mu.Lock()
	l.expiry[token] = expires
	l.mu.Unlock()
	return token, expires
}

func (l *logins) valid(raw string) bool {

	l.purger.Execute()
	token, err := uuid.Parse(raw)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	expires, ok := l.expiry[token]
	return ok && l.clock.Now().Before(expires)
}

func (l *logins) remove(raw string) {
	if token, err := uuid.Parse(raw); err == nil {
		l.mu.Lock()
		delete(l.expiry, token)
		l.mu.Unlock()
	}
}

func (l *logins) purge() {

	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for token, expires := range l.expiry {
		if !now.Before(expires) {
			delete(l.expiry, token)
		}
	}
	log.Debug().Int("logins", len(l.expiry)).Msg("Purged expired dashboard logins")
}

func (l *logins) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.expiry)
}

type loginData struct {
	Error string
}

func (s *Server) loginPage(w http.ResponseWriter, _ *http.Request) {
	s.render(w, http.StatusOK, "login.html", loginData{})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {

	password := r.PostFormValue("password")
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) != 1 {
		log.Warn().Str("remote", r.RemoteAddr).Msg("Wrong dashboard password")
		s.render(w, http.StatusUnauthorized, "login.html", loginData{Error: "Wrong password"})
		return
	}

	token, expires := s.logins.create()
	http.SetCookie(w, &http.Cookie{
		Name:     COOKIE_NAME,
		Value:    token.String(),
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	log.Info().Str("remote", r.RemoteAddr).Msg("Dashboard login")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(COOKIE_NAME); err == nil {
		s.logins.remove(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: COOKIE_NAME, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// requireLogin sends pages to the login form and answers 401 to the API
func (s *Server) requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(COOKIE_NAME)
		if err == nil && s.logins.valid(cookie.Value) {
			next.ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeJSON(w, http.StatusUnauthorized, Response{Message: "Not logged in"})
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	})
}
