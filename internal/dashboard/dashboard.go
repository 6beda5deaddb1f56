// Package dashboard serves the administration web pages: guild settings,
// leaderboards, recent sessions and the members currently in voice.
package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"afkwatch/internal/database"
	"afkwatch/internal/tracker"
)

//go:embed templates/*.html
var templatesFS embed.FS

const (
	LOGIN_ATTEMPTS        = 5
	LOGIN_WINDOW          = time.Minute
	SHUTDOWN_TIMEOUT      = 10 * time.Second
	LEADERBOARD_SIZE      = 20
	RECENT_SESSIONS       = 25
	RECENT_ACHIEVEMENTS   = 15
	DEFAULT_SESSION_TTL   = 12 * time.Hour
	READ_HEADER_TIMEOUT   = 10 * time.Second
	TELEGRAM_TEST_TIMEOUT = 30 * time.Second
)

// Live is the view of the tracker the dashboard needs
type Live interface {
	Snapshot() []tracker.Presence
	Reload(guildID string)
}

type Notifier interface {
	Enabled() bool
	Notify(ctx context.Context, text string) error
}

type Options struct {
	Password   string
	SessionTTL time.Duration
	Database   *database.DB
	Live       Live
	Notifier   Notifier
	// Where /metrics reads from
	Gatherer prometheus.Gatherer
	Clock    quartz.Clock
}

type Server struct {
	password  string
	database  *database.DB
	live      Live
	notifier  Notifier
	gatherer  prometheus.Gatherer
	clock     quartz.Clock
	logins    *logins
	templates *template.Template
}

func New(opts Options) (*Server, error) {

	if opts.Password == "" {
		return nil, errors.New("dashboard password is empty")
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DEFAULT_SESSION_TTL
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	templates, err := template.New("").Funcs(templateFuncs(opts.Clock)).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	return &Server{
		password:  opts.Password,
		database:  opts.Database,
		live:      opts.Live,
		notifier:  opts.Notifier,
		gatherer:  opts.Gatherer,
		clock:     opts.Clock,
		logins:    newLogins(opts.Clock, opts.SessionTTL),
		templates: templates,
	}, nil
}

func (s *Server) Handler() http.Handler {

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Get("/login", s.loginPage)
	r.With(httprate.Limit(
		LOGIN_ATTEMPTS,
		LOGIN_WINDOW,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			log.Warn().Str("remote", r.RemoteAddr).Msg("Too many login attempts")
			s.render(w, http.StatusTooManyRequests, "login.html", loginData{Error: "Too many attempts, try again in a minute"})
		}),
	)).Post("/login", s.login)
	r.Post("/logout", s.logout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireLogin)

		r.Get("/", s.index)
		r.Get("/guilds/{guildID}", s.guild)
		r.Post("/guilds/{guildID}/settings", s.saveSettings)

		r.Route("/api", func(r chi.Router) {
			r.Get("/live", s.apiLive)
			r.Get("/guilds/{guildID}/leaderboard", s.apiLeaderboard)
			r.Get("/guilds/{guildID}/sessions", s.apiSessions)
			r.Post("/telegram/test", s.apiTelegramTest)
		})
	})
	return r
}

// Run serves on addr until the context is done
func (s *Server) Run(ctx context.Context, addr string) error {

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: READ_HEADER_TIMEOUT,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Dashboard listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("dashboard: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	log.Info().Msg("Dashboard stopped")
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	if err := s.database.Ping(); err != nil {
		log.Error().Err(err).Msg("Health check failed")
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	})
}
