package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/huddle/internal/chat"
	"github.com/dukerupert/huddle/internal/config"
	"github.com/dukerupert/huddle/internal/event"
	"github.com/dukerupert/huddle/internal/handler"
	"github.com/dukerupert/huddle/internal/membership"
	"github.com/dukerupert/huddle/internal/middleware"
	"github.com/dukerupert/huddle/internal/notify"
	"github.com/dukerupert/huddle/internal/store"
	"github.com/dukerupert/huddle/internal/whatsapp"
	ws "github.com/dukerupert/huddle/internal/websocket"
)

// Webhook deliveries per client IP: a burst of 20, refilled at 5/s.
const (
	webhookRate  = 5
	webhookBurst = 20
)

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	engine      *event.Engine
	scheduler   *event.Scheduler
	eventH      *handler.EventHandler
	userH       *handler.UserHandler
	webhookH    *handler.WebhookHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

// Option customizes the collaborators New wires together.
type Option func(*options)

type options struct {
	sender notify.Sender
	engine []event.Option
}

// WithSender replaces the WhatsApp client used for outbound messages.
func WithSender(s notify.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithEngineOptions passes options through to the event engine.
func WithEngineOptions(opts ...event.Option) Option {
	return func(o *options) { o.engine = append(o.engine, opts...) }
}

func New(cfg config.Config, db *sql.DB, logger *slog.Logger, opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	hub := ws.NewHub(logger.With("component", "websocket"))
	loc := cfg.Location()

	eventStore := store.NewEventStore(db)
	userStore := store.NewUserStore(db)

	if o.sender == nil {
		o.sender = whatsapp.NewClient(
			cfg.WhatsApp.APIVersion,
			cfg.WhatsApp.PhoneNumberID,
			cfg.WhatsApp.AccessToken,
			whatsapp.WithBaseURL(cfg.WhatsApp.BaseURL),
			whatsapp.WithLogger(logger.With("component", "whatsapp")),
		)
	}
	notifier := notify.New(o.sender, userStore, hub, loc, logger.With("component", "notify"))

	engine := event.NewEngine(
		eventStore,
		notifier,
		membership.NewPolicy(userStore, cfg.FreeEventLimit),
		event.Config{MinAdvance: cfg.MinAdvance()},
		logger.With("component", "event"),
		o.engine...,
	)
	processor := chat.NewProcessor(engine, userStore, o.sender, loc, logger.With("component", "chat"))

	return &Server{
		db:          db,
		hub:         hub,
		engine:      engine,
		scheduler:   event.NewScheduler(engine, cfg.SweepInterval, logger.With("component", "scheduler")),
		eventH:      handler.NewEventHandler(engine, logger.With("component", "event_handler")),
		userH:       handler.NewUserHandler(userStore, engine, logger.With("component", "user_handler")),
		webhookH:    handler.NewWebhookHandler(processor, cfg.WhatsApp.VerifyToken, cfg.WhatsApp.AppSecret, logger.With("component", "webhook")),
		rateLimiter: middleware.NewRateLimiter(webhookRate, webhookBurst),
		logger:      logger,
	}
}

// Engine returns the event engine.
func (s *Server) Engine() *event.Engine {
	return s.engine
}

// Scheduler returns the reminder sweep scheduler.
func (s *Server) Scheduler() *event.Scheduler {
	return s.scheduler
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// WhatsApp Cloud API webhook
	mux.HandleFunc("GET /webhook", s.webhookH.Verify)
	mux.HandleFunc("POST /webhook", s.rateLimitedHandler(s.webhookH.Receive))

	// User API routes
	mux.HandleFunc("POST /api/users", s.userH.Create)
	mux.HandleFunc("GET /api/users/{id}", s.userH.Get)
	mux.HandleFunc("GET /api/users/{id}/events", s.userH.Events)

	mux.HandleFunc("GET /api/sports", handler.ListSports)

	// Event API routes
	mux.HandleFunc("POST /api/events", s.eventH.Create)
	mux.HandleFunc("GET /api/events", s.eventH.List)
	mux.HandleFunc("GET /api/events/{id}", s.eventH.Get)
	mux.HandleFunc("POST /api/events/{id}/join", s.eventH.Join)
	mux.HandleFunc("POST /api/events/{id}/leave", s.eventH.Leave)
	mux.HandleFunc("POST /api/events/{id}/cancel", s.eventH.Cancel)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleFeed(s.hub, nil, s.logger.With("component", "feed")))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
