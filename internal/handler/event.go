package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/huddle/internal/event"
	"github.com/dukerupert/huddle/internal/model"
)

// Engine is the event lifecycle API the handlers expose.
type Engine interface {
	Create(ctx context.Context, p event.CreateParams) (*model.Event, error)
	Get(ctx context.Context, id string) (*model.Event, error)
	Join(ctx context.Context, eventID, userID string) (*model.Event, error)
	Leave(ctx context.Context, eventID, userID string) error
	Cancel(ctx context.Context, eventID, reason string) (*model.Event, error)
	ListUpcoming(ctx context.Context, f event.Filter) ([]model.Event, error)
	ListForParticipant(ctx context.Context, userID string, f event.Filter) ([]model.Event, error)
}

const defaultCancelReason = "Canceled by organizer"

type EventHandler struct {
	engine Engine
	logger *slog.Logger
}

func NewEventHandler(engine Engine, logger *slog.Logger) *EventHandler {
	return &EventHandler{engine: engine, logger: logger}
}

type createEventRequest struct {
	CreatorID   string `json:"creator_id"`
	Sport       string `json:"sport"`
	Location    string `json:"location"`
	StartTime   string `json:"start_time"`
	Capacity    int    `json:"capacity"`
	SkillLevel  int    `json:"skill_level"`
	BookingLink string `json:"booking_link"`
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.CreatorID) == "" {
		writeError(w, http.StatusBadRequest, "creator_id is required")
		return
	}
	sport, ok := model.ParseSport(req.Sport)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown sport")
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_time must be RFC3339 format")
		return
	}

	ev, err := h.engine.Create(r.Context(), event.CreateParams{
		CreatorID:   req.CreatorID,
		Sport:       sport,
		Location:    req.Location,
		StartTime:   start,
		Capacity:    req.Capacity,
		SkillLevel:  req.SkillLevel,
		BookingLink: req.BookingLink,
	})
	if err != nil {
		writeEngineError(w, h.logger, "create event", err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	ev, err := h.engine.Get(r.Context(), event.NormalizeID(r.PathValue("id")))
	if err != nil {
		writeEngineError(w, h.logger, "get event", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	f, ok := parseFilter(w, r)
	if !ok {
		return
	}
	events, err := h.engine.ListUpcoming(r.Context(), f)
	if err != nil {
		writeEngineError(w, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

type participantRequest struct {
	UserID string `json:"user_id"`
}

func (h *EventHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	ev, err := h.engine.Join(r.Context(), event.NormalizeID(r.PathValue("id")), req.UserID)
	if err != nil {
		writeEngineError(w, h.logger, "join event", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *EventHandler) Leave(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.engine.Leave(r.Context(), event.NormalizeID(r.PathValue("id")), req.UserID); err != nil {
		writeEngineError(w, h.logger, "leave event", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *EventHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultCancelReason
	}

	ev, err := h.engine.Cancel(r.Context(), event.NormalizeID(r.PathValue("id")), reason)
	if err != nil {
		writeEngineError(w, h.logger, "cancel event", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// parseFilter reads sport, skill, page and size query parameters.
func parseFilter(w http.ResponseWriter, r *http.Request) (event.Filter, bool) {
	q := r.URL.Query()
	var f event.Filter

	if s := q.Get("sport"); s != "" {
		sport, ok := model.ParseSport(s)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown sport")
			return f, false
		}
		f.Sport = sport
	}

	ints := []struct {
		name string
		dst  *int
		min  int
	}{
		{"skill", &f.SkillLevel, 1},
		{"page", &f.Page, 0},
		{"size", &f.PageSize, 1},
	}
	for _, p := range ints {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < p.min {
			writeError(w, http.StatusBadRequest, "invalid "+p.name)
			return f, false
		}
		*p.dst = n
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	return f, true
}
