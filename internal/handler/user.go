package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/huddle/internal/model"
)

type UserStore interface {
	Create(ctx context.Context, phoneNumber, name string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByPhone(ctx context.Context, phoneNumber string) (*model.User, error)
}

type UserHandler struct {
	users  UserStore
	engine Engine
	logger *slog.Logger
}

func NewUserHandler(users UserStore, engine Engine, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, engine: engine, logger: logger}
}

type createUserRequest struct {
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name"`
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.Name = strings.TrimSpace(req.Name)
	if req.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "phone_number is required")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	existing, err := h.users.GetByPhone(r.Context(), req.PhoneNumber)
	if err != nil {
		h.logger.Error("lookup user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "phone number already registered")
		return
	}

	u, err := h.users.Create(r.Context(), req.PhoneNumber, req.Name)
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Events lists the upcoming events the user takes part in.
func (h *UserHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	u, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	f, ok := parseFilter(w, r)
	if !ok {
		return
	}
	events, err := h.engine.ListForParticipant(r.Context(), id, f)
	if err != nil {
		writeEngineError(w, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
