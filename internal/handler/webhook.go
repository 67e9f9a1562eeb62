package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/huddle/internal/whatsapp"
)

type MessageProcessor interface {
	Process(ctx context.Context, messageID, from, text string) error
}

// WebhookHandler receives WhatsApp Cloud API callbacks.
type WebhookHandler struct {
	processor   MessageProcessor
	verifyToken string
	appSecret   string
	logger      *slog.Logger
}

func NewWebhookHandler(processor MessageProcessor, verifyToken, appSecret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor:   processor,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		logger:      logger,
	}
}

// Verify answers the subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := whatsapp.VerifyChallenge(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), h.verifyToken)
	if !ok {
		h.logger.Warn("webhook verification failed", "mode", q.Get("hub.mode"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// Receive processes a message delivery. Processing failures are logged and
// still acknowledged so the platform does not redeliver indefinitely.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if h.appSecret != "" && !whatsapp.VerifySignature(h.appSecret, body, r.Header.Get(whatsapp.SignatureHeader)) {
		h.logger.Warn("webhook signature mismatch", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	msgs, err := whatsapp.ParseMessages(body)
	if err != nil {
		h.logger.Warn("malformed webhook payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, m := range msgs {
		if err := h.processor.Process(r.Context(), m.ID, m.From, m.Text); err != nil {
			h.logger.Error("process message", "message_id", m.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}
