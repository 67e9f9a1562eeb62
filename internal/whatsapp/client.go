package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const DefaultBaseURL = "https://graph.facebook.com"

var ErrNotConfigured = errors.New("whatsapp client not configured")

// Client talks to the WhatsApp Cloud API.
type Client struct {
	baseURL       string
	apiVersion    string
	phoneNumberID string
	accessToken   string
	httpClient    *http.Client
	logger        *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithBaseURL(u string) Option {
	return func(cl *Client) {
		cl.baseURL = strings.TrimRight(u, "/")
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

func NewClient(apiVersion, phoneNumberID, accessToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:       DefaultBaseURL,
		apiVersion:    apiVersion,
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		httpClient:    http.DefaultClient,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the sender id and access token are set.
func (c *Client) Configured() bool {
	return c.phoneNumberID != "" && c.accessToken != ""
}

type textBody struct {
	Body string `json:"body"`
}

type textMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

// APIError is a non-2xx response from the Cloud API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp API error: status %d: %s", e.StatusCode, e.Body)
}

// SendText sends a plain text message to phone.
func (c *Client) SendText(ctx context.Context, phone, body string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	payload := textMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               phone,
		Type:             "text",
		Text:             textBody{Body: body},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	c.logger.Debug("whatsapp message sent", "to", phone)
	return nil
}

// CreateGroup returns a handle for a new group chat. The Cloud API has no
// group endpoint, so the handle is generated locally.
func (c *Client) CreateGroup(_ context.Context, name string, phones []string) (string, error) {
	handle := "group-" + uuid.NewString()
	c.logger.Info("whatsapp group created", "group", handle, "name", name, "members", len(phones))
	return handle, nil
}
