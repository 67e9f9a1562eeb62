package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/huddle/internal/model"
)

// HandleFeed upgrades the request and streams event changes until the peer
// disconnects. The optional "sport" query parameter filters the feed.
// originPatterns lists allowed cross-origin hosts; empty means same origin.
func HandleFeed(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sport model.Sport
		if q := r.URL.Query().Get("sport"); q != "" {
			s, ok := model.ParseSport(q)
			if !ok {
				http.Error(w, "unknown sport", http.StatusBadRequest)
				return
			}
			sport = s
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		logger.Debug("feed client connected", "sport", sport)
		NewClient(hub, conn, sport).Run(r.Context())
	}
}
