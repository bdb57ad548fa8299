package server

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lugia19/GPT-Speaker/internal/observe"
)

const wsWriteTimeout = 5 * time.Second

// handleTranscriptWS streams every published transcript to the client as a
// JSON text message, starting with the latest one.
func (s *Server) handleTranscriptWS(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeJSON(w, http.StatusNotImplemented, messageResponse{Error: msgNotConfigured})
		return
	}

	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		// Accept has already written the response.
		observe.Logger(r.Context()).Debug("server: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// The client never sends; CloseRead cancels ctx when it disconnects.
	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(ctx)

	entries := s.feed.Subscribe(ctx)
	last, sentLast := s.feed.Last()
	if sentLast {
		if err := writeEntry(ctx, conn, last); err != nil {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			if sentLast && e.RequestID == last.RequestID && e.Time.Equal(last.Time) {
				// Published between Subscribe and Last.
				continue
			}
			if err := writeEntry(ctx, conn, e); err != nil {
				log.Debug("server: websocket write failed", "err", err)
				return
			}
		}
	}
}

func writeEntry(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if len(s.origins) == 0 {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(s.origins))
	for _, o := range s.origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}
