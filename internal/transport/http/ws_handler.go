package http

import (
	"net/http"

	"timed-quiz-service/internal/app"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// serveWS streams countdown ticks for the caller's session. Frames are
// {type:"tick"} with remaining time while the session runs and a final
// {type:"submitted"} once it ends (manually, or by expiry). The subscriber
// is cancelled when the socket closes so an abandoned tab never keeps a
// feed alive.
func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	key, ok := h.existingKey(r)
	if !ok {
		http.Error(w, "no active session", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ticks, cancel := h.countdown.Subscribe(h.baseCtx, key)
	defer cancel()

	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			msgType := "tick"
			if tick.Submitted {
				msgType = "submitted"
			}
			if err := conn.WriteJSON(outboundMessage[app.Tick]{Type: msgType, Payload: tick}); err != nil {
				return
			}
			if tick.Submitted {
				return
			}
		case <-readerGone:
			return
		}
	}
}
