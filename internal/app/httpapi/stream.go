package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/insightmesh/market_layer/internal/events"
)

const (
	streamBuffer  = 64
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// eventStream pushes ledger events to a websocket client as they are emitted.
// Slow clients are disconnected rather than allowed to stall the emitters.
func (h *handler) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// The feed stays open for the lifetime of the subscription; a handler
	// snapshot may still fire briefly after unsubscribe, so it is never
	// closed. Overflow marks the client too slow to keep.
	feed := make(chan events.Event, streamBuffer)
	overflow := make(chan struct{}, 1)
	unsubscribe := h.app.Events.Subscribe(func(ev events.Event) {
		select {
		case feed <- ev:
		default:
			select {
			case overflow <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	// Drain the read side so close frames and pings are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-feed:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-overflow:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event stream overflow"),
				time.Now().Add(writeDeadline),
			)
			return
		}
	}
}
