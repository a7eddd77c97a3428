package broker

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The live event stream is observability-only (SPEC_FULL.md
		// #14) and carries no job or result data, so it is opened to
		// any origin the way the teacher's dashboard socket is.
		return true
	},
}

// WSHandler upgrades GET /ws connections and relays every Bus event
// to the connected client as JSON, until the client disconnects or
// the server shuts down.
type WSHandler struct {
	bus    *Bus
	logger arbor.ILogger
}

func NewWSHandler(bus *Bus, logger arbor.ILogger) *WSHandler {
	return &WSHandler{bus: bus, logger: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}
	defer conn.Close()

	events, cancel := h.bus.Subscribe()
	defer cancel()

	h.logger.Info().Int("subscribers", h.bus.SubscriberCount()).Msg("live event stream client connected")

	var writeMu sync.Mutex
	done := make(chan struct{})

	// Reader goroutine: the client sends nothing we care about, but
	// reading is how gorilla/websocket detects a closed connection.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn().Err(err).Msg("live event stream read error")
				}
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			h.logger.Info().Msg("live event stream client disconnected")
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteJSON(evt)
			writeMu.Unlock()
			if err != nil {
				h.logger.Warn().Err(err).Msg("failed to write event to live stream client")
				return
			}
		}
	}
}
