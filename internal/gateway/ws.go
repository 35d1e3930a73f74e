package gateway

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/holdboard/holdboard/pkg/proto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from the same origin; other origins are rejected
	// by the default CheckOrigin.
}

// wsClient represents one connected change-feed subscriber.
type wsClient struct {
	conn   *websocket.Conn
	events chan proto.Event
	done   chan struct{}
}

// wsHub manages change-feed subscribers and broadcasts.
type wsHub struct {
	clients map[*wsClient]bool
	mu      sync.RWMutex
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*wsClient]bool)}
}

func (h *wsHub) register(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	log.Debug().Int("clients", len(h.clients)).Msg("change-feed client connected")
}

func (h *wsHub) unregister(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.events)
		log.Debug().Int("clients", len(h.clients)).Msg("change-feed client disconnected")
	}
}

// broadcast sends an event to all subscribers. Slow clients are skipped
// rather than blocking the sender.
func (h *wsHub) broadcast(event proto.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.events <- event:
		default:
			log.Debug().Str("type", event.Type).Msg("change-feed client buffer full, skipping event")
		}
	}
}

// handleWS upgrades the connection and streams staged-state change events
// until the client disconnects. Views in other tabs or windows use the
// feed to know when to refetch.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:   conn,
		events: make(chan proto.Event, 10),
		done:   make(chan struct{}),
	}
	s.hub.register(client)

	// Reader goroutine: drain (and ignore) client frames, detect close.
	go func() {
		defer close(client.done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.hub.unregister(client)
		_ = conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("change-feed write failed")
				}
				return
			}
		case <-client.done:
			return
		}
	}
}
