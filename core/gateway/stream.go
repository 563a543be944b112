package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cordum/stocklock/core/infra/locks"
	"github.com/cordum/stocklock/core/infra/logging"
	"github.com/gorilla/websocket"
)

const (
	defaultClientBuffer = 100
	wsWriteTimeout      = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	// lock events carry no secrets beyond what the API key already gates
	CheckOrigin:  func(r *http.Request) bool { return true },
	Subprotocols: []string{wsAPIKeyProtocol},
}

// Hub fans lock events out to websocket clients. A client whose buffer is
// full is evicted rather than allowed to stall lock operations.
type Hub struct {
	mu      sync.Mutex
	clients map[chan locks.Event]struct{}
	buffer  int
}

// NewHub returns a hub giving each client buffer pending events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Hub{clients: make(map[chan locks.Event]struct{}), buffer: buffer}
}

// PublishLockEvent implements locks.EventSink and never blocks.
func (h *Hub) PublishLockEvent(evt locks.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
			delete(h.clients, ch)
			close(ch)
			logging.Warn(component, "ws client evicted", "reason", "slow consumer")
		}
	}
}

// Len reports connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) subscribe() chan locks.Event {
	ch := make(chan locks.Event, h.buffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan locks.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error(component, "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Info(component, "ws connected", "remote", r.RemoteAddr)

	events := s.hub.subscribe()
	defer s.hub.unsubscribe(events)

	// reads only detect the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "slow consumer"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				logging.Error(component, "event marshal failed", "error", err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-gone:
			logging.Info(component, "ws disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		}
	}
}
