package httpapi

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/you/stream-alerts/internal/core"
)

const (
	hubWriteWait  = 10 * time.Second
	hubPingPeriod = 30 * time.Second
	clientBuffer  = 32
)

// overlayFrame is one message pushed to overlay pages. "show" carries the
// alert to render; "clear" tells the page to take it down.
type overlayFrame struct {
	Type  string      `json:"type"`
	Alert *core.Alert `json:"alert,omitempty"`
	ID    string      `json:"id,omitempty"`
}

// Hub fans display transitions out to connected overlay pages over WebSocket.
// A page connecting mid-alert immediately receives the alert currently on
// screen so it never renders a stale blank.
type Hub struct {
	upgrader websocket.Upgrader
	metrics  *Metrics

	// visible returns the alert currently on screen, nil when idle.
	visible func() *core.Alert

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(visible func() *core.Alert, metrics *Metrics) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// overlay pages are local browser sources; the CORS policy on the
			// rest of the API does not apply to the upgrade
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics: metrics,
		visible: visible,
		clients: make(map[*hubClient]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(baseWriter(w), r, nil)
	if err != nil {
		log.Printf("httpapi: overlay upgrade failed: %v", err)
		return
	}

	client := &hubClient{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.metrics.IncOverlayClients(1)

	// replay whatever is on screen right now
	if h.visible != nil {
		if alert := h.visible(); alert != nil {
			if frame, err := json.Marshal(overlayFrame{Type: "show", Alert: alert}); err == nil {
				client.send <- frame
			}
		}
	}

	go h.writePump(client)
	h.readPump(client)
}

// readPump discards inbound frames; the overlay protocol is one-way. It exists
// to notice the peer going away.
func (h *Hub) readPump(client *hubClient) {
	defer h.drop(client)
	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *hubClient) {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(client)
	}()

	for {
		select {
		case frame := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(client *hubClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	if present {
		delete(h.clients, client)
	}
	h.mu.Unlock()
	_ = client.conn.Close()
	if present {
		h.metrics.IncOverlayClients(-1)
	}
}

func (h *Hub) broadcast(frame overlayFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.metrics.IncBroadcastDrops()
		}
	}
}

// ShowAlert pushes a show frame to every connected overlay page.
func (h *Hub) ShowAlert(alert core.Alert) {
	h.broadcast(overlayFrame{Type: "show", Alert: &alert})
}

// ClearAlert pushes a clear frame for the alert that just left the screen.
func (h *Hub) ClearAlert(id string) {
	h.broadcast(overlayFrame{Type: "clear", ID: id})
}

// ClientCount reports how many overlay pages are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every overlay page and refuses new ones. The send
// channels are never closed; closing the connections unblocks both pumps, and
// a replay racing shutdown then lands in a buffered channel nobody reads.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*hubClient]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		_ = client.conn.Close()
	}
}
