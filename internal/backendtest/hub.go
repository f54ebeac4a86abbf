package backendtest

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type packet struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// roomHub tracks live connections and their announced rooms, and fans server
// events out to them.
type roomHub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]string // conn -> joined event id ("" = none)
}

func newRoomHub() *roomHub {
	return &roomHub{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
			return true
		}},
		conns: make(map[*websocket.Conn]string),
	}
}

func (h *roomHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.conns[conn] = ""
	h.mu.Unlock()

	go h.readLoop(conn)
}

func (h *roomHub) readLoop(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		var p packet
		if err := conn.ReadJSON(&p); err != nil {
			return
		}
		var body struct {
			EventID string `json:"event_id"`
		}
		json.Unmarshal(p.Body, &body)

		switch p.Type {
		case "join_event_chat":
			h.mu.Lock()
			h.conns[conn] = body.EventID
			h.mu.Unlock()
		case "leave_event_chat":
			h.mu.Lock()
			h.conns[conn] = ""
			h.mu.Unlock()
		}
	}
}

// broadcast sends an event to every connection, mirroring the reference
// backend's global fan-out.
func (h *roomHub) broadcast(event string, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		return
	}
	p := packet{Type: event, Body: b}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.WriteJSON(p)
	}
}

func (h *roomHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
	}
}
