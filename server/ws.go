package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"videoRAG/chat"
)

const writeWait = 10 * time.Second

type progressFrame struct {
	Type    string `json:"type"`
	Stage   string `json:"stage"`
	Percent int    `json:"pct"`
	Message string `json:"message"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Emit(msg chat.Outbound) error { return c.writeJSON(msg) }

// readLoop drains client frames until the connection goes away.
func readLoop(conn *websocket.Conn, onMessage func([]byte)) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if onMessage != nil {
			onMessage(data)
		}
	}
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, string, bool) {
	id := mux.Vars(r)["id"]
	if _, err := s.videos.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return nil, "", false
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsLogger.Printf("upgrade failed for video %s: %v", id, err)
		return nil, "", false
	}
	return conn, id, true
}

// progressSocket streams pipeline events for one video until the client leaves.
func (s *Server) progressSocket(w http.ResponseWriter, r *http.Request) {
	conn, id, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	defer conn.Close()

	sub := s.progress.Subscribe(id)
	defer sub.Close()
	wsLogger.Printf("progress connect video=%s", id)

	out := &wsConn{conn: conn}
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		readLoop(conn, nil)
	}()

	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			frame := progressFrame{Type: "progress", Stage: ev.Stage, Percent: ev.Percent, Message: ev.Message}
			if err := out.writeJSON(frame); err != nil {
				wsLogger.Printf("progress write failed video=%s: %v", id, err)
				return
			}
		case <-gone:
			wsLogger.Printf("progress disconnect video=%s", id)
			return
		}
	}
}

// chatSocket runs one chat session per connection.
func (s *Server) chatSocket(w http.ResponseWriter, r *http.Request) {
	conn, id, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	defer conn.Close()
	wsLogger.Printf("chat connect video=%s", id)

	out := &wsConn{conn: conn}
	session := chat.NewSession(id, s.videos, s.generator, out, s.chatTopK)
	defer session.Close()
	session.Greeting()

	readLoop(conn, func(data []byte) {
		var msg chat.Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			out.Emit(chat.Outbound{Type: chat.TypeError, Error: "Invalid JSON payload"})
			return
		}
		session.Handle(msg)
	})
	wsLogger.Printf("chat disconnect video=%s", id)
}

var _ chat.Emitter = (*wsConn)(nil)
