package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteWait = 10 * time.Second

// wsFrame is the JSON message sent for every stream frame.
type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// wsEmitter writes stream frames as WebSocket text messages.
type wsEmitter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (e *wsEmitter) SendData(data any) error {
	return e.send(wsFrame{Event: "message", Data: data})
}

func (e *wsEmitter) SendEvent(event string, data any) error {
	return e.send(wsFrame{Event: event, Data: data})
}

func (e *wsEmitter) SendText(event, text string) error {
	return e.send(wsFrame{Event: event, Data: text})
}

func (e *wsEmitter) SendComment(string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (e *wsEmitter) send(f wsFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return e.conn.WriteJSON(f)
}

func (h *chatHandler) upgrader() *websocket.Upgrader {
	allowed := h.deps.AllowedOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			for _, o := range allowed {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

// streamWS answers over a WebSocket connection with the same frames as
// the SSE route.
func (h *chatHandler) streamWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client never sends data; reading surfaces close frames and disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	em := &wsEmitter{conn: conn}
	if err := h.deps.Driver.Run(ctx, vars["chat_id"], vars["stream_id"], em); err != nil {
		h.logger.Debug("websocket stream ended early", zap.String("stream_id", vars["stream_id"]), zap.Error(err))
		return
	}

	em.mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
	em.mu.Unlock()
}
