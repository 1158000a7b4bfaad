package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gyaneshwarpardhi/skilltree/internal/action"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxInbound = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundMessage is an action sent over the socket.
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundResult struct {
	Type   string         `json:"type"`
	Result *action.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// GET /v1/sessions/{id}/ws: stream redraw frames and notices; accepts
// {"type":"action","payload":{...}} messages from the client.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	msgs, unsubscribe, err := s.Subscribe()
	if err != nil {
		writeErr(w, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session", s.ID(), "err", err)
		return
	}
	defer conn.Close()

	replies := make(chan outboundResult, 8)
	readerDone := make(chan struct{})
	writerDone := make(chan struct{})
	defer close(writerDone)
	reply := func(o outboundResult) bool {
		select {
		case replies <- o:
			return true
		case <-writerDone:
			return false
		}
	}
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(maxInbound)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var in inboundMessage
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			out := outboundResult{Type: "error"}
			var a action.Action
			switch {
			case in.Type != "action":
				out.Error = "unsupported message type " + in.Type
			default:
				if err := json.Unmarshal(in.Payload, &a); err != nil {
					out.Error = err.Error()
					break
				}
				res, err := s.Dispatch(r.Context(), a)
				if err != nil {
					out.Error = err.Error()
					break
				}
				out = outboundResult{Type: "result", Result: &res}
			}
			if !reply(out) {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case m, ok := <-msgs:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteJSON(m); err != nil {
				h.logger.Debug("websocket write failed", "session", s.ID(), "err", err)
				return
			}
		case rep := <-replies:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(rep); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readerDone:
			return
		}
	}
}
