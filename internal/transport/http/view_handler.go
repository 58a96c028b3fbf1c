package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pulsequiz-sync/internal/app"
)

// ViewSource is the session the relay publishes.
type ViewSource interface {
	View() app.View
	Subscribe() (<-chan app.View, func())
}

// Actions lets dashboards act as the attached player. Nil makes the relay
// read-only.
type Actions interface {
	SelectAnswer(ctx context.Context, choice int) error
	FlagChallenge(ctx context.Context, questionIndex int, note string) error
}

// ViewHandler relays the derived session view to local dashboards.
type ViewHandler struct {
	source   ViewSource
	actions  Actions
	upgrader websocket.Upgrader
}

func NewViewHandler(source ViewSource, actions Actions) *ViewHandler {
	return &ViewHandler{
		source:  source,
		actions: actions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes mounts /ws, /state and /healthz.
func (h *ViewHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/state", h.ServeState)
	mux.HandleFunc("/ws", h.ServeWS)
	return mux
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Choice int `json:"choice"`
}

type flagPayload struct {
	QuestionIndex int    `json:"questionIndex"`
	Note          string `json:"note"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type ackPayload struct {
	Action string `json:"action"`
}

// ServeState writes the current view as JSON.
func (h *ViewHandler) ServeState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.source.View()); err != nil {
		log.Warn().Err(err).Msg("encode view failed")
	}
}

// ServeWS upgrades the request and pushes every view change until the client
// goes away.
func (h *ViewHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	views, cancel := h.source.Subscribe()
	defer cancel()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	viewsDone := make(chan struct{})

	// single writer; gorilla connections allow one concurrent writer
	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(viewsDone)
		for {
			select {
			case v, ok := <-views:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: "view", Payload: v}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	reply := func(msg outboundMessage) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if h.actions == nil {
			reply(outboundMessage{Type: "error", Payload: errorPayload{Message: "relay is read-only"}})
			continue
		}
		switch inbound.Type {
		case "answer":
			var p answerPayload
			if err := json.Unmarshal(inbound.Payload, &p); err != nil {
				reply(outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			if err := h.actions.SelectAnswer(r.Context(), p.Choice); err != nil {
				reply(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			reply(outboundMessage{Type: "ack", Payload: ackPayload{Action: "answer"}})
		case "challenge":
			var p flagPayload
			if err := json.Unmarshal(inbound.Payload, &p); err != nil {
				reply(outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid challenge payload"}})
				continue
			}
			if err := h.actions.FlagChallenge(r.Context(), p.QuestionIndex, p.Note); err != nil {
				reply(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			reply(outboundMessage{Type: "ack", Payload: ackPayload{Action: "challenge"}})
		default:
			reply(outboundMessage{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-viewsDone
	close(send)
	<-writerDone
}
