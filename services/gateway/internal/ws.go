package internal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/forge-ai/readmeforge/shared/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// wsMessage is every server-to-client frame on /ws/generate.
type wsMessage struct {
	Type  string `json:"type"` // "chunk" | "done" | "error"
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(s.cfg.CORSOrigins, "*") || slices.Contains(s.cfg.CORSOrigins, origin)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
}

// serveWS reads one generation request and answers with chunk frames
// followed by exactly one done or error frame.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WS upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxBodyBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))

	var req relay.Request
	if err := conn.ReadJSON(&req); err != nil {
		writeFrame(conn, wsMessage{Type: "error", Error: "Invalid JSON body"})
		return
	}
	job, err := relay.Parse(req)
	if err != nil {
		writeFrame(conn, wsMessage{Type: "error", Error: validationMessage(err)})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The reader only services control frames; a read error means the
	// client went away.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)) != nil {
					return
				}
			}
		}
	}()

	sess, err := s.relay.Start(ctx, job, "ws")
	if err != nil {
		msg, _ := startFailure(err)
		writeFrame(conn, wsMessage{Type: "error", Error: msg})
		return
	}
	defer sess.Close()

	s.active.Add(1)
	defer s.active.Add(-1)

	for {
		frag, err := sess.Next()
		if errors.Is(err, io.EOF) {
			writeFrame(conn, wsMessage{Type: "done"})
			break
		}
		if err != nil {
			writeFrame(conn, wsMessage{Type: "error", Error: streamFailure(err)})
			break
		}
		if writeFrame(conn, wsMessage{Type: "chunk", Data: frag}) != nil {
			return
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func writeFrame(conn *websocket.Conn, msg wsMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
