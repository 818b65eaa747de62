// File: handler.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 30 * time.Second
	pingPeriod  = 25 * time.Second
	renderWait  = 15 * time.Second
	maxBodySize = 4096
)

type server struct {
	sessions *SessionStore
	ledger   *OutcomeStore
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func newServer(sessions *SessionStore, ledger *OutcomeStore, allowedOrigin string, log *slog.Logger) *server {
	return &server{
		sessions: sessions,
		ledger:   ledger,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
	}
}

func (s *server) routes(staticDir string) *http.ServeMux {
	mux := http.NewServeMux()
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	mux.HandleFunc("/api/challenge/start", s.handleStart)
	mux.HandleFunc("/api/challenge/reset", s.handleReset)
	mux.HandleFunc("/api/challenge/ws", s.handleWS)
	mux.HandleFunc("/api/challenge/stats", s.handleStats)
	mux.HandleFunc("/api/challenge/history", s.handleHistory)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req StartRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.FailTimeoutMs < 0 {
		http.Error(w, "failTimeoutMs must not be negative", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.Create(req)
	if errors.Is(err, ErrImageNotAllowed) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "failed to start challenge: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.respondFrame(w, r, sess); err != nil {
		s.sessions.Remove(sess.ID)
	}
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, err := s.sessions.Get(r.URL.Query().Get("uuid"))
	if err != nil {
		http.Error(w, "uuid not found", http.StatusNotFound)
		return
	}
	if err := sess.Widget.Reset(); err != nil {
		http.Error(w, "failed to reset challenge: "+err.Error(), http.StatusGone)
		return
	}
	_ = s.respondFrame(w, r, sess)
}

// respondFrame waits for the session's current render and writes it.
func (s *server) respondFrame(w http.ResponseWriter, r *http.Request, sess *Session) error {
	ctx, cancel := context.WithTimeout(r.Context(), renderWait)
	defer cancel()

	frame, err := sess.WaitRender(ctx)
	switch {
	case errors.Is(err, ErrImageLoad):
		http.Error(w, err.Error(), http.StatusBadGateway)
		return err
	case err != nil:
		http.Error(w, "challenge not ready: "+err.Error(), http.StatusGatewayTimeout)
		return err
	}
	writeJSON(w, http.StatusOK, frame)
	return nil
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	rsp := StatsResponse{Sessions: s.sessions.Len(), Outcomes: map[string]int64{}}
	if s.ledger != nil {
		counts, err := s.ledger.Counts(r.Context())
		if err != nil {
			http.Error(w, "failed to load stats", http.StatusInternalServerError)
			return
		}
		rsp.Outcomes = counts
	}
	writeJSON(w, http.StatusOK, rsp)
}

// handleHistory lists the recorded outcomes of one session. It keeps
// answering after the session itself is gone.
func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("uuid")
	if id == "" {
		http.Error(w, "uuid required", http.StatusBadRequest)
		return
	}
	rsp := HistoryResponse{UUID: id, Outcomes: []Outcome{}}
	if s.ledger != nil {
		hist, err := s.ledger.History(r.Context(), id)
		if err != nil {
			http.Error(w, "failed to load history", http.StatusInternalServerError)
			return
		}
		if hist != nil {
			rsp.Outcomes = hist
		}
	}
	writeJSON(w, http.StatusOK, rsp)
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("uuid")
	sess, err := s.sessions.Get(id)
	if err != nil {
		http.Error(w, "uuid not found", http.StatusNotFound)
		return
	}
	send := make(chan []byte, 64)
	if !sess.attach(send) {
		http.Error(w, "session already has a socket", http.StatusConflict)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sess.detach(send)
		s.log.Warn("ws upgrade error", "session", id, "error", err)
		return
	}
	c := &wsClient{
		sess:  sess,
		conn:  conn,
		send:  send,
		done:  make(chan struct{}),
		store: s.sessions,
		log:   sess.log,
	}
	go c.run()
}

// wsClient pumps pointer events into a session's widget and pushes its
// events back out.
type wsClient struct {
	sess  *Session
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}
	store *SessionStore
	log   *slog.Logger

	// a drag subscription: open between press and release
	dragging bool
}

func (c *wsClient) run() {
	go c.writePump()
	c.sess.push(ServerMessage{Type: MsgReady})
	if f := c.currentFrame(); f != nil {
		c.sess.push(ServerMessage{Type: MsgChallenge, Challenge: f})
	}
	c.readPump()
}

func (c *wsClient) currentFrame() *ChallengeFrame {
	gen, _ := c.sess.Widget.Surfaces()
	return c.sess.frame(gen)
}

func (c *wsClient) readPump() {
	defer func() {
		c.sess.detach(c.send)
		close(c.done)
		_ = c.conn.Close()
		c.store.Remove(c.sess.ID)
	}()

	c.conn.SetReadLimit(maxBodySize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("ws read error", "error", err)
			}
			return
		}
		c.sess.touch(time.Now())

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sess.push(ServerMessage{Type: MsgError, Error: "invalid json"})
			continue
		}
		c.handle(msg)
	}
}

func (c *wsClient) handle(msg ClientMessage) {
	switch msg.Type {
	case MsgPress:
		if c.sess.Widget.Press() {
			c.dragging = true
		}
	case MsgMove:
		if !c.dragging {
			return
		}
		if pos, ok := c.sess.Widget.Move(msg.ClientX, msg.BoardLeft); ok {
			c.sess.push(ServerMessage{Type: MsgPosition, Value: &pos})
		}
	case MsgRelease:
		if !c.dragging {
			return
		}
		c.dragging = false
		c.sess.Widget.Release()
	case MsgReset:
		c.dragging = false
		if err := c.sess.Widget.Reset(); err != nil {
			c.sess.push(ServerMessage{Type: MsgError, Error: err.Error()})
		}
	default:
		c.sess.push(ServerMessage{Type: MsgError, Error: "unknown message type"})
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Warn("ws write error", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
