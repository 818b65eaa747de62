// File: session.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrImageLoad       = errors.New("challenge image could not be loaded")
	ErrImageNotAllowed = errors.New("image host not allowed")
)

// Session binds one widget to one browser.
type Session struct {
	ID     string
	Widget *Widget

	failTimeout time.Duration
	log         *slog.Logger

	mu       sync.Mutex
	latest   *ChallengeFrame
	sink     chan []byte
	notify   chan struct{}
	lastSeen time.Time
}

// frame returns the cached render of gen, if it is the latest one.
func (s *Session) frame(gen uint64) *ChallengeFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest != nil && s.latest.Generation == gen {
		return s.latest
	}
	return nil
}

// WaitRender blocks until the current challenge has been rendered, or has
// been parked by a load failure.
func (s *Session) WaitRender(ctx context.Context) (*ChallengeFrame, error) {
	for {
		st := s.Widget.State()
		if st.Parked {
			return nil, fmt.Errorf("%w: %v", ErrImageLoad, st.LoadErr)
		}
		if f := s.frame(st.Generation); f != nil {
			return f, nil
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// attach routes pushed frames into ch until detach is called with the
// same channel. It fails if another socket already holds the session.
func (s *Session) attach(ch chan []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != nil {
		return false
	}
	s.sink = ch
	return true
}

func (s *Session) detach(ch chan []byte) {
	s.mu.Lock()
	if s.sink == ch {
		s.sink = nil
	}
	s.mu.Unlock()
}

// push queues msg for the attached socket. Frames are dropped when no
// socket is attached or its buffer is full.
func (s *Session) push(msg ServerMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal frame", "session", s.ID, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		return
	}
	select {
	case s.sink <- b:
	default:
		s.log.Warn("socket buffer full, frame dropped", "session", s.ID, "type", msg.Type)
	}
}

func (s *Session) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) onRender(gen uint64, surf *Surfaces) {
	enc, err := surf.Encode()
	if err != nil {
		s.log.Error("encode surfaces", "session", s.ID, "generation", gen, "error", err)
		return
	}
	f := &ChallengeFrame{
		UUID:          s.ID,
		Generation:    gen,
		Board:         enc.Board,
		Piece:         enc.Piece,
		PieceY:        enc.PieceY,
		BoardWidth:    surf.Board.Bounds().Dx(),
		BoardHeight:   surf.Board.Bounds().Dy(),
		PieceWidth:    surf.Piece.Bounds().Dx(),
		FailTimeoutMs: s.failTimeout.Milliseconds(),
	}
	s.mu.Lock()
	if s.latest == nil || s.latest.Generation <= gen {
		s.latest = f
	}
	s.mu.Unlock()

	s.signal()
	s.push(ServerMessage{Type: MsgChallenge, Challenge: f})
}

// SessionStore holds live sessions keyed by uuid.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session

	defaults   Config
	imageHosts map[string]struct{}
	ttl        time.Duration
	newOpts  func() []Option
	ledger   *OutcomeStore
	clock    Clock
	log      *slog.Logger
}

// NewSessionStore creates a store. opts builds the widget options for each
// new session; ledger may be nil.
func NewSessionStore(defaults Config, ttl time.Duration, ledger *OutcomeStore, log *slog.Logger, opts func() []Option) *SessionStore {
	if opts == nil {
		opts = func() []Option { return nil }
	}
	return &SessionStore{
		sessions:   make(map[string]*Session),
		defaults:   defaults.withDefaults(),
		imageHosts: make(map[string]struct{}),
		ttl:        ttl,
		newOpts:    opts,
		ledger:     ledger,
		clock:      realClock{},
		log:        log,
	}
}

// AllowImageHosts lets start requests name images served from hosts.
// With none allowed, every session uses the default image.
func (st *SessionStore) AllowImageHosts(hosts ...string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			st.imageHosts[h] = struct{}{}
		}
	}
}

func (st *SessionStore) imageAllowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.imageHosts[strings.ToLower(u.Hostname())]
	return ok
}

// Create starts a widget for a new session. Zero fields of req fall back
// to the store defaults. A requested image must live on an allowed host.
func (st *SessionStore) Create(req StartRequest) (*Session, error) {
	cfg := st.defaults
	if req.Image != "" {
		if !st.imageAllowed(req.Image) {
			return nil, ErrImageNotAllowed
		}
		cfg.Image = req.Image
	}
	if req.FailTimeoutMs > 0 {
		cfg.FailTimeout = time.Duration(req.FailTimeoutMs) * time.Millisecond
	}

	s := &Session{
		ID:          uuid.New().String(),
		failTimeout: cfg.FailTimeout,
		notify:      make(chan struct{}, 1),
		lastSeen:    st.clock.Now(),
	}
	s.log = st.log.With("session", s.ID)

	hooks := Hooks{
		OnRender: s.onRender,
		OnSuccess: func(ev Success) {
			v := ev.Value
			s.push(ServerMessage{Type: MsgSuccess, Value: &v})
			st.record(Outcome{SessionID: s.ID, Generation: ev.Generation, Outcome: "success", Value: ev.Value})
		},
		OnFailed: func(ev Failure) {
			s.signal()
			s.push(ServerMessage{Type: MsgFailed, Reason: string(ev.Reason)})
			st.record(Outcome{SessionID: s.ID, Generation: ev.Generation, Outcome: "failed", Reason: string(ev.Reason)})
		},
	}
	opts := append(st.newOpts(), WithHooks(hooks), WithLogger(s.log))
	s.Widget = NewWidget(cfg, opts...)

	st.mu.Lock()
	st.sessions[s.ID] = s
	n := len(st.sessions)
	st.mu.Unlock()
	activeSessions.Set(float64(n))

	if err := s.Widget.Start(); err != nil {
		st.Remove(s.ID)
		return nil, err
	}
	s.log.Info("session created", "image", cfg.Image, "fail_timeout", cfg.FailTimeout)
	return s, nil
}

func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(st.clock.Now())
	return s, nil
}

// Remove closes the session's widget and forgets it.
func (st *SessionStore) Remove(id string) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	n := len(st.sessions)
	st.mu.Unlock()
	if !ok {
		return
	}
	activeSessions.Set(float64(n))
	s.Widget.Close()
	s.log.Info("session removed")
}

// Sweep removes sessions idle for longer than the TTL. It returns how many
// were removed.
func (st *SessionStore) Sweep(now time.Time) int {
	if st.ttl <= 0 {
		return 0
	}
	st.mu.Lock()
	var stale []string
	for id, s := range st.sessions {
		if now.Sub(s.idleSince()) > st.ttl {
			stale = append(stale, id)
		}
	}
	st.mu.Unlock()

	for _, id := range stale {
		st.Remove(id)
	}
	return len(stale)
}

// RunSweeper sweeps every interval until ctx is done.
func (st *SessionStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := st.Sweep(now); n > 0 {
				st.log.Info("idle sessions swept", "count", n)
			}
		}
	}
}

func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// CloseAll tears down every session.
func (st *SessionStore) CloseAll() {
	st.mu.Lock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	st.mu.Unlock()
	for _, id := range ids {
		st.Remove(id)
	}
}

func (st *SessionStore) record(o Outcome) {
	if st.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := st.ledger.Record(ctx, o); err != nil {
		st.log.Error("record outcome", "session", o.SessionID, "error", err)
	}
}
