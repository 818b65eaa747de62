// File: captcha.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by operations on a closed widget.
var ErrClosed = errors.New("captcha: widget closed")

// Config is the per-instance input owned by the embedding caller.
type Config struct {
	Image       string
	FailTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailTimeout <= 0 {
		c.FailTimeout = DefaultFailTimeout
	}
	return c
}

// Success is emitted once per solved challenge.
type Success struct {
	Generation uint64
	Value      float64
}

type FailureReason string

const (
	FailureTimeout   FailureReason = "timeout"
	FailureImageLoad FailureReason = "image_load"
)

// Failure is emitted once per elapsed timeout, or once when the bitmap of
// a challenge cannot be loaded.
type Failure struct {
	Generation uint64
	Reason     FailureReason
	Err        error
}

// Hooks receive widget events. They run after the widget lock is released,
// so a hook may call back into the widget.
type Hooks struct {
	OnSuccess func(Success)
	OnFailed  func(Failure)
	OnRender  func(gen uint64, s *Surfaces)
}

// ChallengeState is a snapshot of the current challenge.
type ChallengeState struct {
	Generation     uint64
	TargetX        float64
	TargetY        float64
	SliderPosition float64
	Dragging       bool
	BoardWidth     float64
	BoardHeight    float64
	PieceSize      float64
	Loaded         bool
	Parked         bool // resolved by a load failure, waiting for Reset
	LoadErr        error
	StartedAt      time.Time
}

// Widget is one slider-puzzle CAPTCHA instance. Pointer events, image load
// completions and timeouts are serialised by mu.
type Widget struct {
	cfg    Config
	render *PuzzleRenderConfig
	place  Generator
	loader ImageLoader
	clock  Clock
	hooks  Hooks
	log    *slog.Logger

	mu         sync.Mutex
	state      ChallengeState
	slider     Slider
	guard      timeoutGuard
	cancelLoad context.CancelFunc
	surfaces   *Surfaces
	closed     bool
}

type Option func(*Widget)

func WithGenerator(g Generator) Option { return func(w *Widget) { w.place = g } }
func WithLoader(l ImageLoader) Option { return func(w *Widget) { w.loader = l } }
func WithClock(c Clock) Option { return func(w *Widget) { w.clock = c } }
func WithHooks(h Hooks) Option { return func(w *Widget) { w.hooks = h } }
func WithLogger(l *slog.Logger) Option { return func(w *Widget) { w.log = l } }

func NewWidget(cfg Config, opts ...Option) *Widget {
	w := &Widget{
		cfg:    cfg.withDefaults(),
		render: DefaultRenderConfig(),
		clock:  realClock{},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.place == nil {
		w.place = NewRandomGenerator(w.clock.Now().UnixNano())
	}
	if w.loader == nil {
		w.loader = NewHTTPLoader(10 * time.Second)
	}
	w.guard.clock = w.clock
	w.slider = NewSlider(float64(w.render.Width), float64(w.render.PieceWidth))
	return w
}

// Start begins the first challenge. Later calls are no-ops; use Reset to
// restart.
func (w *Widget) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.state.Generation == 0 {
		w.beginLocked()()
	}
	return nil
}

// Reset abandons the current challenge and starts a fresh one.
func (w *Widget) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.log.Debug("captcha reset", "generation", w.state.Generation)
	w.beginLocked()()
	return nil
}

// beginLocked supersedes whatever is current: new generation, new
// geometry, slider home and a fresh timer. It returns the launcher of the
// new image load. Callers that end a challenge run it only after emitting
// the outcome, so the next render never overtakes it.
func (w *Widget) beginLocked() (launch func()) {
	gen := w.state.Generation + 1
	bw, bh, ps := float64(w.render.Width), float64(w.render.Height), float64(w.render.PieceWidth)
	p := w.place.Generate(bw, bh, ps)

	w.state = ChallengeState{
		Generation:  gen,
		TargetX:     p.X,
		TargetY:     p.Y,
		BoardWidth:  bw,
		BoardHeight: bh,
		PieceSize:   ps,
		StartedAt:   w.clock.Now(),
	}
	w.slider.Reset()
	w.surfaces = nil
	w.guard.arm(gen, w.cfg.FailTimeout, w.onTimeout)

	if w.cancelLoad != nil {
		w.cancelLoad()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancelLoad = cancel
	url := ResolveImageURL(w.cfg.Image, w.clock.Now())

	challengesStarted.Inc()
	return func() { go w.load(ctx, gen, url, p) }
}

func (w *Widget) load(ctx context.Context, gen uint64, url string, p Puzzle) {
	img, err := w.loader.Load(ctx, url)
	var s *Surfaces
	if err == nil {
		s = RenderPuzzle(img, p, w.render)
	}
	w.onLoaded(gen, url, s, err)
}

func (w *Widget) onLoaded(gen uint64, url string, s *Surfaces, err error) {
	w.mu.Lock()
	if w.closed || gen != w.state.Generation {
		w.mu.Unlock()
		w.log.Debug("captcha stale image load dropped", "generation", gen)
		return
	}
	if err != nil {
		w.guard.cancel()
		w.slider.Reset()
		w.state.Parked = true
		w.state.LoadErr = err
		w.mu.Unlock()

		imageLoadErrors.Inc()
		outcomes.WithLabelValues(string(FailureImageLoad)).Inc()
		w.log.Warn("captcha image load failed", "generation", gen, "url", url, "error", err)
		w.emitFailed(Failure{Generation: gen, Reason: FailureImageLoad, Err: err})
		return
	}
	w.state.Loaded = true
	w.surfaces = s
	w.mu.Unlock()

	w.emitRender(gen, s)
}

func (w *Widget) onTimeout(gen uint64) {
	w.mu.Lock()
	if w.closed || gen != w.state.Generation || w.state.Parked {
		w.mu.Unlock()
		return
	}
	w.guard.expired(gen)
	launch := w.beginLocked()
	w.mu.Unlock()

	outcomes.WithLabelValues(string(FailureTimeout)).Inc()
	w.log.Info("captcha timed out", "generation", gen)
	w.emitFailed(Failure{Generation: gen, Reason: FailureTimeout})
	launch()
}

// Press opens a drag on the slider handle.
func (w *Widget) Press() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.activeLocked() {
		return false
	}
	return w.slider.Press()
}

// Move feeds a horizontal client coordinate and the board's left edge.
// It returns the clamped slider position and whether a drag was open.
func (w *Widget) Move(clientX, boardLeft float64) (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.activeLocked() {
		return w.slider.Position(), false
	}
	return w.slider.Move(clientX, boardLeft)
}

// Release closes the drag. If the slider is within the threshold of the
// notch it emits Success and restarts; otherwise the challenge stays open
// with the slider where it was left.
func (w *Widget) Release() (Success, bool) {
	w.mu.Lock()
	if !w.activeLocked() {
		w.mu.Unlock()
		return Success{}, false
	}
	pos, ok := w.slider.Release()
	if !ok || !Solved(pos, w.state.TargetX) {
		w.mu.Unlock()
		return Success{}, false
	}
	gen, started := w.state.Generation, w.state.StartedAt
	launch := w.beginLocked()
	w.mu.Unlock()

	outcomes.WithLabelValues("success").Inc()
	solveSeconds.Observe(w.clock.Now().Sub(started).Seconds())
	w.log.Info("captcha solved", "generation", gen, "value", pos)

	ev := Success{Generation: gen, Value: pos}
	w.emitSuccess(ev)
	launch()
	return ev, true
}

func (w *Widget) activeLocked() bool {
	return !w.closed && w.state.Generation != 0 && !w.state.Parked
}

// State returns a snapshot of the current challenge.
func (w *Widget) State() ChallengeState {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.state
	st.SliderPosition = w.slider.Position()
	st.Dragging = w.slider.Dragging()
	return st
}

// Surfaces returns the rendered layers of the current challenge, or nil if
// its bitmap has not arrived yet.
func (w *Widget) Surfaces() (uint64, *Surfaces) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Generation, w.surfaces
}

// Close stops the timer, abandons the in-flight load and makes every later
// event a no-op.
func (w *Widget) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.guard.cancel()
	if w.cancelLoad != nil {
		w.cancelLoad()
		w.cancelLoad = nil
	}
	w.slider.Reset()
}

func (w *Widget) emitSuccess(ev Success) {
	if w.hooks.OnSuccess != nil {
		w.hooks.OnSuccess(ev)
	}
}

func (w *Widget) emitFailed(ev Failure) {
	if w.hooks.OnFailed != nil {
		w.hooks.OnFailed(ev)
	}
}

func (w *Widget) emitRender(gen uint64, s *Surfaces) {
	if w.hooks.OnRender != nil {
		w.hooks.OnRender(gen, s)
	}
}
