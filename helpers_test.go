// File: helpers_test.go
package main

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeClock fires timers only when Advance moves time past them.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// pending counts timers that are neither stopped nor fired.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type fixedGenerator struct{ p Puzzle }

func (g fixedGenerator) Generate(_, _, _ float64) Puzzle { return g.p }

// seqGenerator hands out placements in order, repeating the last one.
type seqGenerator struct {
	mu sync.Mutex
	ps []Puzzle
	i  int
}

func (g *seqGenerator) Generate(_, _, _ float64) Puzzle {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.ps[g.i]
	if g.i < len(g.ps)-1 {
		g.i++
	}
	return p
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

type solidLoader struct{ c color.Color }

func (l solidLoader) Load(context.Context, string) (image.Image, error) {
	return solidImage(BoardWidth, BoardHeight, l.c), nil
}

var errNoImage = errors.New("no image")

// flakyLoader fails the first n loads.
type flakyLoader struct {
	mu    sync.Mutex
	fails int
}

func (l *flakyLoader) Load(context.Context, string) (image.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fails > 0 {
		l.fails--
		return nil, errNoImage
	}
	return solidImage(BoardWidth, BoardHeight, color.White), nil
}

// gatedLoader blocks every load until the test releases it. It ignores
// cancellation so late completions can be simulated.
type gatedLoader struct {
	calls chan chan image.Image
}

func newGatedLoader() *gatedLoader {
	return &gatedLoader{calls: make(chan chan image.Image, 8)}
}

func (l *gatedLoader) Load(context.Context, string) (image.Image, error) {
	gate := make(chan image.Image)
	l.calls <- gate
	return <-gate, nil
}

func (l *gatedLoader) next(t *testing.T) chan image.Image {
	t.Helper()
	select {
	case g := <-l.calls:
		return g
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for image load")
		return nil
	}
}

// recorder collects widget events.
type recorder struct {
	mu        sync.Mutex
	successes []Success
	failures  []Failure
	renders   chan uint64
	failed    chan Failure
}

func newRecorder() *recorder {
	return &recorder{renders: make(chan uint64, 16), failed: make(chan Failure, 16)}
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnSuccess: func(ev Success) {
			r.mu.Lock()
			r.successes = append(r.successes, ev)
			r.mu.Unlock()
		},
		OnFailed: func(ev Failure) {
			r.mu.Lock()
			r.failures = append(r.failures, ev)
			r.mu.Unlock()
			r.failed <- ev
		},
		OnRender: func(gen uint64, _ *Surfaces) { r.renders <- gen },
	}
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.successes), len(r.failures)
}

func (r *recorder) waitRender(t *testing.T) uint64 {
	t.Helper()
	select {
	case gen := <-r.renders:
		return gen
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for render")
		return 0
	}
}

func (r *recorder) waitFailed(t *testing.T) Failure {
	t.Helper()
	select {
	case ev := <-r.failed:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure")
		return Failure{}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
