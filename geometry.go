// File: geometry.go
package main

import (
	"math"
	"math/rand"
	"sync"

	"github.com/fogleman/gg"
)

// Fixed layout. Styling on the client side depends on these numbers.
const (
	BoardWidth  = 280
	BoardHeight = 155
	PieceSize   = 42
	NotchRadius = 9
)

// Placement bounds for the notch. They are constants and are not derived
// from the board size.
const (
	minTargetX = 50
	maxTargetX = 200
	minTargetY = 20
	maxTargetY = 100
)

// Puzzle is the top-left corner of the notch on the board.
type Puzzle struct {
	X, Y float64
}

// Generator places a notch for a new challenge.
type Generator interface {
	Generate(boardWidth, boardHeight, pieceSize float64) Puzzle
}

// RandomGenerator samples X from [50,200) and Y from [20,100).
type RandomGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomGenerator(seed int64) *RandomGenerator {
	return &RandomGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *RandomGenerator) Generate(_, _, _ float64) Puzzle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Puzzle{
		X: randomBetween(g.rng, minTargetX, maxTargetX),
		Y: randomBetween(g.rng, minTargetY, maxTargetY),
	}
}

// randomBetween returns a float in [min, max).
func randomBetween(r *rand.Rand, min, max float64) float64 {
	return r.Float64()*(max-min) + min
}

// SegmentKind tells how a path segment is traced.
type SegmentKind int

const (
	SegMoveTo SegmentKind = iota
	SegLineTo
	SegArc
)

// Segment is one step of an outline. For arcs, X/Y is the centre and the
// sweep runs from Start to End; a reversed arc has End < Start.
type Segment struct {
	Kind       SegmentKind
	X, Y       float64
	R          float64
	Start, End float64
}

// Path is a closed jigsaw outline usable as a fill or clip boundary.
type Path []Segment

// PiecePath traces a square of side l with a bump on the top edge, a bump
// on the right edge and a notch cut into the left edge.
func PiecePath(x, y, l float64) Path {
	r := float64(NotchRadius)
	return Path{
		{Kind: SegMoveTo, X: x, Y: y},
		{Kind: SegArc, X: x + l/2, Y: y - r, R: r, Start: 0.72 * math.Pi, End: 2.26 * math.Pi},
		{Kind: SegLineTo, X: x + l, Y: y},
		{Kind: SegArc, X: x + l + r, Y: y + l/2, R: r, Start: 1.21 * math.Pi, End: 2.78 * math.Pi},
		{Kind: SegLineTo, X: x + l, Y: y + l},
		{Kind: SegLineTo, X: x, Y: y + l},
		// left notch runs backwards so it bites into the square
		{Kind: SegArc, X: x + r, Y: y + l/2, R: r, Start: 2.76 * math.Pi, End: 1.24 * math.Pi},
		{Kind: SegLineTo, X: x, Y: y},
	}
}

// Trace replays the path onto dc as the current path. gg interpolates arc
// angles linearly from Start to End, so a reversed arc is drawn by passing
// the angles in decreasing order.
func (p Path) Trace(dc *gg.Context) {
	dc.NewSubPath()
	for _, s := range p {
		switch s.Kind {
		case SegMoveTo:
			dc.MoveTo(s.X, s.Y)
		case SegLineTo:
			dc.LineTo(s.X, s.Y)
		case SegArc:
			dc.DrawArc(s.X, s.Y, s.R, s.Start, s.End)
		}
	}
	dc.ClosePath()
}
