// File: drag.go
package main

import "math"

// SuccessThreshold is the strict pixel tolerance between the released
// slider and the notch.
const SuccessThreshold = 10

// Slider is the drag controller: Idle until pressed, Dragging until
// released. Position always stays within [0, max].
type Slider struct {
	position float64
	dragging bool
	max      float64
}

func NewSlider(boardWidth, pieceSize float64) Slider {
	return Slider{max: boardWidth - pieceSize}
}

// Press opens a drag. It reports false if one was already open.
func (s *Slider) Press() bool {
	if s.dragging {
		return false
	}
	s.dragging = true
	return true
}

// Move maps a client coordinate onto the board and clamps it. Moves while
// idle are ignored.
func (s *Slider) Move(clientX, boardLeft float64) (float64, bool) {
	if !s.dragging {
		return s.position, false
	}
	s.position = clamp(clientX-boardLeft, 0, s.max)
	return s.position, true
}

// Release closes the drag and returns where the slider was left. A second
// release without a press in between reports false.
func (s *Slider) Release() (float64, bool) {
	if !s.dragging {
		return s.position, false
	}
	s.dragging = false
	return s.position, true
}

// Reset moves the slider home and drops any open drag.
func (s *Slider) Reset() {
	s.position = 0
	s.dragging = false
}

func (s *Slider) Position() float64 { return s.position }
func (s *Slider) Dragging() bool    { return s.dragging }

// Solved compares the released position with the notch. Both sides share
// the board's left offset, so it cancels out.
func Solved(position, targetX float64) bool {
	return math.Abs(position-targetX) < SuccessThreshold
}
