// File: render_puzzle_test.go
package main

import (
	"image/color"
	"strings"
	"testing"
)

var red = color.RGBA{R: 255, A: 255}

func TestRenderPuzzleSizes(t *testing.T) {
	cfg := DefaultRenderConfig()
	for _, size := range [][2]int{{280, 155}, {560, 310}, {100, 50}} {
		s := RenderPuzzle(solidImage(size[0], size[1], red), Puzzle{100, 40}, cfg)
		if w, h := s.Board.Bounds().Dx(), s.Board.Bounds().Dy(); w != 280 || h != 155 {
			t.Fatalf("board from %v = %dx%d; want 280x155", size, w, h)
		}
		if w, h := s.Piece.Bounds().Dx(), s.Piece.Bounds().Dy(); w != 42 || h != 155 {
			t.Fatalf("piece from %v = %dx%d; want 42x155", size, w, h)
		}
		if s.PieceY != 40 {
			t.Fatalf("PieceY = %v; want 40", s.PieceY)
		}
	}
}

func TestRenderPuzzlePiece(t *testing.T) {
	s := RenderPuzzle(solidImage(280, 155, red), Puzzle{100, 40}, DefaultRenderConfig())

	cases := []struct {
		name       string
		x, y       int
		wantOpaque bool
	}{
		{"above the piece", 1, 1, false},
		{"below the piece", 21, 120, false},
		{"inside the left notch", 9, 61, false},
		{"piece centre", 25, 61, true},
		{"inside the top bump", 21, 33, true},
	}
	for _, tc := range cases {
		_, _, _, a := s.Piece.At(tc.x, tc.y).RGBA()
		if opaque := a == 0xffff; opaque != tc.wantOpaque {
			t.Fatalf("%s (%d,%d): alpha %#x; want opaque=%v", tc.name, tc.x, tc.y, a, tc.wantOpaque)
		}
	}

	// the crop comes from the bitmap, not from the outline colour
	if c := s.Piece.RGBAAt(25, 61); c != red {
		t.Fatalf("piece centre = %v; want %v", c, red)
	}
}

func TestRenderPuzzleBoard(t *testing.T) {
	s := RenderPuzzle(solidImage(280, 155, red), Puzzle{100, 40}, DefaultRenderConfig())

	if c := s.Board.RGBAAt(5, 5); c != red {
		t.Fatalf("board away from the notch = %v; want %v", c, red)
	}
	// an opaque bitmap hides the destination-over fill
	if c := s.Board.RGBAAt(125, 61); c != red {
		t.Fatalf("board inside the notch = %v; want %v", c, red)
	}
	// bottom edge of the outline is stroked in translucent white
	if c := s.Board.RGBAAt(121, 82); c.G < 100 || c.A != 255 {
		t.Fatalf("board on the outline = %v; want whitened", c)
	}
	if c := s.Piece.RGBAAt(21, 82); c.G < 100 {
		t.Fatalf("piece on the outline = %v; want whitened", c)
	}
}

func TestRenderPuzzleFillShowsThroughTransparency(t *testing.T) {
	blank := solidImage(280, 155, color.Transparent)
	s := RenderPuzzle(blank, Puzzle{100, 40}, DefaultRenderConfig())

	if c := s.Board.RGBAAt(125, 61); c.A != 255 || c.R != 0 || c.G != 0 || c.B != 0 {
		t.Fatalf("notch over a transparent bitmap = %v; want the black fill", c)
	}
	if c := s.Board.RGBAAt(5, 5); c.A != 0 {
		t.Fatalf("board away from the notch = %v; want transparent", c)
	}
}

func TestSurfacesEncode(t *testing.T) {
	s := RenderPuzzle(solidImage(280, 155, red), Puzzle{60, 25}, DefaultRenderConfig())
	enc, err := s.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for name, uri := range map[string]string{"board": enc.Board, "piece": enc.Piece} {
		if !strings.HasPrefix(uri, "data:image/png;base64,") {
			t.Fatalf("%s = %.40q...; want a PNG data URI", name, uri)
		}
	}
	if enc.PieceY != 25 {
		t.Fatalf("PieceY = %v; want 25", enc.PieceY)
	}
}
