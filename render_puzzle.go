// File: render_puzzle.go
package main

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"
)

// PuzzleRenderConfig holds the surface sizes and the outline style.
type PuzzleRenderConfig struct {
	Width, Height int // board surface
	PieceWidth    int // piece surface; its height is the board height
	LineWidth     float64
	Stroke        color.Color
	NotchFill     color.Color
}

func DefaultRenderConfig() *PuzzleRenderConfig {
	return &PuzzleRenderConfig{
		Width:      BoardWidth,
		Height:     BoardHeight,
		PieceWidth: PieceSize,
		LineWidth:  2,
		Stroke:     color.NRGBA{R: 255, G: 255, B: 255, A: 178}, // rgba(255,255,255,0.7)
		NotchFill:  color.Black,
	}
}

// Surfaces are the two rendered layers of one challenge.
type Surfaces struct {
	Board  *image.RGBA
	Piece  *image.RGBA
	PieceY float64
}

// RenderPuzzle paints src onto a fresh board with the notch outline at p,
// and cuts the matching piece onto a separate surface at (0, p.Y).
func RenderPuzzle(src image.Image, p Puzzle, cfg *PuzzleRenderConfig) *Surfaces {
	base := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	xdraw.CatmullRom.Scale(base, base.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	return &Surfaces{
		Board:  drawBoard(base, p, cfg),
		Piece:  drawPiece(base, p, cfg),
		PieceY: p.Y,
	}
}

// drawBoard strokes the outline over the bitmap, then fills it underneath
// the existing pixels (destination-over). On an opaque bitmap only the
// stroke shows; transparent regions of the source reveal the fill.
func drawBoard(base *image.RGBA, p Puzzle, cfg *PuzzleRenderConfig) *image.RGBA {
	top := image.NewRGBA(base.Bounds())
	xdraw.Draw(top, top.Bounds(), base, image.Point{}, xdraw.Src)

	path := PiecePath(p.X, p.Y, float64(cfg.PieceWidth))
	dc := gg.NewContextForRGBA(top)
	path.Trace(dc)
	dc.SetLineWidth(cfg.LineWidth)
	dc.SetColor(cfg.Stroke)
	dc.Stroke()

	board := image.NewRGBA(base.Bounds())
	under := gg.NewContextForRGBA(board)
	path.Trace(under)
	under.SetColor(cfg.NotchFill)
	under.Fill()
	xdraw.Draw(board, board.Bounds(), top, image.Point{}, xdraw.Over)
	return board
}

// drawPiece clips to the outline at (0, p.Y) and shifts the bitmap left
// by p.X so the region under the notch lands inside the clip.
func drawPiece(base *image.RGBA, p Puzzle, cfg *PuzzleRenderConfig) *image.RGBA {
	piece := image.NewRGBA(image.Rect(0, 0, cfg.PieceWidth, cfg.Height))
	path := PiecePath(0, p.Y, float64(cfg.PieceWidth))

	dc := gg.NewContextForRGBA(piece)
	path.Trace(dc)
	dc.Clip()
	dc.Push()
	dc.Translate(-p.X, 0)
	dc.DrawImage(base, 0, 0)
	dc.Pop()
	dc.ResetClip()

	path.Trace(dc)
	dc.SetLineWidth(cfg.LineWidth)
	dc.SetColor(cfg.Stroke)
	dc.Stroke()
	return piece
}

// EncodedSurfaces is the wire form of Surfaces.
type EncodedSurfaces struct {
	Board  string  `json:"board"` // data:image/png;base64,...
	Piece  string  `json:"piece"`
	PieceY float64 `json:"pieceY"`
}

func (s *Surfaces) Encode() (*EncodedSurfaces, error) {
	board, err := encodePNG(s.Board)
	if err != nil {
		return nil, fmt.Errorf("encode board: %w", err)
	}
	piece, err := encodePNG(s.Piece)
	if err != nil {
		return nil, fmt.Errorf("encode piece: %w", err)
	}
	return &EncodedSurfaces{
		Board:  pngDataURI(board),
		Piece:  pngDataURI(piece),
		PieceY: s.PieceY,
	}, nil
}
