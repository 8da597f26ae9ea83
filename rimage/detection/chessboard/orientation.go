package chessboard

import (
	"github.com/golang/geo/r2"
)

// reading maps board coordinates (column i, row j) to a cell of a ChessGrid.
type reading struct {
	transposed, flipX, flipY bool
}

func (rd reading) cell(grid *ChessGrid, i, j int) r2.Point {
	x, y := i, j
	if rd.transposed {
		x, y = j, i
	}
	if rd.flipX {
		x = grid.Width - 1 - x
	}
	if rd.flipY {
		y = grid.Height - 1 - y
	}
	return grid.Points[y][x]
}

// readings returns every reading of grid consistent with the pattern dimensions.
func readings(grid *ChessGrid, spec PatternSpec) []reading {
	out := make([]reading, 0, 8)
	for _, transposed := range []bool{false, true} {
		w, h := spec.Columns, spec.Rows
		if transposed {
			w, h = h, w
		}
		if grid.Width != w || grid.Height != h {
			continue
		}
		for _, flipY := range []bool{false, true} {
			for _, flipX := range []bool{false, true} {
				out = append(out, reading{transposed: transposed, flipX: flipX, flipY: flipY})
			}
		}
	}
	return out
}

// handedness is the z component of (last column corner - first) x (last row corner - first) in
// image coordinates. It is positive for an unmirrored view of the board.
func handedness(corners CornerSet, spec PatternSpec) float64 {
	origin := corners[0]
	colDir := corners[spec.Index(spec.Columns-1, 0)].Sub(origin)
	rowDir := corners[spec.Index(0, spec.Rows-1)].Sub(origin)
	return colDir.Cross(rowDir)
}

// OrderCorners returns the canonical reading of grid: among the unmirrored readings matching the
// pattern dimensions, the one whose first corner is closest to the image top-left (minimal x+y).
func OrderCorners(grid *ChessGrid, spec PatternSpec) (CornerSet, bool) {
	var best CornerSet
	bestKey := 0.
	for _, rd := range readings(grid, spec) {
		corners := make(CornerSet, 0, spec.Size())
		for j := 0; j < spec.Rows; j++ {
			for i := 0; i < spec.Columns; i++ {
				corners = append(corners, rd.cell(grid, i, j))
			}
		}
		if handedness(corners, spec) <= 0 {
			continue
		}
		key := corners[0].X + corners[0].Y
		if best == nil || key < bestKey {
			best, bestKey = corners, key
		}
	}
	return best, best != nil
}
