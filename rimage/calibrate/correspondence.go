package calibrate

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/camcal/rimage/detection/chessboard"
)

// Correspondence pairs the world points of one board view with their detected image positions.
type Correspondence struct {
	WorldPoints []r3.Vector
	ImagePoints []r2.Point
}

// NewCorrespondence pairs corners with world points by index.
func NewCorrespondence(corners chessboard.CornerSet, world []r3.Vector) (Correspondence, error) {
	if len(corners) != len(world) {
		return Correspondence{}, errors.Wrapf(ErrLengthMismatch, "%d corners for %d world points", len(corners), len(world))
	}
	c := Correspondence{
		WorldPoints: make([]r3.Vector, len(world)),
		ImagePoints: make([]r2.Point, len(corners)),
	}
	copy(c.WorldPoints, world)
	copy(c.ImagePoints, corners)
	return c, nil
}

// Len returns the number of point pairs.
func (c Correspondence) Len() int {
	return len(c.ImagePoints)
}

// PlanePoints returns the X, Y coordinates of the world points.
func (c Correspondence) PlanePoints() []r2.Point {
	out := make([]r2.Point, len(c.WorldPoints))
	for i, w := range c.WorldPoints {
		out[i] = r2.Point{X: w.X, Y: w.Y}
	}
	return out
}
