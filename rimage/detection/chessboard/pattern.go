package chessboard

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrInvalidPatternSpec is returned for boards with fewer than 3 inner corners along an axis.
var ErrInvalidPatternSpec = errors.New("invalid pattern spec")

// minPatternDim is the smallest number of inner corners along either axis.
const minPatternDim = 3

// PatternSpec describes a checkerboard by its inner corner counts. SquareSize is the world
// distance between adjacent corners; zero means 1.
type PatternSpec struct {
	Columns    int     `json:"columns"`
	Rows       int     `json:"rows"`
	SquareSize float64 `json:"square_size,omitempty"`
}

// NewPatternSpec builds a unit-square PatternSpec from a [columns, rows] pair.
func NewPatternSpec(size []int) (PatternSpec, error) {
	if len(size) != 2 {
		return PatternSpec{}, errors.Wrapf(ErrInvalidPatternSpec, "checkerboard size must have 2 values, got %d", len(size))
	}
	spec := PatternSpec{Columns: size[0], Rows: size[1]}
	return spec, spec.Validate()
}

// Validate checks the corner counts and square size.
func (ps PatternSpec) Validate() error {
	if ps.Columns < minPatternDim || ps.Rows < minPatternDim {
		return errors.Wrapf(ErrInvalidPatternSpec, "need at least %dx%d inner corners, got %dx%d",
			minPatternDim, minPatternDim, ps.Columns, ps.Rows)
	}
	if ps.SquareSize < 0 {
		return errors.Wrapf(ErrInvalidPatternSpec, "square size must not be negative, got %v", ps.SquareSize)
	}
	return nil
}

// Size returns the number of inner corners.
func (ps PatternSpec) Size() int {
	return ps.Columns * ps.Rows
}

// Square returns the effective square size.
func (ps PatternSpec) Square() float64 {
	if ps.SquareSize == 0 {
		return 1
	}
	return ps.SquareSize
}

// Index returns the position of the corner at column i, row j in a CornerSet.
func (ps PatternSpec) Index(i, j int) int {
	return j*ps.Columns + i
}

func (ps PatternSpec) String() string {
	return fmt.Sprintf("%dx%d", ps.Columns, ps.Rows)
}

// WorldPoints returns the board corners on the Z=0 plane, row-major, with x varying fastest.
func (ps PatternSpec) WorldPoints() ([]r3.Vector, error) {
	if err := ps.Validate(); err != nil {
		return nil, err
	}
	square := ps.Square()
	points := make([]r3.Vector, 0, ps.Size())
	for j := 0; j < ps.Rows; j++ {
		for i := 0; i < ps.Columns; i++ {
			points = append(points, r3.Vector{X: float64(i) * square, Y: float64(j) * square})
		}
	}
	return points, nil
}

// CornerSet holds detected corners in the same order as PatternSpec.WorldPoints.
type CornerSet []r2.Point
