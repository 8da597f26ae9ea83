package chessboard

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcal/rimage"
)

func TestPatternSpec(t *testing.T) {
	spec := PatternSpec{Columns: 4, Rows: 3, SquareSize: 0.5}
	test.That(t, spec.Validate(), test.ShouldBeNil)
	test.That(t, spec.Size(), test.ShouldEqual, 12)
	test.That(t, spec.String(), test.ShouldEqual, "4x3")

	pts, err := spec.WorldPoints()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts), test.ShouldEqual, 12)
	test.That(t, pts[0], test.ShouldResemble, r3.Vector{})
	test.That(t, pts[1], test.ShouldResemble, r3.Vector{X: 0.5})
	test.That(t, pts[spec.Index(0, 1)], test.ShouldResemble, r3.Vector{Y: 0.5})
	test.That(t, pts[11], test.ShouldResemble, r3.Vector{X: 1.5, Y: 1})

	unit := PatternSpec{Columns: 3, Rows: 3}
	test.That(t, unit.Square(), test.ShouldEqual, 1.)

	for _, bad := range []PatternSpec{{2, 5, 1}, {5, 0, 1}, {3, 3, -1}} {
		_, err := bad.WorldPoints()
		test.That(t, err, test.ShouldWrap, ErrInvalidPatternSpec)
	}

	spec, err = NewPatternSpec([]int{7, 5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spec, test.ShouldResemble, PatternSpec{Columns: 7, Rows: 5})
	_, err = NewPatternSpec([]int{7})
	test.That(t, err, test.ShouldWrap, ErrInvalidPatternSpec)
}

func TestDetectionConfigurationValidate(t *testing.T) {
	test.That(t, DefaultDetectionConfiguration().Validate(), test.ShouldBeNil)

	cfg := DefaultDetectionConfiguration()
	cfg.Grid.Tolerance = 0.9
	cfg.Refinement.Epsilon = 0
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "grid tolerance")
	test.That(t, err.Error(), test.ShouldContainSubstring, "refinement epsilon")
}

// xJunction renders a smooth X-junction centred at (cx, cy) whose edges are rotated by angle.
func xJunction(size int, cx, cy, angle float64) *mat.Dense {
	m := mat.NewDense(size, size, nil)
	c, s := math.Cos(angle), math.Sin(angle)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			u, v := c*dx+s*dy, -s*dx+c*dy
			m.Set(y, x, 125+95*math.Tanh(1.5*u)*math.Tanh(1.5*v))
		}
	}
	return m
}

func TestNonMaxSuppression(t *testing.T) {
	m := mat.NewDense(20, 20, nil)
	m.Set(5, 5, 10)
	m.Set(5, 6, 9)
	m.Set(14, 14, 4)
	m.Set(14, 15, 4)
	nms := NonMaxSuppression(m, 2)
	test.That(t, nms.At(5, 5), test.ShouldEqual, 10.)
	test.That(t, nms.At(5, 6), test.ShouldEqual, 0.)
	// plateaus keep only their first pixel
	test.That(t, nms.At(14, 14), test.ShouldEqual, 4.)
	test.That(t, nms.At(14, 15), test.ShouldEqual, 0.)
}

func TestSaddlePointsAndXCorner(t *testing.T) {
	img := xJunction(41, 20.3, 19.6, 0.3)
	smooth, err := rimage.GaussianBlurFloat64(img, 1)
	test.That(t, err, test.ShouldBeNil)

	saddleMap, pts, err := GetSaddleMapPoints(smooth, &DefaultSaddleConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts), test.ShouldBeGreaterThan, 0)
	test.That(t, math.Hypot(float64(pts[0].X)-20.3, float64(pts[0].Y)-19.6), test.ShouldBeLessThan, 1)

	peak := refineSaddlePeak(saddleMap, pts[0])
	test.That(t, peak.Sub(r2.Point{X: 20.3, Y: 19.6}).Norm(), test.ShouldBeLessThan, 0.75)
	test.That(t, IsXCorner(smooth, peak, &DefaultSaddleConf), test.ShouldBeTrue)

	// a single straight edge is not a corner
	edge := mat.NewDense(41, 41, nil)
	edge.Apply(func(r, c int, v float64) float64 {
		if c < 20 {
			return 30
		}
		return 220
	}, edge)
	test.That(t, IsXCorner(edge, r2.Point{X: 20, Y: 20}, &DefaultSaddleConf), test.ShouldBeFalse)

	// an L junction (one dark quadrant) is not a corner either
	ell := mat.NewDense(41, 41, nil)
	ell.Apply(func(r, c int, v float64) float64 {
		if c < 20 && r < 20 {
			return 30
		}
		return 220
	}, ell)
	test.That(t, IsXCorner(ell, r2.Point{X: 20, Y: 20}, &DefaultSaddleConf), test.ShouldBeFalse)

	// flat images and rings leaving the image are rejected
	flat := mat.NewDense(41, 41, nil)
	test.That(t, IsXCorner(flat, r2.Point{X: 20, Y: 20}, &DefaultSaddleConf), test.ShouldBeFalse)
	test.That(t, IsXCorner(smooth, r2.Point{X: 2, Y: 20}, &DefaultSaddleConf), test.ShouldBeFalse)
}

func smoothGradients(t *testing.T, img *mat.Dense) (*mat.Dense, *mat.Dense) {
	t.Helper()
	smooth, err := rimage.GaussianBlurFloat64(img, DefaultRefinementConf.BlurSigma)
	test.That(t, err, test.ShouldBeNil)
	gX, gY, err := rimage.SobelGradients(smooth)
	test.That(t, err, test.ShouldBeNil)
	return gX, gY
}

func TestRefineCorner(t *testing.T) {
	truth := r2.Point{X: 20.37, Y: 19.71}
	gX, gY := smoothGradients(t, xJunction(41, truth.X, truth.Y, 0.2))
	refined := refineCorner(gX, gY, r2.Point{X: 20, Y: 20}, 5, DefaultRefinementConf)
	test.That(t, refined.Sub(truth).Norm(), test.ShouldBeLessThan, 0.05)

	// the estimate never leaves the window around the start
	flat := mat.NewDense(41, 41, nil)
	fX, fY, err := rimage.SobelGradients(flat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, refineCorner(fX, fY, r2.Point{X: 10, Y: 10}, 5, DefaultRefinementConf), test.ShouldResemble, r2.Point{X: 10, Y: 10})
}

func TestRefineCornerKeepsExactCorners(t *testing.T) {
	// corners at every quarter pixel stay where they are instead of snapping to a lattice
	for _, frac := range []float64{0, 0.25, 0.5, 0.75} {
		truth := r2.Point{X: 20 + frac, Y: 20 - frac/2}
		gX, gY := smoothGradients(t, xJunction(41, truth.X, truth.Y, 0.35))
		refined := refineCorner(gX, gY, truth, 5, DefaultRefinementConf)
		test.That(t, refined.Sub(truth).Norm(), test.ShouldBeLessThan, 0.02)
	}
}

// lattice returns the corners of a cols x rows grid with the given origin and axis vectors.
func lattice(cols, rows int, origin, u, v r2.Point) []r2.Point {
	pts := make([]r2.Point, 0, cols*rows)
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			pts = append(pts, origin.Add(u.Mul(float64(i))).Add(v.Mul(float64(j))))
		}
	}
	return pts
}

func TestGrowGridAndOrder(t *testing.T) {
	spec := PatternSpec{Columns: 7, Rows: 5}
	truth := lattice(7, 5, r2.Point{X: 100, Y: 80}, r2.Point{X: 30, Y: 2}, r2.Point{X: -3, Y: 28})

	// shuffle deterministically and add clutter far from the board
	candidates := make([]r2.Point, 0, len(truth)+3)
	for k := 0; k < len(truth); k++ {
		candidates = append(candidates, truth[(k*11)%len(truth)])
	}
	candidates = append(candidates, r2.Point{X: 600, Y: 400}, r2.Point{X: 5, Y: 450}, r2.Point{X: 620, Y: 10})

	grid, ok := GrowGrid(candidates, spec, DefaultGridConf)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, grid.Width*grid.Height, test.ShouldEqual, 35)

	corners, ok := OrderCorners(grid, spec)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(corners), test.ShouldEqual, 35)
	for i := range truth {
		test.That(t, corners[i], test.ShouldResemble, truth[i])
	}
	test.That(t, handedness(corners, spec), test.ShouldBeGreaterThan, 0)

	// a missing corner leaves the grid incomplete
	_, ok = GrowGrid(append(append([]r2.Point{}, candidates[:10]...), candidates[11:]...), spec, DefaultGridConf)
	test.That(t, ok, test.ShouldBeFalse)

	// a board with the wrong dimensions is rejected
	_, ok = GrowGrid(lattice(6, 5, r2.Point{X: 100, Y: 80}, r2.Point{X: 30}, r2.Point{Y: 30}), spec, DefaultGridConf)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestOrderCornersRotatedBoard(t *testing.T) {
	spec := PatternSpec{Columns: 4, Rows: 3}
	// board rotated by 180 degrees: world column axis points left, row axis points up
	rotated := lattice(4, 3, r2.Point{X: 190, Y: 160}, r2.Point{X: -30}, r2.Point{Y: -30})
	grid, ok := GrowGrid(rotated, spec, DefaultGridConf)
	test.That(t, ok, test.ShouldBeTrue)
	corners, ok := OrderCorners(grid, spec)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, corners[0], test.ShouldResemble, r2.Point{X: 100, Y: 100})
	test.That(t, corners[1], test.ShouldResemble, r2.Point{X: 130, Y: 100})
	test.That(t, corners[4], test.ShouldResemble, r2.Point{X: 100, Y: 130})

	// the same board read with transposed dimensions
	transposed := PatternSpec{Columns: 3, Rows: 4}
	grid, ok = GrowGrid(rotated, transposed, DefaultGridConf)
	test.That(t, ok, test.ShouldBeTrue)
	corners, ok = OrderCorners(grid, transposed)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(corners), test.ShouldEqual, 12)
	test.That(t, handedness(corners, transposed), test.ShouldBeGreaterThan, 0)
}
