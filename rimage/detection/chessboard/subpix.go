package chessboard

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcal/rimage"
)

// localStep returns the distance from corner (i, j) to its nearest grid neighbour.
func localStep(corners CornerSet, spec PatternSpec, i, j int) float64 {
	p := corners[spec.Index(i, j)]
	step := math.Inf(1)
	for _, d := range axisSteps {
		ni, nj := i+d.X, j+d.Y
		if ni < 0 || nj < 0 || ni >= spec.Columns || nj >= spec.Rows {
			continue
		}
		step = math.Min(step, corners[spec.Index(ni, nj)].Sub(p).Norm())
	}
	return step
}

// RefineCorners moves every corner to the sub-pixel location where the image gradients in its
// window are orthogonal to the direction from the corner. The window radius is limited to 40% of
// the local grid step so that neighbouring corners do not leak in.
func RefineCorners(img *mat.Dense, corners CornerSet, spec PatternSpec, cfg RefinementConfiguration) (CornerSet, error) {
	smooth := img
	if cfg.BlurSigma > 0 {
		var err error
		if smooth, err = rimage.GaussianBlurFloat64(img, cfg.BlurSigma); err != nil {
			return nil, err
		}
	}
	gX, gY, err := rimage.SobelGradients(smooth)
	if err != nil {
		return nil, err
	}
	refined := make(CornerSet, len(corners))
	for j := 0; j < spec.Rows; j++ {
		for i := 0; i < spec.Columns; i++ {
			idx := spec.Index(i, j)
			radius := math.Min(float64(cfg.WindowRadius), math.Max(2, math.Floor(0.4*localStep(corners, spec, i, j))))
			refined[idx] = refineCorner(gX, gY, corners[idx], int(radius), cfg)
		}
	}
	return refined, nil
}

// refineCorner iterates the gradient orthogonality system
//
//	sum(w g g') q = sum(w g g' p)
//
// over the integer pixels p around start. The gradients are never resampled: only the weights
// follow the current estimate q, and they fall smoothly to zero at the window radius.
func refineCorner(gX, gY *mat.Dense, start r2.Point, radius int, cfg RefinementConfiguration) r2.Point {
	rows, cols := gX.Dims()
	r := float64(radius)
	maxStep := cfg.StepFraction * r
	// q stays within radius of start on each axis, so its window stays inside this box
	reach := 3*radius + 1
	cx, cy := int(math.Round(start.X)), int(math.Round(start.Y))
	x0, x1 := max(cx-reach, 0), min(cx+reach, cols-1)
	y0, y1 := max(cy-reach, 0), min(cy+reach, rows-1)

	q := start
	for it := 0; it < cfg.MaxIterations; it++ {
		var g11, g12, g22, b1, b2 float64
		for y := y0; y <= y1; y++ {
			py := float64(y)
			for x := x0; x <= x1; x++ {
				px := float64(x)
				d2 := ((px-q.X)*(px-q.X) + (py-q.Y)*(py-q.Y)) / (r * r)
				if d2 >= 1 {
					continue
				}
				w := (1 - d2) * (1 - d2)
				gx, gy := gX.At(y, x), gY.At(y, x)
				gxx, gxy, gyy := w*gx*gx, w*gx*gy, w*gy*gy
				g11 += gxx
				g12 += gxy
				g22 += gyy
				b1 += gxx*px + gxy*py
				b2 += gxy*px + gyy*py
			}
		}
		det := g11*g22 - g12*g12
		if det <= 1e-12*(g11+g22)*(g11+g22) {
			break
		}
		next := r2.Point{
			X: (g22*b1 - g12*b2) / det,
			Y: (g11*b2 - g12*b1) / det,
		}
		step := next.Sub(q)
		if n := step.Norm(); n > maxStep {
			step = step.Mul(maxStep / n)
		}
		next = q.Add(step)
		next.X = math.Max(start.X-r, math.Min(start.X+r, next.X))
		next.Y = math.Max(start.Y-r, math.Min(start.Y+r, next.Y))

		moved := next.Sub(q).Norm()
		q = next
		if moved < cfg.Epsilon {
			break
		}
	}
	return q
}
