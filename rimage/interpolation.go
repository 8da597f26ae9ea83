package rimage

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// BilinearAt samples m at the sub-pixel location (x, y) where x is the column. The boolean is
// false when the location is outside the image.
func BilinearAt(m *mat.Dense, x, y float64) (float64, bool) {
	h, w := m.Dims()
	if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		return 0, false
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 > w-1 {
		x1 = w - 1
	}
	if y1 > h-1 {
		y1 = h - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)
	top := m.At(y0, x0)*(1-fx) + m.At(y0, x1)*fx
	bottom := m.At(y1, x0)*(1-fx) + m.At(y1, x1)*fx
	return top*(1-fy) + bottom*fy, true
}
