package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateHomography is returned when the point configuration does not determine a homography,
// for instance when the points are collinear.
var ErrDegenerateHomography = errors.New("point configuration does not determine a homography")

// Homography is a 3x3 matrix (represented as a 2D array) mapping points of one plane onto another
// plane under perspective. Indices are [row][column].
type Homography [3][3]float64

// At returns the element at row, col.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps pt through the homography, dividing by the homogeneous coordinate.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Dense returns the homography as a gonum matrix.
func (h *Homography) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

// Inverse returns the inverse homography.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	return homographyFromDense(&inv), nil
}

func homographyFromDense(m mat.Matrix) *Homography {
	var out Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return &out
}

// normalizingTransform returns the similarity moving the centroid of pts to the origin with a
// mean distance of sqrt(2).
func normalizingTransform(pts []r2.Point) *mat.Dense {
	var centroid r2.Point
	for _, pt := range pts {
		centroid = centroid.Add(pt)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))
	meanDist := 0.
	for _, pt := range pts {
		meanDist += pt.Sub(centroid).Norm()
	}
	meanDist /= float64(len(pts))
	scale := 1.
	if meanDist > 0 {
		scale = math.Sqrt2 / meanDist
	}
	return mat.NewDense(3, 3, []float64{
		scale, 0, -scale * centroid.X,
		0, scale, -scale * centroid.Y,
		0, 0, 1,
	})
}

func applyDense(t *mat.Dense, pt r2.Point) r2.Point {
	x := t.At(0, 0)*pt.X + t.At(0, 1)*pt.Y + t.At(0, 2)
	y := t.At(1, 0)*pt.X + t.At(1, 1)*pt.Y + t.At(1, 2)
	return r2.Point{X: x, Y: y}
}

// EstimateHomography computes the homography H such that dst ~ H*src with the normalized direct
// linear transform. At least 4 correspondences are needed. H is scaled so H[2][2] = 1 when possible.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point count mismatch: %d source points, %d destination points", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("need at least 4 point pairs to estimate a homography, got %d", len(src))
	}
	tSrc := normalizingTransform(src)
	tDst := normalizingTransform(dst)

	n := len(src)
	a := mat.NewDense(2*n, 9, nil)
	for i := range src {
		s := applyDense(tSrc, src[i])
		d := applyDense(tDst, dst[i])
		a.SetRow(2*i, []float64{-s.X, -s.Y, -1, 0, 0, 0, d.X * s.X, d.X * s.Y, d.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, -s.X, -s.Y, -1, d.Y * s.X, d.Y * s.Y, d.Y})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize the homography system")
	}
	values := svd.Values(nil)
	// a well posed system has a one dimensional null space, so the 8th singular value must not vanish
	if values[0] == 0 || values[7]/values[0] < 1e-10 {
		return nil, ErrDegenerateHomography
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, nil)
	for k := 0; k < 9; k++ {
		hn.Set(k/3, k%3, v.At(k, 8))
	}

	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(err, "cannot invert normalizing transform")
	}
	var tmp, full mat.Dense
	tmp.Mul(&tDstInv, hn)
	full.Mul(&tmp, tSrc)

	h := homographyFromDense(&full)
	if s := h[2][2]; math.Abs(s) > 1e-12 {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				h[i][j] /= s
			}
		}
	}
	return h, nil
}
