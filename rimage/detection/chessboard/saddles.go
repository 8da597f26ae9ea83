package chessboard

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcal/rimage"
)

// SaddleConfiguration stores the parameters to process the Hessian determinant image into a relevant saddle points map.
type SaddleConfiguration struct {
	BlurSigma     float64 `json:"blur-sigma"`     // gaussian smoothing applied before differentiation, 0 disables it
	ScoreRatio    float64 `json:"score-ratio"`    // saddle scores below this fraction of the image maximum are pruned
	NMSWindowSize int     `json:"win-size"`       // half size of the non-maximum suppression window
	MaxCandidates int     `json:"max-candidates"` // strongest saddle points kept after suppression
	RingRadius    float64 `json:"ring-radius"`    // radius of the circle sampled around a candidate
	RingSamples   int     `json:"ring-samples"`   // number of samples on that circle
	MinContrast   float64 `json:"min-contrast"`   // minimal gray level spread on the circle
}

// DefaultSaddleConf stores the default parameters for saddle detection.
var DefaultSaddleConf = SaddleConfiguration{
	BlurSigma:     1.0,
	ScoreRatio:    0.08,
	NMSWindowSize: 4,
	MaxCandidates: 2000,
	RingRadius:    5,
	RingSamples:   48,
	MinContrast:   20,
}

// SaddleMap returns the negative determinant of the Hessian clamped at 0. Saddle points such as
// the X-junctions of a checkerboard are its strong local maxima.
func SaddleMap(img *mat.Dense) (*mat.Dense, error) {
	hessian, err := rimage.HessianDeterminant(img)
	if err != nil {
		return nil, err
	}
	hessian.Apply(func(r, c int, v float64) float64 {
		if v > 0 {
			return 0
		}
		return -v
	}, hessian)
	return hessian, nil
}

// PruneSaddle zeroes every score under ratio times the maximal score.
func PruneSaddle(s *mat.Dense, ratio float64) *mat.Dense {
	thresh := mat.Max(s) * ratio
	pruned := mat.DenseCopyOf(s)
	pruned.Apply(func(r, c int, v float64) float64 {
		if v < thresh {
			return 0
		}
		return v
	}, pruned)
	return pruned
}

// NonMaxSuppression keeps the non zero values of img that are the maximum of their
// (2*winSize+1) square neighborhood. Ties go to the first pixel in raster order.
func NonMaxSuppression(img *mat.Dense, winSize int) *mat.Dense {
	h, w := img.Dims()
	imgSup := mat.NewDense(h, w, nil)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			v := img.At(i, j)
			if v == 0 || !isWindowMax(img, i, j, winSize) {
				continue
			}
			imgSup.Set(i, j, v)
		}
	}
	return imgSup
}

func isWindowMax(img *mat.Dense, i, j, winSize int) bool {
	h, w := img.Dims()
	v := img.At(i, j)
	for y := max(0, i-winSize); y < min(h, i+winSize+1); y++ {
		for x := max(0, j-winSize); x < min(w, j+winSize+1); x++ {
			other := img.At(y, x)
			if other > v {
				return false
			}
			// equal values: the earliest pixel in raster order wins
			if other == v && (y < i || (y == i && x < j)) {
				return false
			}
		}
	}
	return true
}

type scoredPoint struct {
	pt    image.Point
	score float64
}

// GetSaddleMapPoints returns the saddle map of img and its strongest local maxima, ordered by
// decreasing score.
func GetSaddleMapPoints(img *mat.Dense, conf *SaddleConfiguration) (*mat.Dense, []image.Point, error) {
	saddleMap, err := SaddleMap(img)
	if err != nil {
		return nil, nil, err
	}
	if mat.Max(saddleMap) == 0 {
		return saddleMap, nil, nil
	}
	pruned := PruneSaddle(saddleMap, conf.ScoreRatio)
	nms := NonMaxSuppression(pruned, conf.NMSWindowSize)

	h, w := nms.Dims()
	scored := make([]scoredPoint, 0)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if v := nms.At(y, x); v > 0 {
				scored = append(scored, scoredPoint{image.Point{x, y}, v})
			}
		}
	}
	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].score > scored[b].score
	})
	if len(scored) > conf.MaxCandidates {
		scored = scored[:conf.MaxCandidates]
	}
	saddlePoints := make([]image.Point, len(scored))
	for i, sp := range scored {
		saddlePoints[i] = sp.pt
	}
	return saddleMap, saddlePoints, nil
}

// refineSaddlePeak fits a parabola through the 3x3 neighborhood of pt in the saddle map to get
// a sub-pixel starting position.
func refineSaddlePeak(saddleMap *mat.Dense, pt image.Point) r2.Point {
	h, w := saddleMap.Dims()
	out := r2.Point{X: float64(pt.X), Y: float64(pt.Y)}
	if pt.X < 1 || pt.Y < 1 || pt.X > w-2 || pt.Y > h-2 {
		return out
	}
	c := saddleMap.At(pt.Y, pt.X)
	if dx := saddleMap.At(pt.Y, pt.X-1) - 2*c + saddleMap.At(pt.Y, pt.X+1); dx < 0 {
		off := 0.5 * (saddleMap.At(pt.Y, pt.X-1) - saddleMap.At(pt.Y, pt.X+1)) / dx
		out.X += math.Max(-0.5, math.Min(0.5, off))
	}
	if dy := saddleMap.At(pt.Y-1, pt.X) - 2*c + saddleMap.At(pt.Y+1, pt.X); dy < 0 {
		off := 0.5 * (saddleMap.At(pt.Y-1, pt.X) - saddleMap.At(pt.Y+1, pt.X)) / dy
		out.Y += math.Max(-0.5, math.Min(0.5, off))
	}
	return out
}

// IsXCorner samples a circle around pt and reports whether it crosses exactly four alternating
// dark and light sectors.
func IsXCorner(img *mat.Dense, pt r2.Point, conf *SaddleConfiguration) bool {
	samples := make([]float64, conf.RingSamples)
	lo, hi := math.Inf(1), math.Inf(-1)
	for k := range samples {
		angle := 2 * math.Pi * float64(k) / float64(conf.RingSamples)
		v, ok := rimage.BilinearAt(img, pt.X+conf.RingRadius*math.Cos(angle), pt.Y+conf.RingRadius*math.Sin(angle))
		if !ok {
			return false
		}
		samples[k] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < conf.MinContrast {
		return false
	}
	mid := (hi + lo) / 2
	hysteresis := 0.1 * (hi - lo)

	// start from the sample furthest from mid so the initial class is unambiguous
	start := 0
	for k, v := range samples {
		if math.Abs(v-mid) > math.Abs(samples[start]-mid) {
			start = k
		}
	}
	light := samples[start] > mid
	transitions := 0
	for n := 1; n <= len(samples); n++ {
		v := samples[(start+n)%len(samples)]
		switch {
		case light && v < mid-hysteresis:
			light = false
			transitions++
		case !light && v > mid+hysteresis:
			light = true
			transitions++
		}
	}
	return transitions == 4
}

// PlotSaddlePoints draws candidate saddle points in red and validated corners in green on top of img.
func PlotSaddlePoints(img image.Image, candidates, validated []r2.Point) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetColor(color.RGBA{R: 255, G: 0, B: 0, A: 255})
	for _, pt := range candidates {
		dc.DrawPoint(pt.X, pt.Y, 1.5)
		dc.Fill()
	}
	dc.SetColor(color.RGBA{R: 0, G: 220, B: 0, A: 255})
	for _, pt := range validated {
		dc.DrawCircle(pt.X, pt.Y, 4)
		dc.SetLineWidth(1.5)
		dc.Stroke()
	}
	return dc.Image()
}
