package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcal/utils"
)

// Kernel is a convolution matrix. Content is indexed [row][column].
type Kernel struct {
	Content [][]float64
	Width   int
	Height  int
}

// At returns the kernel value at column x, row y.
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// Size returns the kernel dimensions.
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// Normalize scales the kernel so its entries sum to 1. Kernels summing to 0 are left as is.
func (k *Kernel) Normalize() *Kernel {
	sum := 0.
	for _, row := range k.Content {
		for _, v := range row {
			sum += v
		}
	}
	if sum == 0 {
		return k
	}
	for _, row := range k.Content {
		for i := range row {
			row[i] /= sum
		}
	}
	return k
}

// GetSobelX returns the Kernel corresponding to the Sobel kernel in the x direction.
func GetSobelX() Kernel {
	return Kernel{
		[][]float64{
			{-1, 0, 1},
			{-2, 0, 2},
			{-1, 0, 1},
		},
		3,
		3,
	}
}

// GetSobelY returns the Kernel corresponding to the Sobel kernel in the y direction.
func GetSobelY() Kernel {
	return Kernel{
		[][]float64{
			{-1, -2, -1},
			{0, 0, 0},
			{1, 2, 1},
		},
		3,
		3,
	}
}

// GetGaussian returns a normalized square Gaussian kernel covering +/- 3 sigma.
func GetGaussian(sigma float64) (Kernel, error) {
	if sigma <= 0 {
		return Kernel{}, errors.Errorf("gaussian sigma must be positive, got %v", sigma)
	}
	radius := int(math.Ceil(3 * sigma))
	size := 2*radius + 1
	content := make([][]float64, size)
	for y := 0; y < size; y++ {
		content[y] = make([]float64, size)
		for x := 0; x < size; x++ {
			dx, dy := float64(x-radius), float64(y-radius)
			content[y][x] = math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
		}
	}
	k := Kernel{content, size, size}
	k.Normalize()
	return k, nil
}

// ConvolveGrayFloat64 convolves a float64 gray image with the Kernel filter, anchored at the
// kernel center. Borders are replicated and there is no clamping of the result.
func ConvolveGrayFloat64(m *mat.Dense, filter *Kernel) (*mat.Dense, error) {
	if m == nil {
		return nil, errors.New("cannot convolve a nil image")
	}
	kernelSize := filter.Size()
	if kernelSize.X%2 == 0 || kernelSize.Y%2 == 0 {
		return nil, errors.Errorf("kernel dimensions must be odd, got %v", kernelSize)
	}
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	anchorX, anchorY := kernelSize.X/2, kernelSize.Y/2

	utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
		sum := 0.
		for ky := 0; ky < kernelSize.Y; ky++ {
			py := clampIndex(y+ky-anchorY, h)
			for kx := 0; kx < kernelSize.X; kx++ {
				kE := filter.At(kx, ky)
				if kE == 0 {
					continue
				}
				sum += m.At(py, clampIndex(x+kx-anchorX, w)) * kE
			}
		}
		result.Set(y, x, sum)
	})
	return result, nil
}

// GaussianBlurFloat64 smooths m with a Gaussian of the given sigma.
func GaussianBlurFloat64(m *mat.Dense, sigma float64) (*mat.Dense, error) {
	kernel, err := GetGaussian(sigma)
	if err != nil {
		return nil, err
	}
	return ConvolveGrayFloat64(m, &kernel)
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
