package rimage

import (
	"image"
	"image/color"

	"gonum.org/v1/gonum/mat"
)

// ConvertImageToLuminanceFloat converts an image to a (rows=height, cols=width) matrix of
// luminance values in [0, 255], using the ITU-R BT.601 weights.
func ConvertImageToLuminanceFloat(img image.Image) *mat.Dense {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := mat.NewDense(h, w, nil)
	switch typed := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			row := typed.Pix[y*typed.Stride : y*typed.Stride+w]
			for x, v := range row {
				out.Set(y, x, float64(v))
			}
		}
	case *image.Gray16:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Set(y, x, float64(typed.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y)/257.)
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Set(y, x, Luminance(img.At(bounds.Min.X+x, bounds.Min.Y+y)))
			}
		}
	}
	return out
}

// Luminance returns the BT.601 luma of c in [0, 255].
func Luminance(c color.Color) float64 {
	r, g, b, _ := c.RGBA()
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.
}
