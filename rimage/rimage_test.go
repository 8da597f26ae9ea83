package rimage

import (
	"image"
	"image/color"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func rampImage(w, h int) *mat.Dense {
	m := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Set(y, x, 3*float64(x)+0.5*float64(y))
		}
	}
	return m
}

func TestConvertImageToLuminanceFloat(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 4, 3))
	gray.SetGray(2, 1, color.Gray{200})
	m := ConvertImageToLuminanceFloat(gray)
	r, c := m.Dims()
	test.That(t, r, test.ShouldEqual, 3)
	test.That(t, c, test.ShouldEqual, 4)
	test.That(t, m.At(1, 2), test.ShouldEqual, 200.)

	rgba := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	rgba.Set(1, 0, color.NRGBA{255, 255, 255, 255})
	rgba.Set(0, 1, color.NRGBA{255, 0, 0, 255})
	m = ConvertImageToLuminanceFloat(rgba)
	test.That(t, m.At(0, 1), test.ShouldAlmostEqual, 255., 1e-9)
	test.That(t, m.At(1, 0), test.ShouldAlmostEqual, 0.299*255, 1e-9)
}

func TestGaussianKernel(t *testing.T) {
	k, err := GetGaussian(1.0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, k.Size(), test.ShouldResemble, image.Point{7, 7})
	sum := 0.
	for _, row := range k.Content {
		for _, v := range row {
			sum += v
		}
	}
	test.That(t, sum, test.ShouldAlmostEqual, 1.0, 1e-12)
	test.That(t, k.At(3, 3), test.ShouldBeGreaterThan, k.At(0, 0))

	_, err = GetGaussian(0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConvolveAndGradients(t *testing.T) {
	m := rampImage(20, 15)

	blurred, err := GaussianBlurFloat64(m, 1.0)
	test.That(t, err, test.ShouldBeNil)
	// a linear ramp is preserved by a symmetric normalized kernel away from the border
	test.That(t, blurred.At(7, 10), test.ShouldAlmostEqual, m.At(7, 10), 1e-9)

	gX, gY, err := SobelGradients(m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gX.At(7, 10), test.ShouldAlmostEqual, 3.0, 1e-9)
	test.That(t, gY.At(7, 10), test.ShouldAlmostEqual, 0.5, 1e-9)

	even := Kernel{[][]float64{{1, 1}, {1, 1}}, 2, 2}
	_, err = ConvolveGrayFloat64(m, &even)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestHessianDeterminantSaddle(t *testing.T) {
	// f = x*y has a saddle with determinant -1 everywhere
	m := mat.NewDense(21, 21, nil)
	for y := 0; y < 21; y++ {
		for x := 0; x < 21; x++ {
			m.Set(y, x, float64(x-10)*float64(y-10))
		}
	}
	det, err := HessianDeterminant(m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, det.At(10, 10), test.ShouldAlmostEqual, -1.0, 1e-9)
}

func TestBilinearAt(t *testing.T) {
	m := rampImage(10, 10)
	v, ok := BilinearAt(m, 2.5, 4.25)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldAlmostEqual, 3*2.5+0.5*4.25, 1e-9)

	v, ok = BilinearAt(m, 9, 9)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldAlmostEqual, 31.5, 1e-9)

	_, ok = BilinearAt(m, -0.1, 3)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = BilinearAt(m, 3, 9.5)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestDecodeImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 8))
	img.Set(3, 3, color.NRGBA{255, 0, 0, 255})

	data, err := EncodePNG(img)
	test.That(t, err, test.ShouldBeNil)
	decoded, err := DecodeImage(data)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoded.Bounds(), test.ShouldResemble, img.Bounds())

	_, err = DecodeImage([]byte("definitely not an image"))
	test.That(t, err, test.ShouldWrap, ErrUndecodableImage)
	_, err = DecodeImage(nil)
	test.That(t, err, test.ShouldWrap, ErrUndecodableImage)
}

func TestReadWriteImageFile(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 5, 5))
	img.SetGray(1, 1, color.Gray{128})
	path := t.TempDir() + "/img.png"
	test.That(t, WriteImageToFile(path, img), test.ShouldBeNil)
	read, err := ReadImageFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, Luminance(read.At(1, 1)), test.ShouldAlmostEqual, 128., 1e-6)

	_, err = ReadImageFromFile(t.TempDir() + "/missing.png")
	test.That(t, err, test.ShouldNotBeNil)

	err = WriteImageToFile(t.TempDir()+"/no/such/dir/img.png", img)
	test.That(t, err, test.ShouldNotBeNil)

	// encode failures still close the file and surface the encoder error
	err = WriteImageToFile(t.TempDir()+"/empty.png", image.NewGray(image.Rectangle{}))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "png")
}

func TestDrawCorners(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 80))
	corners := []r2.Point{{10, 10}, {20, 10}, {30, 10}, {10, 20}, {20, 20}, {30, 20}}
	out := DrawCorners(img, corners, 3, true)
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())
	r, _, _, _ := out.At(10, 10+3).RGBA()
	test.That(t, r, test.ShouldBeGreaterThan, uint32(0))

	out = DrawCorners(img, corners[:2], 3, false)
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())
}
