package rimage

import (
	"bytes"
	"image"
	"image/png"
	"os"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	// register the extra decoders accepted by DecodeImage.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUndecodableImage is returned when image bytes cannot be decoded by any registered format.
var ErrUndecodableImage = errors.New("could not decode image")

// DecodeImage decodes png, jpeg, gif, bmp, tiff or webp bytes. EXIF orientation is applied so
// pixel coordinates match what a viewer shows.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrUndecodableImage, "empty image data")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(ErrUndecodableImage, "%v", err)
	}
	return img, nil
}

// ReadImageFromFile reads and decodes the image at path.
func ReadImageFromFile(path string) (image.Image, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading image file %q", path)
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, errors.Wrapf(err, "error decoding %q", path)
	}
	return img, nil
}

// WriteImageToFile encodes img as png at path.
func WriteImageToFile(path string, img image.Image) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return png.Encode(f, img)
}

// EncodePNG encodes img as png bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
