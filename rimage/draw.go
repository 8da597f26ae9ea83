package rimage

import (
	"image"
	"image/color"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/r2"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// rowColors cycles per checkerboard row so the reading order is visible in overlays.
var rowColors = []color.RGBA{
	{255, 0, 0, 255},
	{255, 128, 0, 255},
	{200, 200, 0, 255},
	{0, 200, 0, 255},
	{0, 200, 200, 255},
	{0, 0, 255, 255},
	{255, 0, 255, 255},
}

// DrawCorners draws detected checkerboard corners on top of img. Corners are connected in
// reading order and coloured per row; when found is false they are drawn in red only.
func DrawCorners(img image.Image, corners []r2.Point, columns int, found bool) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: 10}))
	radius := float64(dc.Width()) / 200
	if radius < 3 {
		radius = 3
	}
	for i, pt := range corners {
		c := rowColors[0]
		if found && columns > 0 {
			c = rowColors[(i/columns)%len(rowColors)]
		}
		dc.SetColor(c)
		if found && i > 0 {
			prev := corners[i-1]
			dc.DrawLine(prev.X, prev.Y, pt.X, pt.Y)
			dc.SetLineWidth(1)
			dc.Stroke()
		}
		dc.DrawCircle(pt.X, pt.Y, radius)
		dc.SetLineWidth(1.5)
		dc.Stroke()
		if found && (i == 0 || i == len(corners)-1) {
			dc.DrawString(strconv.Itoa(i), pt.X+radius, pt.Y-radius)
		}
	}
	return dc.Image()
}
