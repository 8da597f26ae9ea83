// Package chessboard finds the inner corners of a checkerboard calibration target in an image.
package chessboard

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/camcal/rimage"
)

// Detection is the outcome of a chessboard search. Corners is only set when Found is true;
// Candidates and Validated are kept for debug overlays.
type Detection struct {
	Found      bool
	Corners    CornerSet
	Candidates []r2.Point
	Validated  []r2.Point
}

// Detect searches img for the inner corners of a board matching spec. A board that cannot be
// found is reported through Detection.Found; errors are reserved for invalid inputs.
func Detect(img image.Image, spec PatternSpec, cfg DetectionConfiguration) (*Detection, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid detection configuration")
	}
	if img == nil {
		return nil, errors.New("cannot detect a chessboard in a nil image")
	}
	det := &Detection{}
	if img.Bounds().Empty() {
		return det, nil
	}

	lum := rimage.ConvertImageToLuminanceFloat(img)
	smooth := lum
	if cfg.Saddle.BlurSigma > 0 {
		var err error
		if smooth, err = rimage.GaussianBlurFloat64(lum, cfg.Saddle.BlurSigma); err != nil {
			return nil, err
		}
	}
	saddleMap, saddlePoints, err := GetSaddleMapPoints(smooth, &cfg.Saddle)
	if err != nil {
		return nil, err
	}
	det.Candidates = make([]r2.Point, 0, len(saddlePoints))
	det.Validated = make([]r2.Point, 0, len(saddlePoints))
	for _, pt := range saddlePoints {
		candidate := refineSaddlePeak(saddleMap, pt)
		det.Candidates = append(det.Candidates, candidate)
		if IsXCorner(smooth, candidate, &cfg.Saddle) {
			det.Validated = append(det.Validated, candidate)
		}
	}

	grid, ok := GrowGrid(det.Validated, spec, cfg.Grid)
	if !ok {
		return det, nil
	}
	ordered, ok := OrderCorners(grid, spec)
	if !ok {
		return det, nil
	}
	refined, err := RefineCorners(lum, ordered, spec, cfg.Refinement)
	if err != nil {
		return nil, err
	}
	det.Found = true
	det.Corners = refined
	return det, nil
}

// FindChessboard returns the ordered inner corners of the board in img. The boolean is false
// when no complete board was found.
func FindChessboard(img image.Image, spec PatternSpec, cfg DetectionConfiguration) (CornerSet, bool, error) {
	det, err := Detect(img, spec, cfg)
	if err != nil {
		return nil, false, err
	}
	return det.Corners, det.Found, nil
}
