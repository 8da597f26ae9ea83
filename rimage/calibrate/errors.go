package calibrate

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"go.viam.com/camcal/rimage/detection/chessboard"
)

// ReasonCode is the machine readable cause of a failed calibration or of a skipped image.
type ReasonCode string

// Calibration failure reasons.
const (
	ReasonInvalidPatternSpec      ReasonCode = "invalid_pattern_spec"
	ReasonLengthMismatch          ReasonCode = "length_mismatch"
	ReasonInsufficientValidImages ReasonCode = "insufficient_valid_images"
	ReasonInsufficientData        ReasonCode = "insufficient_data"
	ReasonSolverDivergence        ReasonCode = "solver_divergence"
	ReasonImageSizeMismatch       ReasonCode = "image_size_mismatch"
	ReasonCanceled                ReasonCode = "canceled"
)

// Per image reasons.
const (
	ReasonNotFound    ReasonCode = "not_found"
	ReasonUndecodable ReasonCode = "undecodable"
)

var (
	// ErrInvalidPatternSpec is returned for boards with fewer than 3 inner corners along an axis.
	ErrInvalidPatternSpec = chessboard.ErrInvalidPatternSpec
	// ErrLengthMismatch is returned when detected corners and world points differ in count.
	ErrLengthMismatch = errors.New("corner and world point counts differ")
	// ErrInsufficientValidImages is returned when fewer images than required contain the board.
	ErrInsufficientValidImages = errors.New("not enough images with a detected checkerboard")
	// ErrInsufficientData is returned when the solver does not have enough correspondences.
	ErrInsufficientData = errors.New("not enough correspondences to calibrate")
	// ErrSolverDivergence is returned when the optimization ends on a non physical model.
	ErrSolverDivergence = errors.New("calibration solver diverged")
	// ErrImageSizeMismatch is returned when the images of one run differ in size.
	ErrImageSizeMismatch = errors.New("images do not share one size")
)

// Failure describes a calibration that did not produce a camera model.
type Failure struct {
	Reason         ReasonCode
	ProcessedCount int
	TotalCount     int
	MinValidImages int
	Err            error
}

func (f *Failure) Error() string {
	if f.Reason == ReasonInsufficientValidImages {
		return fmt.Sprintf("%s: %d of %d images usable, need %d", f.Err, f.ProcessedCount, f.TotalCount, f.MinValidImages)
	}
	return f.Err.Error()
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// ReasonFor returns the reason code matching err, or "" if err is not a known calibration error.
func ReasonFor(err error) ReasonCode {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Reason
	}
	switch {
	case errors.Is(err, ErrInvalidPatternSpec):
		return ReasonInvalidPatternSpec
	case errors.Is(err, ErrLengthMismatch):
		return ReasonLengthMismatch
	case errors.Is(err, ErrInsufficientValidImages):
		return ReasonInsufficientValidImages
	case errors.Is(err, ErrInsufficientData):
		return ReasonInsufficientData
	case errors.Is(err, ErrSolverDivergence):
		return ReasonSolverDivergence
	case errors.Is(err, ErrImageSizeMismatch):
		return ReasonImageSizeMismatch
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	}
	return ""
}
