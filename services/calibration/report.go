package calibration

import (
	"github.com/pkg/errors"

	"go.viam.com/camcal/rimage/calibrate"
)

// FailureReport is the body returned for a calibration that produced no camera model.
type FailureReport struct {
	Status          string               `json:"status"`
	Reason          calibrate.ReasonCode `json:"reason"`
	Message         string               `json:"message"`
	ProcessedImages int                  `json:"processed_images"`
	TotalImages     int                  `json:"total_images"`
}

// NewFailureReport describes err. ok is false when err is not a calibration failure.
func NewFailureReport(err error) (report FailureReport, ok bool) {
	reason := calibrate.ReasonFor(err)
	if reason == "" {
		return FailureReport{}, false
	}
	report = FailureReport{Status: "error", Reason: reason, Message: err.Error()}
	var failure *calibrate.Failure
	if errors.As(err, &failure) {
		report.ProcessedImages = failure.ProcessedCount
		report.TotalImages = failure.TotalCount
	}
	return report, true
}
