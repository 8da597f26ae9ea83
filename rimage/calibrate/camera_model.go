package calibrate

import (
	"encoding/json"
	"image"

	"github.com/pkg/errors"

	"go.viam.com/camcal/rimage/transform"
	"go.viam.com/camcal/utils"
)

// DistortionCoefficients are Brown-Conrady coefficients in (k1, k2, p1, p2, k3) order.
type DistortionCoefficients [5]float64

// UnmarshalJSON accepts a flat list or the single row matrix [[k1, k2, p1, p2, k3]] written by
// earlier versions of the service.
func (d *DistortionCoefficients) UnmarshalJSON(data []byte) error {
	var flat []float64
	if err := json.Unmarshal(data, &flat); err == nil {
		return d.fill(flat)
	}
	var nested [][]float64
	if err := json.Unmarshal(data, &nested); err != nil {
		return errors.Wrap(err, "distortion coefficients must be a list of numbers")
	}
	if len(nested) != 1 {
		return errors.Errorf("expected a single row of distortion coefficients, got %d", len(nested))
	}
	return d.fill(nested[0])
}

func (d *DistortionCoefficients) fill(values []float64) error {
	if len(values) > len(d) {
		return errors.Errorf("expected at most %d distortion coefficients, got %d", len(d), len(values))
	}
	*d = DistortionCoefficients{}
	copy(d[:], values)
	return nil
}

// CameraModel is the calibrated pinhole camera: the intrinsic matrix and the lens distortion.
type CameraModel struct {
	CameraMatrix [3][3]float64         `json:"camera_matrix"`
	Distortion   DistortionCoefficients `json:"dist"`
}

// NewCameraModel builds a model from focal lengths, principal point and distortion.
func NewCameraModel(fx, fy, cx, cy float64, dist DistortionCoefficients) CameraModel {
	return CameraModel{
		CameraMatrix: [3][3]float64{{fx, 0, cx}, {0, fy, cy}, {0, 0, 1}},
		Distortion:   dist,
	}
}

// Validate checks that the model is finite with positive focal lengths.
func (m CameraModel) Validate() error {
	for _, row := range m.CameraMatrix {
		if !utils.AllFinite(row[:]...) {
			return errors.Wrap(ErrSolverDivergence, "camera matrix is not finite")
		}
	}
	if !utils.AllFinite(m.Distortion[:]...) {
		return errors.Wrap(ErrSolverDivergence, "distortion coefficients are not finite")
	}
	if m.CameraMatrix[0][0] <= 0 || m.CameraMatrix[1][1] <= 0 {
		return errors.Wrapf(ErrSolverDivergence, "non positive focal length (%v, %v)",
			m.CameraMatrix[0][0], m.CameraMatrix[1][1])
	}
	return nil
}

// Intrinsics returns the model's intrinsics for images of the given size.
func (m CameraModel) Intrinsics(size image.Point) *transform.PinholeCameraIntrinsics {
	return transform.NewPinholeCameraIntrinsicsFromMatrix(m.CameraMatrix, size.X, size.Y)
}

// PinholeModel returns the model as a projection model for images of the given size.
func (m CameraModel) PinholeModel(size image.Point) *transform.PinholeCameraModel {
	return &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: m.Intrinsics(size),
		Distortion:              transform.NewBrownConradyFromOpenCV(m.Distortion),
	}
}
