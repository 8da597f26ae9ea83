package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if !(params.Fx > 0) || math.IsInf(params.Fx, 0) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if !(params.Fy > 0) || math.IsInf(params.Fy, 0) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if math.IsNaN(params.Ppx) || math.IsNaN(params.Ppy) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal point (%#v, %#v)", params.Ppx, params.Ppy))
	}
	return nil
}

// NewPinholeCameraIntrinsicsFromJSONFile takes in a file path to a JSON and turns it into PinholeCameraIntrinsics.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	intrinsics := &PinholeCameraIntrinsics{}
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	return intrinsics, nil
}

// NewPinholeCameraIntrinsicsFromMatrix reads fx, fy, ppx and ppy out of a 3x3 camera matrix.
func NewPinholeCameraIntrinsicsFromMatrix(cameraMatrix [3][3]float64, width, height int) *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     cameraMatrix[0][0],
		Fy:     cameraMatrix[1][1],
		Ppx:    cameraMatrix[0][2],
		Ppy:    cameraMatrix[1][2],
	}
}

// PixelToNormalized maps a pixel to normalized image coordinates (x/z, y/z).
func (params *PinholeCameraIntrinsics) PixelToNormalized(pt r2.Point) r2.Point {
	return r2.Point{X: (pt.X - params.Ppx) / params.Fx, Y: (pt.Y - params.Ppy) / params.Fy}
}

// NormalizedToPixel maps normalized image coordinates to a pixel.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(pt r2.Point) r2.Point {
	return r2.Point{X: pt.X*params.Fx + params.Ppx, Y: pt.Y*params.Fy + params.Ppy}
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// CameraMatrixArray returns the camera matrix as a row-major array.
func (params *PinholeCameraIntrinsics) CameraMatrixArray() [3][3]float64 {
	return [3][3]float64{
		{params.Fx, 0, params.Ppx},
		{0, params.Fy, params.Ppy},
		{0, 0, 1},
	}
}

// PinholeCameraModel is the model of a pinhole camera.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"distortion"`
}

// Project maps a point given in the world frame through the pose, the lens distortion and the
// intrinsics. The boolean is false when the point lies behind the camera.
func (params *PinholeCameraModel) Project(pose *CamPose, pt r3.Vector) (r2.Point, bool) {
	cam := pose.Transform(pt)
	if cam.Z <= 0 {
		return r2.Point{}, false
	}
	x, y := cam.X/cam.Z, cam.Y/cam.Z
	if params.Distortion != nil {
		x, y = params.Distortion.Transform(x, y)
	}
	return params.NormalizedToPixel(r2.Point{X: x, Y: y}), true
}

// UndistortPixel removes the lens distortion from a pixel location. Only models exposing an
// Undistort method are inverted; others are returned unchanged.
func (params *PinholeCameraModel) UndistortPixel(pt r2.Point) r2.Point {
	inverter, ok := params.Distortion.(interface {
		Undistort(x, y float64) (float64, float64)
	})
	if !ok {
		return pt
	}
	n := params.PixelToNormalized(pt)
	x, y := inverter.Undistort(n.X, n.Y)
	return params.NormalizedToPixel(r2.Point{X: x, Y: y})
}
