package calibration

import (
	"bytes"
	"encoding/json"
	"math"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/camcal/rimage/calibrate"
	"go.viam.com/camcal/rimage/detection/chessboard"
	"go.viam.com/camcal/storage"
)

// Request defaults applied when the metadata omits them.
const (
	DefaultIterations          = 30
	DefaultCalibrationAccuracy = 0.001
)

// ErrInvalidRequest is returned for malformed calibration requests.
var ErrInvalidRequest = errors.New("invalid calibration request")

// Metadata describes one calibration job. Keys other than the known ones are kept in Extra and
// written back out unchanged.
type Metadata struct {
	RunID               string                 `mapstructure:"run_id"`
	Dataset             string                 `mapstructure:"dataset"`
	CheckerboardSize    []int                  `mapstructure:"checkerboard_size"`
	SquareSize          float64                `mapstructure:"square_size"`
	CalibrationAccuracy float64                `mapstructure:"calibration_accuracy"`
	Iterations          int                    `mapstructure:"iterations"`
	Extra               map[string]interface{} `mapstructure:",remain"`
}

// AsMap returns the metadata as a single flat map, extra keys included.
func (md Metadata) AsMap() map[string]interface{} {
	out := make(map[string]interface{}, len(md.Extra)+6)
	for k, v := range md.Extra {
		out[k] = v
	}
	out["run_id"] = md.RunID
	out["dataset"] = md.Dataset
	out["checkerboard_size"] = md.CheckerboardSize
	out["calibration_accuracy"] = md.CalibrationAccuracy
	out["iterations"] = md.Iterations
	if md.SquareSize != 0 {
		out["square_size"] = md.SquareSize
	}
	return out
}

// MarshalJSON writes the flat map form.
func (md Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(md.AsMap())
}

// Request is a calibration job: where the images are and how to calibrate them.
type Request struct {
	Metadata Metadata `json:"metadata"`
	Images   []string `json:"images"`
}

// PatternSpec returns the board layout requested. It is validated by the calibration run.
func (req *Request) PatternSpec() chessboard.PatternSpec {
	return chessboard.PatternSpec{
		Columns:    req.Metadata.CheckerboardSize[0],
		Rows:       req.Metadata.CheckerboardSize[1],
		SquareSize: req.Metadata.SquareSize,
	}
}

// CalibrationConfig applies the request's accuracy and iteration settings to base.
func (req *Request) CalibrationConfig(base calibrate.Config) calibrate.Config {
	base.SolverEpsilon = req.Metadata.CalibrationAccuracy
	base.SolverMaxIterations = req.Metadata.Iterations
	return base
}

// ParseRequest decodes and validates a JSON request body. Unknown top level keys are rejected.
func ParseRequest(data []byte) (*Request, error) {
	var raw struct {
		Metadata map[string]interface{} `json:"metadata"`
		Images   []string               `json:"images"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "decoding body: %v", err)
	}
	return NewRequest(raw.Metadata, raw.Images)
}

// NewRequest validates metadata and images and fills in defaults.
func NewRequest(metadata map[string]interface{}, images []string) (*Request, error) {
	if metadata == nil {
		return nil, errors.Wrap(ErrInvalidRequest, "metadata is required")
	}
	var md Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: rejectFractionalInts,
		Result:     &md,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(metadata); err != nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "decoding metadata: %v", err)
	}
	if _, ok := metadata["iterations"]; !ok {
		md.Iterations = DefaultIterations
	}
	if _, ok := metadata["calibration_accuracy"]; !ok {
		md.CalibrationAccuracy = DefaultCalibrationAccuracy
	}
	if md.RunID == "" {
		md.RunID = uuid.NewString()
	}

	req := &Request{Metadata: md, Images: images}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// rejectFractionalInts stops JSON numbers such as 7.5 from being truncated into integer fields.
func rejectFractionalInts(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() != reflect.Int || (from.Kind() != reflect.Float64 && from.Kind() != reflect.Float32) {
		return data, nil
	}
	f := reflect.ValueOf(data).Float()
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil, errors.Errorf("%v is not an integer", data)
	}
	return data, nil
}

func (req *Request) validate() error {
	md := req.Metadata
	if len(req.Images) == 0 {
		return errors.Wrap(ErrInvalidRequest, "images must not be empty")
	}
	if len(md.CheckerboardSize) != 2 {
		return errors.Wrapf(ErrInvalidRequest, "checkerboard_size must have 2 values, got %d", len(md.CheckerboardSize))
	}
	if md.Iterations <= 0 {
		return errors.Wrapf(ErrInvalidRequest, "iterations must be positive, got %d", md.Iterations)
	}
	if md.CalibrationAccuracy <= 0 {
		return errors.Wrapf(ErrInvalidRequest, "calibration_accuracy must be positive, got %v", md.CalibrationAccuracy)
	}
	if _, err := storage.CleanKey(md.RunID); err != nil {
		return errors.Wrapf(ErrInvalidRequest, "run_id: %v", err)
	}
	for _, image := range req.Images {
		if isURL(image) {
			continue
		}
		if md.Dataset == "" {
			return errors.Wrapf(ErrInvalidRequest, "dataset is required for image %q", image)
		}
		if _, err := storage.CleanKey(storage.Key(md.Dataset, image)); err != nil || strings.Contains(image, "..") {
			return errors.Wrapf(ErrInvalidRequest, "invalid image name %q", image)
		}
	}
	return nil
}

func isURL(name string) bool {
	u, err := url.Parse(name)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
