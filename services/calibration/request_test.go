package calibration

import (
	"encoding/json"
	"testing"

	"go.viam.com/test"

	"go.viam.com/camcal/rimage/calibrate"
)

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(`{
		"metadata": {
			"run_id": "runs/2024-04-21T10-15-00Z",
			"dataset": "datasets/board-shots",
			"checkerboard_size": [9, 6],
			"camera": "front-left"
		},
		"images": ["img_0001.jpg", "img_0002.jpg"]
	}`))
	test.That(t, err, test.ShouldBeNil)
	md := req.Metadata
	test.That(t, md.RunID, test.ShouldEqual, "runs/2024-04-21T10-15-00Z")
	test.That(t, md.CheckerboardSize, test.ShouldResemble, []int{9, 6})
	test.That(t, md.Iterations, test.ShouldEqual, DefaultIterations)
	test.That(t, md.CalibrationAccuracy, test.ShouldEqual, DefaultCalibrationAccuracy)
	test.That(t, md.Extra, test.ShouldResemble, map[string]interface{}{"camera": "front-left"})
	test.That(t, req.PatternSpec().Columns, test.ShouldEqual, 9)
	test.That(t, req.PatternSpec().Rows, test.ShouldEqual, 6)

	cfg := req.CalibrationConfig(calibrate.DefaultConfig())
	test.That(t, cfg.SolverEpsilon, test.ShouldEqual, 0.001)
	test.That(t, cfg.SolverMaxIterations, test.ShouldEqual, 30)

	data, err := json.Marshal(md)
	test.That(t, err, test.ShouldBeNil)
	var written map[string]interface{}
	test.That(t, json.Unmarshal(data, &written), test.ShouldBeNil)
	test.That(t, written["camera"], test.ShouldEqual, "front-left")
	test.That(t, written["iterations"], test.ShouldEqual, 30.)
	test.That(t, written["run_id"], test.ShouldEqual, "runs/2024-04-21T10-15-00Z")
}

func TestParseRequestOverrides(t *testing.T) {
	req, err := ParseRequest([]byte(`{"metadata": {"dataset": "d", "checkerboard_size": [7.0, 5],
		"iterations": 50.0, "calibration_accuracy": 1e-8}, "images": ["a.png"]}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, req.Metadata.CheckerboardSize, test.ShouldResemble, []int{7, 5})
	test.That(t, req.Metadata.Iterations, test.ShouldEqual, 50)
	test.That(t, req.Metadata.CalibrationAccuracy, test.ShouldEqual, 1e-8)
	// a run id is generated when missing
	test.That(t, len(req.Metadata.RunID), test.ShouldEqual, 36)

	// images given as URLs need no dataset
	_, err = ParseRequest([]byte(`{"metadata": {"checkerboard_size": [7, 5]}, "images": ["https://example.com/a.png"]}`))
	test.That(t, err, test.ShouldBeNil)
}

func TestParseRequestErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"unknown key", `{"metadata": {"dataset": "d", "checkerboard_size": [7, 5]}, "images": ["a.png"], "extra": 1}`},
		{"no metadata", `{"images": ["a.png"]}`},
		{"no images", `{"metadata": {"dataset": "d", "checkerboard_size": [7, 5]}, "images": []}`},
		{"bad size", `{"metadata": {"dataset": "d", "checkerboard_size": [7]}, "images": ["a.png"]}`},
		{"bad size type", `{"metadata": {"dataset": "d", "checkerboard_size": "7x5"}, "images": ["a.png"]}`},
		{"fractional size", `{"metadata": {"dataset": "d", "checkerboard_size": [7.5, 5]}, "images": ["a.png"]}`},
		{"fractional iterations", `{"metadata": {"dataset": "d", "checkerboard_size": [7, 5], "iterations": 30.5}, "images": ["a.png"]}`},
		{"zero iterations", `{"metadata": {"dataset": "d", "checkerboard_size": [7, 5], "iterations": 0}, "images": ["a.png"]}`},
		{"negative accuracy", `{"metadata": {"dataset": "d", "checkerboard_size": [7, 5], "calibration_accuracy": -1}, "images": ["a.png"]}`},
		{"no dataset", `{"metadata": {"checkerboard_size": [7, 5]}, "images": ["a.png"]}`},
		{"escaping image", `{"metadata": {"dataset": "d", "checkerboard_size": [7, 5]}, "images": ["../../a.png"]}`},
		{"escaping run", `{"metadata": {"run_id": "../x", "dataset": "d", "checkerboard_size": [7, 5]}, "images": ["a.png"]}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tc.body))
			test.That(t, err, test.ShouldWrap, ErrInvalidRequest)
		})
	}

	_, err := NewRequest(map[string]interface{}{"dataset": "d", "checkerboard_size": []interface{}{7.5, 5.}}, []string{"a.png"})
	test.That(t, err, test.ShouldWrap, ErrInvalidRequest)
	test.That(t, err.Error(), test.ShouldContainSubstring, "7.5 is not an integer")
}
