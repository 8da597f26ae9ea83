package calibrate

import (
	"image"
	"math/rand/v2"
	"testing"

	"go.viam.com/test"

	"go.viam.com/camcal/rimage/detection/chessboard"
	"go.viam.com/camcal/rimage/synthetic"
	"go.viam.com/camcal/rimage/transform"
)

var (
	testSpec       = chessboard.PatternSpec{Columns: 7, Rows: 5}
	testSize       = image.Point{640, 480}
	testIntrinsics = &transform.PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 1000, Fy: 1000, Ppx: 320, Ppy: 240}
)

func testCamera(dist *transform.BrownConrady) *transform.PinholeCameraModel {
	model := &transform.PinholeCameraModel{PinholeCameraIntrinsics: testIntrinsics}
	if dist != nil {
		model.Distortion = dist
	}
	return model
}

// syntheticCorrespondences projects the board through model for n poses, adding gaussian
// pixel noise drawn from a fixed seed.
func syntheticCorrespondences(t *testing.T, model *transform.PinholeCameraModel, n int, noise float64) []Correspondence {
	t.Helper()
	world, err := testSpec.WorldPoints()
	test.That(t, err, test.ShouldBeNil)
	rng := rand.New(rand.NewPCG(1, 2))
	corrs := make([]Correspondence, 0, n)
	for _, pose := range syntheticPoses(n) {
		corners, err := synthetic.ProjectCorners(model, pose, testSpec)
		test.That(t, err, test.ShouldBeNil)
		for i := range corners {
			corners[i].X += noise * rng.NormFloat64()
			corners[i].Y += noise * rng.NormFloat64()
		}
		corr, err := NewCorrespondence(corners, world)
		test.That(t, err, test.ShouldBeNil)
		corrs = append(corrs, corr)
	}
	return corrs
}

// renderedSamples renders the board for n default poses.
func renderedSamples(t *testing.T, n int, opts synthetic.Options) []ImageSample {
	t.Helper()
	model := testCamera(nil)
	samples := make([]ImageSample, 0, n)
	for i, pose := range syntheticPoses(n) {
		img, err := synthetic.RenderCheckerboard(model, pose, testSpec, testSize.X, testSize.Y, opts)
		test.That(t, err, test.ShouldBeNil)
		samples = append(samples, ImageSample{Name: string(rune('a'+i)) + ".png", Image: img})
	}
	return samples
}

func syntheticPoses(n int) []*transform.CamPose {
	return synthetic.DefaultPoses(n, testSpec, testIntrinsics)
}
