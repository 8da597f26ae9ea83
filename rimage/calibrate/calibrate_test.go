package calibrate

import (
	"context"
	"encoding/json"
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/camcal/rimage/transform"
	"go.viam.com/camcal/utils"
)

func TestNewCorrespondence(t *testing.T) {
	world, err := testSpec.WorldPoints()
	test.That(t, err, test.ShouldBeNil)
	corners := make([]r2.Point, len(world))
	for i, w := range world {
		corners[i] = r2.Point{X: 10 * w.X, Y: 10 * w.Y}
	}
	corr, err := NewCorrespondence(corners, world)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, corr.Len(), test.ShouldEqual, 35)
	test.That(t, corr.WorldPoints[8], test.ShouldResemble, r3.Vector{X: 1, Y: 1})
	test.That(t, corr.ImagePoints[8], test.ShouldResemble, r2.Point{X: 10, Y: 10})
	test.That(t, corr.PlanePoints()[8], test.ShouldResemble, r2.Point{X: 1, Y: 1})

	// the correspondence owns its slices
	corners[8] = r2.Point{}
	test.That(t, corr.ImagePoints[8], test.ShouldResemble, r2.Point{X: 10, Y: 10})

	_, err = NewCorrespondence(corners[:34], world)
	test.That(t, err, test.ShouldWrap, ErrLengthMismatch)
	test.That(t, ReasonFor(err), test.ShouldEqual, ReasonLengthMismatch)
}

func TestFailure(t *testing.T) {
	err := error(&Failure{
		Reason:         ReasonInsufficientValidImages,
		ProcessedCount: 2,
		TotalCount:     6,
		MinValidImages: 5,
		Err:            ErrInsufficientValidImages,
	})
	test.That(t, errors.Is(err, ErrInsufficientValidImages), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "2 of 6")
	test.That(t, ReasonFor(errors.Wrap(err, "run")), test.ShouldEqual, ReasonInsufficientValidImages)

	test.That(t, ReasonFor(errors.Wrap(ErrSolverDivergence, "x")), test.ShouldEqual, ReasonSolverDivergence)
	test.That(t, ReasonFor(ErrInvalidPatternSpec), test.ShouldEqual, ReasonInvalidPatternSpec)
	test.That(t, ReasonFor(context.Canceled), test.ShouldEqual, ReasonCanceled)
	test.That(t, ReasonFor(errors.New("other")), test.ShouldEqual, ReasonCode(""))
}

func TestCameraModelJSON(t *testing.T) {
	model := NewCameraModel(1000, 990, 320, 240, DistortionCoefficients{-0.1, 0.05, 0.001, 0.002, 0})
	test.That(t, model.Validate(), test.ShouldBeNil)

	data, err := json.Marshal(model)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual,
		`{"camera_matrix":[[1000,0,320],[0,990,240],[0,0,1]],"dist":[-0.1,0.05,0.001,0.002,0]}`)

	var back CameraModel
	test.That(t, json.Unmarshal(data, &back), test.ShouldBeNil)
	test.That(t, back, test.ShouldResemble, model)

	var nested CameraModel
	test.That(t, json.Unmarshal([]byte(`{"camera_matrix":[[1,0,2],[0,3,4],[0,0,1]],"dist":[[0.1,0.2,0.3,0.4,0.5]]}`), &nested),
		test.ShouldBeNil)
	test.That(t, nested.Distortion, test.ShouldResemble, DistortionCoefficients{0.1, 0.2, 0.3, 0.4, 0.5})
	test.That(t, json.Unmarshal([]byte(`{"dist":[1,2,3,4,5,6]}`), &nested), test.ShouldNotBeNil)
	test.That(t, json.Unmarshal([]byte(`{"dist":"nope"}`), &nested), test.ShouldNotBeNil)

	pinhole := model.PinholeModel(testSize)
	test.That(t, pinhole.Fy, test.ShouldEqual, 990.)
	test.That(t, pinhole.Width, test.ShouldEqual, 640)
	test.That(t, pinhole.Distortion.Parameters(), test.ShouldResemble, []float64{-0.1, 0.05, 0, 0.001, 0.002})

	bad := NewCameraModel(-5, 990, 320, 240, DistortionCoefficients{})
	test.That(t, bad.Validate(), test.ShouldWrap, ErrSolverDivergence)
	bad = NewCameraModel(1000, 990, math.NaN(), 240, DistortionCoefficients{})
	test.That(t, bad.Validate(), test.ShouldWrap, ErrSolverDivergence)
}

func TestSummarizeResiduals(t *testing.T) {
	s, err := SummarizeResiduals([]float64{1, 2, 3, 4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Mean, test.ShouldAlmostEqual, 2.5)
	test.That(t, s.Median, test.ShouldAlmostEqual, 2.5)
	test.That(t, s.Max, test.ShouldEqual, 4.)
	test.That(t, s.RMS, test.ShouldAlmostEqual, math.Sqrt(7.5))

	_, err = SummarizeResiduals(nil)
	test.That(t, err, test.ShouldNotBeNil)

	// a point behind the camera cannot be reported
	_, err = SummarizeResiduals([]float64{0.5, math.Inf(1)})
	test.That(t, err, test.ShouldWrap, ErrSolverDivergence)
	test.That(t, ReasonFor(err), test.ShouldEqual, ReasonSolverDivergence)
	_, err = SummarizeResiduals([]float64{math.NaN()})
	test.That(t, err, test.ShouldWrap, ErrSolverDivergence)
}

func TestReprojectionErrors(t *testing.T) {
	corrs := syntheticCorrespondences(t, testCamera(nil), 1, 0)
	pose := synthetic0Pose()
	errs := ReprojectionErrors(testCamera(nil), pose, corrs[0])
	for _, e := range errs {
		test.That(t, e, test.ShouldBeLessThan, 1e-9)
	}
	behind := &transform.CamPose{Translation: r3.Vector{Z: -100}}
	test.That(t, math.IsInf(ReprojectionErrors(testCamera(nil), behind, corrs[0])[0], 1), test.ShouldBeTrue)
}

func TestProjectViewBehindCamera(t *testing.T) {
	corrs := syntheticCorrespondences(t, testCamera(nil), 1, 0)
	intr := []float64{1000, 1000, 320, 240, 0, 0, 0, 0, 0}
	out := make([]r2.Point, corrs[0].Len())

	projectView(intr, []float64{0, 0, 0, 0, 0, 20}, corrs[0], out)
	test.That(t, utils.AllFinite(out[0].X, out[0].Y), test.ShouldBeTrue)

	// the board plane sits at z = 0 in the camera frame, then behind it
	for _, tz := range []float64{0, -20} {
		projectView(intr, []float64{0, 0, 0, 0, 0, tz}, corrs[0], out)
		for _, px := range out {
			test.That(t, math.IsNaN(px.X) && math.IsNaN(px.Y), test.ShouldBeTrue)
		}
		pr := newProblem(corrs)
		p := append(append([]float64{}, intr...), 0, 0, 0, 0, 0, tz)
		cost := 0.
		for _, r := range pr.residuals(p, nil) {
			cost += r * r
		}
		test.That(t, utils.IsFinite(cost), test.ShouldBeFalse)
	}
}

func synthetic0Pose() *transform.CamPose {
	return syntheticPoses(1)[0]
}

func TestInitialIntrinsics(t *testing.T) {
	corrs := syntheticCorrespondences(t, testCamera(nil), 10, 0)
	homographies := make([]*transform.Homography, len(corrs))
	for i, c := range corrs {
		h, err := transform.EstimateHomography(c.PlanePoints(), c.ImagePoints)
		test.That(t, err, test.ShouldBeNil)
		homographies[i] = h
	}
	init := initialIntrinsics(homographies, testSize)
	test.That(t, init.Ppx, test.ShouldEqual, 319.5)
	test.That(t, init.Ppy, test.ShouldEqual, 239.5)
	// the principal point is close to the truth, so the focal estimate is too
	test.That(t, init.Fx, test.ShouldAlmostEqual, 1000, 20)
	test.That(t, init.Fy, test.ShouldAlmostEqual, 1000, 20)

	// without usable constraints the focal length falls back to the image size
	fallback := initialIntrinsics([]*transform.Homography{{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}, image.Point{800, 600})
	test.That(t, fallback.Fx, test.ShouldEqual, 800.)
}

func TestOutcomeString(t *testing.T) {
	out := &Outcome{
		CameraModel:    NewCameraModel(1000.5, 999.25, 320, 240, DistortionCoefficients{-0.1}),
		ProcessedCount: 1,
		TotalCount:     2,
		RMSError:       0.125,
		Images: []ImageResult{
			{Index: 0, Name: "a.png", Detected: true, ReprojectionError: 0.125},
			{Index: 1, Name: "b.png", Reason: ReasonNotFound},
		},
	}
	s := out.String()
	test.That(t, s, test.ShouldContainSubstring, "fx=1000.500 fy=999.250")
	test.That(t, s, test.ShouldContainSubstring, "k1=-0.100000")
	test.That(t, s, test.ShouldContainSubstring, "images=1/2")
	test.That(t, s, test.ShouldContainSubstring, "a.png")
	test.That(t, s, test.ShouldContainSubstring, "0.1250")
	test.That(t, s, test.ShouldContainSubstring, "not_found")
}
