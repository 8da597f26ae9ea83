// Package calibrate estimates a pinhole camera model with Brown-Conrady distortion from views of
// a planar checkerboard.
package calibrate

import (
	"context"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcal/rimage/transform"
	"go.viam.com/camcal/utils"
)

// SolverConfig controls the Levenberg-Marquardt refinement.
type SolverConfig struct {
	// Epsilon stops the refinement once an accepted step lowers the cost by less than this
	// fraction.
	Epsilon float64 `json:"epsilon"`
	// MaxIterations bounds the number of accepted steps.
	MaxIterations int `json:"max_iterations"`
	// InitialLambda is the starting damping factor.
	InitialLambda float64 `json:"initial_lambda"`
}

// DefaultSolverConfig returns the solver defaults.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		Epsilon:       1e-6,
		MaxIterations: 30,
		InitialLambda: 1e-3,
	}
}

// Solution is the result of Solve. Poses are kept for diagnostics.
type Solution struct {
	Model       CameraModel
	Poses       []*transform.CamPose
	RMSError    float64
	PerImageRMS []float64
	Iterations  int
	InitialCost float64
	FinalCost   float64
}

// minPointsPerView is the number of points needed for a homography.
const minPointsPerView = 4

// Solve estimates the camera model and one board pose per correspondence.
func Solve(ctx context.Context, corrs []Correspondence, size image.Point, cfg SolverConfig) (*Solution, error) {
	if len(corrs) == 0 {
		return nil, errors.Wrap(ErrInsufficientData, "no correspondences")
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid image size %v", size)
	}
	if cfg.MaxIterations < 1 || cfg.Epsilon <= 0 {
		return nil, errors.Errorf("invalid solver configuration %+v", cfg)
	}
	if cfg.InitialLambda <= 0 {
		cfg.InitialLambda = DefaultSolverConfig().InitialLambda
	}
	total := 0
	for i, c := range corrs {
		if len(c.WorldPoints) != len(c.ImagePoints) {
			return nil, errors.Wrapf(ErrLengthMismatch, "correspondence %d", i)
		}
		if c.Len() < minPointsPerView {
			return nil, errors.Wrapf(ErrInsufficientData, "correspondence %d has %d points, need %d", i, c.Len(), minPointsPerView)
		}
		total += c.Len()
	}
	if numParams := intrinsicParams + poseParams*len(corrs); 2*total < numParams {
		return nil, errors.Wrapf(ErrInsufficientData, "%d observations for %d parameters", 2*total, numParams)
	}

	homographies := make([]*transform.Homography, len(corrs))
	for i, c := range corrs {
		h, err := transform.EstimateHomography(c.PlanePoints(), c.ImagePoints)
		if err != nil {
			return nil, errors.Wrapf(ErrInsufficientData, "view %d: %v", i, err)
		}
		homographies[i] = h
	}

	intrinsics := initialIntrinsics(homographies, size)
	poses := make([]*transform.CamPose, len(corrs))
	for i, h := range homographies {
		pose, err := transform.PoseFromHomography(intrinsics, h)
		if err != nil {
			return nil, errors.Wrapf(ErrSolverDivergence, "view %d: %v", i, err)
		}
		poses[i] = pose
	}

	problem := newProblem(corrs)
	params := problem.pack(intrinsics, poses)
	result, err := problem.levenbergMarquardt(ctx, params, cfg)
	if err != nil {
		return nil, err
	}

	p := result.params
	model := NewCameraModel(p[0], p[1], p[2], p[3], DistortionCoefficients{p[4], p[5], p[6], p[7], p[8]})
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if !utils.AllFinite(p...) || !utils.IsFinite(result.cost) {
		return nil, errors.Wrap(ErrSolverDivergence, "pose parameters are not finite")
	}

	sol := &Solution{
		Model:       model,
		Poses:       make([]*transform.CamPose, len(corrs)),
		RMSError:    math.Sqrt(result.cost / float64(total)),
		PerImageRMS: make([]float64, len(corrs)),
		Iterations:  result.iterations,
		InitialCost: result.initialCost,
		FinalCost:   result.cost,
	}
	residuals := problem.residuals(p, nil)
	offset := 0
	for i, c := range corrs {
		sol.Poses[i] = transform.NewCamPoseFromParams(problem.poseSlice(p, i))
		sum := 0.
		for _, r := range residuals[offset : offset+2*c.Len()] {
			sum += r * r
		}
		sol.PerImageRMS[i] = math.Sqrt(sum / float64(c.Len()))
		offset += 2 * c.Len()
	}
	return sol, nil
}

// initialIntrinsics estimates the focal lengths from the homographies with the principal point
// at the image centre. Each view contributes the orthogonality and equal norm constraints on the
// first two columns of K^-1 H, which are linear in 1/fx^2 and 1/fy^2.
func initialIntrinsics(homographies []*transform.Homography, size image.Point) *transform.PinholeCameraIntrinsics {
	cx, cy := float64(size.X-1)/2, float64(size.Y-1)/2
	fallback := math.Max(float64(size.X), float64(size.Y))
	out := &transform.PinholeCameraIntrinsics{Width: size.X, Height: size.Y, Fx: fallback, Fy: fallback, Ppx: cx, Ppy: cy}

	a := mat.NewDense(2*len(homographies), 2, nil)
	b := mat.NewVecDense(2*len(homographies), nil)
	for i, h := range homographies {
		var c0, c1, d1, d2 [3]float64
		for row := 0; row < 3; row++ {
			shift := [3]float64{cx, cy, 0}[row]
			c0[row] = h[row][0] - shift*h[2][0]
			c1[row] = h[row][1] - shift*h[2][1]
		}
		normalize(&c0)
		normalize(&c1)
		for row := 0; row < 3; row++ {
			d1[row] = (c0[row] + c1[row]) / 2
			d2[row] = (c0[row] - c1[row]) / 2
		}
		normalize(&d1)
		normalize(&d2)
		a.SetRow(2*i, []float64{c0[0] * c1[0], c0[1] * c1[1]})
		b.SetVec(2*i, -c0[2]*c1[2])
		a.SetRow(2*i+1, []float64{d1[0] * d2[0], d1[1] * d2[1]})
		b.SetVec(2*i+1, -d1[2]*d2[2])
	}
	var f mat.VecDense
	if err := f.SolveVec(a, b); err != nil {
		return out
	}
	fx := math.Sqrt(math.Abs(1 / f.AtVec(0)))
	fy := math.Sqrt(math.Abs(1 / f.AtVec(1)))
	if !utils.AllFinite(fx, fy) || fx <= 0 || fy <= 0 {
		return out
	}
	out.Fx, out.Fy = fx, fy
	return out
}

func normalize(v *[3]float64) {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n == 0 {
		return
	}
	for i := range v {
		v[i] /= n
	}
}

// ReprojectionErrors returns the distance between each observed point and its projection.
func ReprojectionErrors(model *transform.PinholeCameraModel, pose *transform.CamPose, c Correspondence) []float64 {
	out := make([]float64, c.Len())
	for i, w := range c.WorldPoints {
		px, ok := model.Project(pose, w)
		if !ok {
			out[i] = math.Inf(1)
			continue
		}
		out[i] = px.Sub(c.ImagePoints[i]).Norm()
	}
	return out
}

// projectView projects world points of one view. intr holds (fx, fy, cx, cy, k1, k2, p1, p2, k3)
// and pose holds (rx, ry, rz, tx, ty, tz). Points at or behind the camera project to NaN, which
// makes the cost of the parameters non finite.
func projectView(intr, pose []float64, c Correspondence, out []r2.Point) {
	rot := transform.RodriguesToMatrix(transform.NewCamPoseFromParams(pose).Rotation)
	dist := transform.NewBrownConradyFromOpenCV([5]float64{intr[4], intr[5], intr[6], intr[7], intr[8]})
	for i, w := range c.WorldPoints {
		x := rot.At(0, 0)*w.X + rot.At(0, 1)*w.Y + rot.At(0, 2)*w.Z + pose[3]
		y := rot.At(1, 0)*w.X + rot.At(1, 1)*w.Y + rot.At(1, 2)*w.Z + pose[4]
		z := rot.At(2, 0)*w.X + rot.At(2, 1)*w.Y + rot.At(2, 2)*w.Z + pose[5]
		if z <= 0 {
			out[i] = r2.Point{X: math.NaN(), Y: math.NaN()}
			continue
		}
		xd, yd := dist.Transform(x/z, y/z)
		out[i] = r2.Point{X: intr[0]*xd + intr[2], Y: intr[1]*yd + intr[3]}
	}
}
