package calibrate

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcal/rimage/transform"
	"go.viam.com/camcal/utils"
)

const (
	intrinsicParams = 9
	poseParams      = 6

	maxLambda      = 1e16
	minLambda      = 1e-15
	maxStepRetries = 10
)

// problem is the reprojection least squares problem over the intrinsics and every view pose.
type problem struct {
	views   []Correspondence
	offsets []int
	nResid  int
	scratch [][]r2.Point
}

func newProblem(views []Correspondence) *problem {
	pr := &problem{views: views, offsets: make([]int, len(views)), scratch: make([][]r2.Point, len(views))}
	for i, v := range views {
		pr.offsets[i] = pr.nResid
		pr.nResid += 2 * v.Len()
		pr.scratch[i] = make([]r2.Point, v.Len())
	}
	return pr
}

func (pr *problem) numParams() int {
	return intrinsicParams + poseParams*len(pr.views)
}

func (pr *problem) pack(intrinsics *transform.PinholeCameraIntrinsics, poses []*transform.CamPose) []float64 {
	p := make([]float64, pr.numParams())
	copy(p, []float64{intrinsics.Fx, intrinsics.Fy, intrinsics.Ppx, intrinsics.Ppy})
	for i, pose := range poses {
		params := pose.Params()
		copy(pr.poseSlice(p, i), params[:])
	}
	return p
}

func (pr *problem) poseSlice(p []float64, view int) []float64 {
	start := intrinsicParams + poseParams*view
	return p[start : start+poseParams]
}

// residualsOfView writes the 2*n residuals of one view into dst.
func (pr *problem) residualsOfView(p []float64, view int, dst []float64) {
	proj := pr.scratch[view]
	projectView(p[:intrinsicParams], pr.poseSlice(p, view), pr.views[view], proj)
	for i, obs := range pr.views[view].ImagePoints {
		dst[2*i] = proj[i].X - obs.X
		dst[2*i+1] = proj[i].Y - obs.Y
	}
}

// residuals returns projected minus observed coordinates for every point of every view.
func (pr *problem) residuals(p, dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, pr.nResid)
	}
	for v := range pr.views {
		pr.residualsOfView(p, v, dst[pr.offsets[v]:pr.offsets[v]+2*pr.views[v].Len()])
	}
	return dst
}

func sumSquares(values []float64) float64 {
	s := 0.
	for _, v := range values {
		s += v * v
	}
	return s
}

func diffStep(v float64) float64 {
	return 1e-6 * math.Max(1, math.Abs(v))
}

// jacobian fills the central difference Jacobian of the residuals. Pose parameters only touch
// the residuals of their own view.
func (pr *problem) jacobian(p []float64, jac *mat.Dense) {
	jac.Zero()
	work := make([]float64, len(p))
	copy(work, p)
	plus := make([]float64, pr.nResid)
	minus := make([]float64, pr.nResid)

	for k := 0; k < intrinsicParams; k++ {
		h := diffStep(p[k])
		work[k] = p[k] + h
		pr.residuals(work, plus)
		work[k] = p[k] - h
		pr.residuals(work, minus)
		work[k] = p[k]
		for r := 0; r < pr.nResid; r++ {
			jac.Set(r, k, (plus[r]-minus[r])/(2*h))
		}
	}
	for v := range pr.views {
		start, n := pr.offsets[v], 2*pr.views[v].Len()
		for j := 0; j < poseParams; j++ {
			k := intrinsicParams + poseParams*v + j
			h := diffStep(p[k])
			work[k] = p[k] + h
			pr.residualsOfView(work, v, plus[:n])
			work[k] = p[k] - h
			pr.residualsOfView(work, v, minus[:n])
			work[k] = p[k]
			for r := 0; r < n; r++ {
				jac.Set(start+r, k, (plus[r]-minus[r])/(2*h))
			}
		}
	}
}

type lmResult struct {
	params      []float64
	cost        float64
	initialCost float64
	iterations  int
}

// levenbergMarquardt minimizes the squared residuals starting from p.
func (pr *problem) levenbergMarquardt(ctx context.Context, p []float64, cfg SolverConfig) (*lmResult, error) {
	n := len(p)
	resid := pr.residuals(p, nil)
	cost := sumSquares(resid)
	if !utils.IsFinite(cost) {
		return nil, errors.Wrap(ErrSolverDivergence, "initial estimate does not project")
	}
	res := &lmResult{params: p, cost: cost, initialCost: cost}

	jac := mat.NewDense(pr.nResid, n, nil)
	var jtj mat.Dense
	grad := mat.NewVecDense(n, nil)
	candidate := make([]float64, n)
	candidateResid := make([]float64, pr.nResid)
	lambda := cfg.InitialLambda

	for res.iterations < cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pr.jacobian(res.params, jac)
		jtj.Mul(jac.T(), jac)
		grad.MulVec(jac.T(), mat.NewVecDense(pr.nResid, resid))

		maxDiag := 0.
		for k := 0; k < n; k++ {
			maxDiag = math.Max(maxDiag, jtj.At(k, k))
		}

		accepted := false
		relDecrease := 0.
		for try := 0; try < maxStepRetries && lambda <= maxLambda; try++ {
			damped := mat.NewSymDense(n, nil)
			for r := 0; r < n; r++ {
				for c := r; c < n; c++ {
					damped.SetSym(r, c, jtj.At(r, c))
				}
				d := math.Max(jtj.At(r, r), 1e-12*maxDiag)
				damped.SetSym(r, r, jtj.At(r, r)+lambda*d)
			}
			var chol mat.Cholesky
			if ok := chol.Factorize(damped); !ok {
				lambda *= 10
				continue
			}
			var step mat.VecDense
			if err := chol.SolveVecTo(&step, grad); err != nil {
				lambda *= 10
				continue
			}
			for k := range candidate {
				candidate[k] = res.params[k] - step.AtVec(k)
			}
			pr.residuals(candidate, candidateResid)
			newCost := sumSquares(candidateResid)
			if utils.IsFinite(newCost) && newCost < res.cost {
				relDecrease = (res.cost - newCost) / res.cost
				res.params = append([]float64(nil), candidate...)
				res.cost = newCost
				copy(resid, candidateResid)
				lambda = math.Max(lambda/10, minLambda)
				accepted = true
				break
			}
			lambda *= 10
		}
		if !accepted {
			break
		}
		res.iterations++
		if relDecrease < cfg.Epsilon {
			break
		}
	}
	return res, nil
}
