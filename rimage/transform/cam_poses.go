package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CamPose is the rigid transform taking points from a world frame into the camera frame. The
// rotation is stored as a Rodrigues (axis times angle) vector.
type CamPose struct {
	Rotation    r3.Vector `json:"rvec"`
	Translation r3.Vector `json:"tvec"`
}

// NewCamPoseFromMatrix creates a pose from a rotation matrix and a translation.
func NewCamPoseFromMatrix(rot *mat.Dense, t r3.Vector) *CamPose {
	return &CamPose{Rotation: MatrixToRodrigues(rot), Translation: t}
}

// RotationMatrix returns the 3x3 rotation matrix of the pose.
func (cp *CamPose) RotationMatrix() *mat.Dense {
	return RodriguesToMatrix(cp.Rotation)
}

// Transform maps a world point into the camera frame.
func (cp *CamPose) Transform(pt r3.Vector) r3.Vector {
	r := RodriguesToMatrix(cp.Rotation)
	return r3.Vector{
		X: r.At(0, 0)*pt.X + r.At(0, 1)*pt.Y + r.At(0, 2)*pt.Z + cp.Translation.X,
		Y: r.At(1, 0)*pt.X + r.At(1, 1)*pt.Y + r.At(1, 2)*pt.Z + cp.Translation.Y,
		Z: r.At(2, 0)*pt.X + r.At(2, 1)*pt.Y + r.At(2, 2)*pt.Z + cp.Translation.Z,
	}
}

// Params returns (rx, ry, rz, tx, ty, tz).
func (cp *CamPose) Params() [6]float64 {
	return [6]float64{
		cp.Rotation.X, cp.Rotation.Y, cp.Rotation.Z,
		cp.Translation.X, cp.Translation.Y, cp.Translation.Z,
	}
}

// NewCamPoseFromParams is the inverse of Params.
func NewCamPoseFromParams(p []float64) *CamPose {
	return &CamPose{
		Rotation:    r3.Vector{X: p[0], Y: p[1], Z: p[2]},
		Translation: r3.Vector{X: p[3], Y: p[4], Z: p[5]},
	}
}

// getCrossProductMatFromPoint returns the cross product with point p matrix.
func getCrossProductMatFromPoint(p r3.Vector) *mat.Dense {
	cross := mat.NewDense(3, 3, nil)
	cross.Set(0, 1, -p.Z)
	cross.Set(0, 2, p.Y)
	cross.Set(1, 0, p.Z)
	cross.Set(1, 2, -p.X)
	cross.Set(2, 0, -p.Y)
	cross.Set(2, 1, p.X)
	return cross
}

// RodriguesToMatrix converts an axis-angle vector to a rotation matrix.
func RodriguesToMatrix(r r3.Vector) *mat.Dense {
	theta := r.Norm()
	rot := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if theta < 1e-12 {
		rot.Add(rot, getCrossProductMatFromPoint(r))
		return rot
	}
	k := r.Mul(1 / theta)
	kx := getCrossProductMatFromPoint(k)
	var kx2 mat.Dense
	kx2.Mul(kx, kx)
	kx.Scale(math.Sin(theta), kx)
	kx2.Scale(1-math.Cos(theta), &kx2)
	rot.Add(rot, kx)
	rot.Add(rot, &kx2)
	return rot
}

// MatrixToRodrigues converts a rotation matrix to an axis-angle vector.
func MatrixToRodrigues(rot mat.Matrix) r3.Vector {
	trace := rot.At(0, 0) + rot.At(1, 1) + rot.At(2, 2)
	cosTheta := math.Max(-1, math.Min(1, (trace-1)/2))
	theta := math.Acos(cosTheta)
	skew := r3.Vector{
		X: rot.At(2, 1) - rot.At(1, 2),
		Y: rot.At(0, 2) - rot.At(2, 0),
		Z: rot.At(1, 0) - rot.At(0, 1),
	}
	switch {
	case theta < 1e-9:
		return skew.Mul(0.5)
	case math.Pi-theta < 1e-6:
		// R = 2kk' - I at theta = pi; read the axis from the largest diagonal entry
		diag := [3]float64{rot.At(0, 0), rot.At(1, 1), rot.At(2, 2)}
		i := 0
		for j := 1; j < 3; j++ {
			if diag[j] > diag[i] {
				i = j
			}
		}
		var k [3]float64
		k[i] = math.Sqrt(math.Max(0, (diag[i]+1)/2))
		for j := 0; j < 3; j++ {
			if j != i {
				k[j] = (rot.At(i, j) + rot.At(j, i)) / (4 * k[i])
			}
		}
		axis := r3.Vector{X: k[0], Y: k[1], Z: k[2]}.Normalize()
		return axis.Mul(theta)
	default:
		return skew.Mul(theta / (2 * math.Sin(theta)))
	}
}

// NearestRotation projects m onto the closest rotation matrix in the Frobenius sense.
func NearestRotation(m mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize rotation estimate")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var rot mat.Dense
	rot.Mul(&u, v.T())
	// if determinant is negative, flip the last column of U
	if mat.Det(&rot) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(&u, v.T())
	}
	return &rot, nil
}

// PoseFromHomography recovers the pose of the z = 0 world plane from the homography mapping plane
// coordinates to pixels. The pose puts the plane in front of the camera.
func PoseFromHomography(intrinsics *PinholeCameraIntrinsics, h *Homography) (*CamPose, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	var kInv mat.Dense
	if err := kInv.Inverse(intrinsics.GetCameraMatrix()); err != nil {
		return nil, errors.Wrap(err, "camera matrix is singular")
	}
	var m mat.Dense
	m.Mul(&kInv, h.Dense())
	cols := make([]r3.Vector, 3)
	for c := 0; c < 3; c++ {
		cols[c] = r3.Vector{X: m.At(0, c), Y: m.At(1, c), Z: m.At(2, c)}
	}
	norm := (cols[0].Norm() + cols[1].Norm()) / 2
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, errors.New("homography does not describe a visible plane")
	}
	lambda := 1 / norm
	if cols[2].Z < 0 {
		lambda = -lambda
	}
	r1 := cols[0].Mul(lambda)
	r2 := cols[1].Mul(lambda)
	t := cols[2].Mul(lambda)
	r3v := r1.Cross(r2)

	approx := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	rot, err := NearestRotation(approx)
	if err != nil {
		return nil, err
	}
	return NewCamPoseFromMatrix(rot, t), nil
}
