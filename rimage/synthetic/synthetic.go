// Package synthetic renders checkerboard targets seen through a known camera model. The images
// and ground truth corners are used to exercise detection and calibration end to end.
package synthetic

import (
	"image"
	"math"
	"math/rand/v2"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"go.viam.com/camcal/rimage/detection/chessboard"
	"go.viam.com/camcal/rimage/transform"
	"go.viam.com/camcal/utils"
)

// Options controls how a board is rendered.
type Options struct {
	// Supersample squared is the number of samples averaged per pixel.
	Supersample int
	Dark        uint8
	Light       uint8
	Background  uint8
	// NoiseStdDev adds zero mean gaussian noise, in gray levels.
	NoiseStdDev float64
	Seed        uint64
	// Occlusions are filled with the background level after rendering.
	Occlusions []image.Rectangle
}

// DefaultOptions returns noiseless rendering options.
func DefaultOptions() Options {
	return Options{
		Supersample: 4,
		Dark:        30,
		Light:       220,
		Background:  110,
	}
}

// ProjectCorners returns the image positions of the pattern's inner corners, in pattern order.
func ProjectCorners(model *transform.PinholeCameraModel, pose *transform.CamPose, spec chessboard.PatternSpec,
) ([]r2.Point, error) {
	world, err := spec.WorldPoints()
	if err != nil {
		return nil, err
	}
	out := make([]r2.Point, len(world))
	for i, pt := range world {
		px, ok := model.Project(pose, pt)
		if !ok {
			return nil, errors.Errorf("corner %d is behind the camera", i)
		}
		out[i] = px
	}
	return out, nil
}

// boardShade returns the gray level of the board plane at (x, y), in world units. The squares
// span one square beyond the inner corners and are surrounded by a one square wide light margin.
func boardShade(x, y float64, spec chessboard.PatternSpec, opts Options) (float64, bool) {
	s := spec.Square()
	qx, qy := math.Floor(x/s), math.Floor(y/s)
	cols, rows := float64(spec.Columns), float64(spec.Rows)
	if qx < -2 || qy < -2 || qx > cols || qy > rows {
		return 0, false
	}
	if qx < -1 || qy < -1 || qx > cols-1 || qy > rows-1 {
		return float64(opts.Light), true
	}
	if int(qx+qy)%2 == 0 {
		return float64(opts.Dark), true
	}
	return float64(opts.Light), true
}

// RenderCheckerboard renders the board seen by model from pose as a width x height gray image.
func RenderCheckerboard(
	model *transform.PinholeCameraModel,
	pose *transform.CamPose,
	spec chessboard.PatternSpec,
	width, height int,
	opts Options,
) (*image.Gray, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	if opts.Supersample < 1 {
		opts.Supersample = 1
	}

	// the homography [r1 r2 t] maps board coordinates to normalized image coordinates
	rot := pose.RotationMatrix()
	toImage := transform.Homography{
		{rot.At(0, 0), rot.At(0, 1), pose.Translation.X},
		{rot.At(1, 0), rot.At(1, 1), pose.Translation.Y},
		{rot.At(2, 0), rot.At(2, 1), pose.Translation.Z},
	}
	toBoard, err := toImage.Inverse()
	if err != nil {
		return nil, errors.Wrap(err, "board plane passes through the camera center")
	}

	offsets := subpixelOffsets(opts.Supersample * opts.Supersample)
	sampleWeight := 1 / float64(len(offsets))
	values := make([]float64, width*height)
	utils.ParallelForEachPixel(image.Point{width, height}, func(x, y int) {
		sum := 0.
		for _, off := range offsets {
			px := r2.Point{X: float64(x) - 0.5 + off.X, Y: float64(y) - 0.5 + off.Y}
			sum += sampleShade(model, toBoard, px, spec, opts)
		}
		values[y*width+x] = sum * sampleWeight
	})

	if opts.NoiseStdDev > 0 {
		noise := distuv.Normal{Mu: 0, Sigma: opts.NoiseStdDev, Src: rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)}
		for i := range values {
			values[i] += noise.Rand()
		}
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Pix[y*img.Stride+x] = uint8(utils.ClampF64(math.Round(values[y*width+x]), 0, 255))
		}
	}
	for _, occ := range opts.Occlusions {
		occ = occ.Intersect(img.Bounds())
		for y := occ.Min.Y; y < occ.Max.Y; y++ {
			for x := occ.Min.X; x < occ.Max.X; x++ {
				img.Pix[y*img.Stride+x] = opts.Background
			}
		}
	}
	return img, nil
}

// subpixelOffsets places n samples in the unit pixel on a rank-1 lattice (i/n, g*i/n mod 1), so
// that every sample has its own row and column. The generator g maximizes the smallest distance
// between samples.
func subpixelOffsets(n int) []r2.Point {
	gen, best := 1, -1.
	for g := 1; g < n; g++ {
		if gcd(g, n) != 1 {
			continue
		}
		// the lattice is a group: its packing distance is the nearest point to the origin
		closest := math.Inf(1)
		for i := 1; i < n; i++ {
			dx := float64(i) / float64(n)
			dy := float64(i*g%n) / float64(n)
			closest = math.Min(closest, math.Hypot(math.Min(dx, 1-dx), math.Min(dy, 1-dy)))
		}
		if closest > best {
			gen, best = g, closest
		}
	}
	out := make([]r2.Point, n)
	for i := range out {
		out[i] = r2.Point{
			X: (float64(i) + 0.5) / float64(n),
			Y: (float64(i*gen%n) + 0.5) / float64(n),
		}
	}
	return out
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// sampleShade follows the ray through pixel px back to the board plane.
func sampleShade(
	model *transform.PinholeCameraModel,
	toBoard *transform.Homography,
	px r2.Point,
	spec chessboard.PatternSpec,
	opts Options,
) float64 {
	undistorted := model.UndistortPixel(px)
	n := model.PixelToNormalized(undistorted)
	// rays meeting the plane behind the camera have a non positive homogeneous scale
	if w := toBoard[2][0]*n.X + toBoard[2][1]*n.Y + toBoard[2][2]; w <= 0 {
		return float64(opts.Background)
	}
	board := toBoard.Apply(n)
	shade, ok := boardShade(board.X, board.Y, spec, opts)
	if !ok {
		return float64(opts.Background)
	}
	return shade
}

// DefaultPoses returns n deterministic poses looking at the board from slightly different tilts
// and offsets, at a distance where the board spans about half of the image width.
func DefaultPoses(n int, spec chessboard.PatternSpec, intrinsics *transform.PinholeCameraIntrinsics) []*transform.CamPose {
	s := spec.Square()
	center := r3.Vector{X: float64(spec.Columns-1) * s / 2, Y: float64(spec.Rows-1) * s / 2}
	boardWidth := float64(spec.Columns+1) * s
	distance := intrinsics.Fx * boardWidth / (0.5 * float64(intrinsics.Width))

	poses := make([]*transform.CamPose, 0, n)
	for k := 0; k < n; k++ {
		phase := 2 * math.Pi * float64(k) / float64(max(n, 1))
		rvec := r3.Vector{
			X: 0.35 * math.Sin(phase+0.3),
			Y: 0.35 * math.Cos(phase),
			Z: 0.08 * math.Sin(3*phase),
		}
		rot := transform.RodriguesToMatrix(rvec)
		rotated := r3.Vector{
			X: rot.At(0, 0)*center.X + rot.At(0, 1)*center.Y,
			Y: rot.At(1, 0)*center.X + rot.At(1, 1)*center.Y,
			Z: rot.At(2, 0)*center.X + rot.At(2, 1)*center.Y,
		}
		target := r3.Vector{
			X: 0.03 * distance * math.Cos(2*phase),
			Y: 0.03 * distance * math.Sin(2*phase),
			Z: distance * (1 + 0.1*math.Sin(phase)),
		}
		poses = append(poses, &transform.CamPose{Rotation: rvec, Translation: target.Sub(rotated)})
	}
	return poses
}
