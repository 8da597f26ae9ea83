package calibrate

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage/detection/chessboard"
	"go.viam.com/camcal/utils"
)

// DefaultMinValidImages is the default minimum number of images with a detected board.
const DefaultMinValidImages = 5

// Config holds the calibration run parameters.
type Config struct {
	// MinValidImages is the number of detected boards required before solving.
	MinValidImages          int     `json:"min_valid_images"`
	RefinementWindowRadius  int     `json:"refinement_window_radius"`
	RefinementEpsilon       float64 `json:"refinement_epsilon"`
	RefinementMaxIterations int     `json:"refinement_max_iterations"`
	SolverEpsilon           float64 `json:"solver_epsilon"`
	SolverMaxIterations     int     `json:"solver_max_iterations"`
	// Workers bounds the detection concurrency; 0 uses utils.ParallelFactor.
	Workers int `json:"workers"`
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	solver := DefaultSolverConfig()
	refinement := chessboard.DefaultRefinementConf
	return Config{
		MinValidImages:          DefaultMinValidImages,
		RefinementWindowRadius:  refinement.WindowRadius,
		RefinementEpsilon:       refinement.Epsilon,
		RefinementMaxIterations: refinement.MaxIterations,
		SolverEpsilon:           solver.Epsilon,
		SolverMaxIterations:     solver.MaxIterations,
	}
}

// Validate returns every invalid field at once.
func (cfg Config) Validate() error {
	var errs error
	if cfg.MinValidImages < 1 {
		errs = multierr.Append(errs, errors.Errorf("min_valid_images must be at least 1, got %d", cfg.MinValidImages))
	}
	if cfg.SolverEpsilon <= 0 {
		errs = multierr.Append(errs, errors.Errorf("solver_epsilon must be positive, got %v", cfg.SolverEpsilon))
	}
	if cfg.SolverMaxIterations < 1 {
		errs = multierr.Append(errs, errors.Errorf("solver_max_iterations must be positive, got %d", cfg.SolverMaxIterations))
	}
	if cfg.Workers < 0 {
		errs = multierr.Append(errs, errors.Errorf("workers must not be negative, got %d", cfg.Workers))
	}
	return multierr.Append(errs, cfg.DetectionConfig().Validate())
}

// DetectionConfig returns the detector configuration for this run.
func (cfg Config) DetectionConfig() chessboard.DetectionConfiguration {
	det := chessboard.DefaultDetectionConfiguration()
	det.Refinement.WindowRadius = cfg.RefinementWindowRadius
	det.Refinement.Epsilon = cfg.RefinementEpsilon
	det.Refinement.MaxIterations = cfg.RefinementMaxIterations
	return det
}

// SolverConfig returns the solver configuration for this run.
func (cfg Config) SolverConfig() SolverConfig {
	solver := DefaultSolverConfig()
	solver.Epsilon = cfg.SolverEpsilon
	solver.MaxIterations = cfg.SolverMaxIterations
	return solver
}

// ImageSample is one input image. Err records why the image could not be decoded, in which case
// Image is nil and the sample is skipped.
type ImageSample struct {
	Name  string
	Image image.Image
	Err   error
}

// ImageResult is the per image outcome, in input order.
type ImageResult struct {
	Index             int        `json:"index"`
	Name              string     `json:"name"`
	Detected          bool       `json:"detected"`
	ReprojectionError float64    `json:"reprojection_error,omitempty"`
	Reason            ReasonCode `json:"reason,omitempty"`
	// Detection holds the corners and saddle candidates found in a decoded image, for overlays.
	Detection *chessboard.Detection `json:"-"`
}

// Outcome is a successful calibration.
type Outcome struct {
	CameraModel
	ProcessedCount int           `json:"processed_images"`
	TotalCount     int           `json:"total_images"`
	RMSError       float64       `json:"rms_error"`
	Residuals      ResidualStats `json:"residuals"`
	Images         []ImageResult `json:"images"`
}

// detection is the per image state written by exactly one worker.
type detection struct {
	corners chessboard.CornerSet
	size    image.Point
}

// Run detects the board in every image, then solves for the camera model. Images without a
// board are skipped; the run fails when fewer than cfg.MinValidImages remain.
func Run(
	ctx context.Context,
	images []ImageSample,
	spec chessboard.PatternSpec,
	cfg Config,
	logger logging.Logger,
) (*Outcome, error) {
	total := len(images)
	fail := func(reason ReasonCode, processed int, err error) error {
		return &Failure{Reason: reason, ProcessedCount: processed, TotalCount: total, MinValidImages: cfg.MinValidImages, Err: err}
	}
	world, err := spec.WorldPoints()
	if err != nil {
		return nil, fail(ReasonInvalidPatternSpec, 0, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid calibration config")
	}

	detCfg := cfg.DetectionConfig()
	results := make([]ImageResult, total)
	detections := make([]detection, total)
	detectLogger := logger.Sublogger("detector")
	err = utils.ForEachIndex(ctx, total, cfg.Workers, func(ctx context.Context, i int) error {
		sample := images[i]
		results[i] = ImageResult{Index: i, Name: sample.Name}
		if sample.Err != nil || sample.Image == nil {
			results[i].Reason = ReasonUndecodable
			detectLogger.Warnw("skipping undecodable image", "image", sample.Name, "error", sample.Err)
			return nil
		}
		det, err := chessboard.Detect(sample.Image, spec, detCfg)
		if err != nil {
			return errors.Wrapf(err, "detecting board in %q", sample.Name)
		}
		results[i].Detection = det
		if !det.Found {
			results[i].Reason = ReasonNotFound
			detectLogger.Infow("checkerboard not found", "image", sample.Name)
			return nil
		}
		results[i].Detected = true
		detections[i] = detection{corners: det.Corners, size: sample.Image.Bounds().Size()}
		detectLogger.Debugw("checkerboard found", "image", sample.Name, "corners", len(det.Corners))
		return ctx.Err()
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fail(ReasonCanceled, 0, ctxErr)
		}
		return nil, err
	}

	corrs := make([]Correspondence, 0, total)
	views := make([]int, 0, total)
	var size image.Point
	for i, det := range detections {
		if !results[i].Detected {
			continue
		}
		if len(views) == 0 {
			size = det.size
		} else if det.size != size {
			return nil, fail(ReasonImageSizeMismatch, len(views),
				errors.Wrapf(ErrImageSizeMismatch, "%q is %v, expected %v", images[i].Name, det.size, size))
		}
		corr, err := NewCorrespondence(det.corners, world)
		if err != nil {
			return nil, fail(ReasonLengthMismatch, len(views), err)
		}
		corrs = append(corrs, corr)
		views = append(views, i)
	}
	processed := len(corrs)
	logger.Infow("detection finished", "processed", processed, "total", total)
	if processed < cfg.MinValidImages {
		return nil, fail(ReasonInsufficientValidImages, processed, ErrInsufficientValidImages)
	}

	sol, err := Solve(ctx, corrs, size, cfg.SolverConfig())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fail(ReasonCanceled, processed, ctxErr)
		}
		if reason := ReasonFor(err); reason != "" {
			return nil, fail(reason, processed, err)
		}
		return nil, err
	}

	pinhole := sol.Model.PinholeModel(size)
	allErrs := make([]float64, 0, processed*spec.Size())
	for v, idx := range views {
		results[idx].ReprojectionError = sol.PerImageRMS[v]
		allErrs = append(allErrs, ReprojectionErrors(pinhole, sol.Poses[v], corrs[v])...)
	}
	residuals, err := SummarizeResiduals(allErrs)
	if err != nil {
		if reason := ReasonFor(err); reason != "" {
			return nil, fail(reason, processed, err)
		}
		return nil, err
	}
	logger.Sublogger("solver").Infow("calibration converged",
		"rms", sol.RMSError, "iterations", sol.Iterations, "fx", sol.Model.CameraMatrix[0][0], "fy", sol.Model.CameraMatrix[1][1])

	return &Outcome{
		CameraModel:    sol.Model,
		ProcessedCount: processed,
		TotalCount:     total,
		RMSError:       sol.RMSError,
		Residuals:      residuals,
		Images:         results,
	}, nil
}
