package chessboard

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// DetectionConfiguration stores the parameters necessary for chessboard detection in an image.
type DetectionConfiguration struct {
	Saddle     SaddleConfiguration     `json:"saddle"`
	Grid       GridConfiguration       `json:"grid"`
	Refinement RefinementConfiguration `json:"refinement"`
}

// GridConfiguration stores the parameters used to grow a grid out of validated saddle points.
type GridConfiguration struct {
	// Tolerance is the largest accepted distance between a predicted and a detected corner, as a
	// fraction of the local grid step.
	Tolerance float64 `json:"tolerance"`
	// MaxSeeds is the number of seed corners tried before giving up.
	MaxSeeds int `json:"max-seeds"`
}

// RefinementConfiguration stores the sub-pixel corner refinement parameters.
type RefinementConfiguration struct {
	// BlurSigma smooths the luminance before the gradients are taken, 0 disables it.
	BlurSigma     float64 `json:"blur-sigma"`
	WindowRadius  int     `json:"win-radius"`
	Epsilon       float64 `json:"epsilon"`
	MaxIterations int     `json:"max-iterations"`
	// StepFraction caps one iteration's correction at this fraction of the window radius.
	StepFraction float64 `json:"step-fraction"`
}

// DefaultDetectionConfiguration returns the detector defaults.
func DefaultDetectionConfiguration() DetectionConfiguration {
	return DetectionConfiguration{
		Saddle:     DefaultSaddleConf,
		Grid:       DefaultGridConf,
		Refinement: DefaultRefinementConf,
	}
}

// DefaultGridConf stores the default grid growing parameters.
var DefaultGridConf = GridConfiguration{
	Tolerance: 0.35,
	MaxSeeds:  6,
}

// DefaultRefinementConf stores the default sub-pixel refinement parameters.
var DefaultRefinementConf = RefinementConfiguration{
	BlurSigma:     1.0,
	WindowRadius:  5,
	Epsilon:       1e-4,
	MaxIterations: 30,
	StepFraction:  0.5,
}

// Validate returns every invalid parameter at once.
func (cfg DetectionConfiguration) Validate() error {
	var errs error
	s := cfg.Saddle
	if s.BlurSigma < 0 {
		errs = multierr.Append(errs, errors.Errorf("saddle blur sigma must not be negative, got %v", s.BlurSigma))
	}
	if s.ScoreRatio <= 0 || s.ScoreRatio >= 1 {
		errs = multierr.Append(errs, errors.Errorf("saddle score ratio must be in (0, 1), got %v", s.ScoreRatio))
	}
	if s.NMSWindowSize < 1 {
		errs = multierr.Append(errs, errors.Errorf("nms window size must be positive, got %d", s.NMSWindowSize))
	}
	if s.MaxCandidates < 1 {
		errs = multierr.Append(errs, errors.Errorf("max candidates must be positive, got %d", s.MaxCandidates))
	}
	if s.RingRadius <= 0 || s.RingSamples < 8 {
		errs = multierr.Append(errs, errors.Errorf("ring needs a positive radius and at least 8 samples, got %v and %d",
			s.RingRadius, s.RingSamples))
	}
	if cfg.Grid.Tolerance <= 0 || cfg.Grid.Tolerance >= 0.5 {
		errs = multierr.Append(errs, errors.Errorf("grid tolerance must be in (0, 0.5), got %v", cfg.Grid.Tolerance))
	}
	if cfg.Grid.MaxSeeds < 1 {
		errs = multierr.Append(errs, errors.Errorf("max seeds must be positive, got %d", cfg.Grid.MaxSeeds))
	}
	r := cfg.Refinement
	if r.BlurSigma < 0 {
		errs = multierr.Append(errs, errors.Errorf("refinement blur sigma must not be negative, got %v", r.BlurSigma))
	}
	if r.WindowRadius < 1 {
		errs = multierr.Append(errs, errors.Errorf("refinement window radius must be positive, got %d", r.WindowRadius))
	}
	if r.Epsilon <= 0 {
		errs = multierr.Append(errs, errors.Errorf("refinement epsilon must be positive, got %v", r.Epsilon))
	}
	if r.MaxIterations < 1 {
		errs = multierr.Append(errs, errors.Errorf("refinement iterations must be positive, got %d", r.MaxIterations))
	}
	if r.StepFraction <= 0 || r.StepFraction > 1 {
		errs = multierr.Append(errs, errors.Errorf("refinement step fraction must be in (0, 1], got %v", r.StepFraction))
	}
	return errs
}
