package calibrate

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/camcal/utils"
)

// ResidualStats summarizes reprojection errors in pixels.
type ResidualStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
	RMS    float64 `json:"rms"`
}

// SummarizeResiduals computes summary statistics of per point reprojection errors. A non finite
// error, such as a point projected from behind the camera, means the model diverged.
func SummarizeResiduals(errs []float64) (ResidualStats, error) {
	if len(errs) == 0 {
		return ResidualStats{}, errors.New("no residuals to summarize")
	}
	for i, e := range errs {
		if !utils.IsFinite(e) {
			return ResidualStats{}, errors.Wrapf(ErrSolverDivergence, "reprojection error of point %d is %v", i, e)
		}
	}
	data := stats.LoadRawData(errs)
	mean, err := data.Mean()
	if err != nil {
		return ResidualStats{}, err
	}
	median, err := data.Median()
	if err != nil {
		return ResidualStats{}, err
	}
	p95, err := data.Percentile(95)
	if err != nil {
		return ResidualStats{}, err
	}
	maxErr, err := data.Max()
	if err != nil {
		return ResidualStats{}, err
	}
	sumSq := 0.
	for _, e := range errs {
		sumSq += e * e
	}
	return ResidualStats{
		Mean:   mean,
		Median: median,
		P95:    p95,
		Max:    maxErr,
		RMS:    math.Sqrt(sumSq / float64(len(errs))),
	}, nil
}
