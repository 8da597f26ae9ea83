// Package calibration runs calibration jobs against an object store: images are loaded from a
// dataset prefix and the camera model is written under the job's run id.
package calibration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage"
	"go.viam.com/camcal/rimage/calibrate"
	"go.viam.com/camcal/storage"
	"go.viam.com/camcal/utils"
)

const (
	fetchWorkers  = 8
	maxImageBytes = 64 << 20

	metadataFile = "metadata.json"
	resultFile   = "result.json"
	overlayDir   = "overlays"
)

var (
	// ErrResultNotFound is returned by Result when no result is stored for a run.
	ErrResultNotFound = errors.New("calibration result not found")
	errUnavailable    = errors.New("image unavailable")
)

// Response is returned for a completed calibration.
type Response struct {
	Status  string             `json:"status"`
	Message string             `json:"message"`
	RunID   string             `json:"run_id"`
	Result  *calibrate.Outcome `json:"result"`
	// Overlays lists the keys of the corner overlays written for the run.
	Overlays []string `json:"overlays,omitempty"`
}

// StoredRun is a persisted calibration result with the metadata of its request.
type StoredRun struct {
	Status   string                 `json:"status"`
	RunID    string                 `json:"run_id"`
	Result   *calibrate.Outcome     `json:"result"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Service runs calibration requests.
type Service struct {
	store  storage.ObjectStore
	client *http.Client
	cfg    calibrate.Config
	logger logging.Logger

	saveOverlays bool
}

// Option configures a Service.
type Option func(*Service)

// WithOverlays makes the service store a PNG with the detected corners drawn on it for every
// decoded image of a successful run.
func WithOverlays() Option {
	return func(s *Service) {
		s.saveOverlays = true
	}
}

// NewService returns a service reading and writing through store. cfg supplies every setting a
// request does not override.
func NewService(store storage.ObjectStore, cfg calibrate.Config, logger logging.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		client: &http.Client{Timeout: time.Minute},
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calibrate loads the request's images, calibrates, and persists the metadata and result under
// the run id. Calibration failures are returned as *calibrate.Failure errors and nothing is
// persisted.
func (s *Service) Calibrate(ctx context.Context, req *Request) (*Response, error) {
	md := req.Metadata
	logger := s.logger.Sublogger(md.RunID)
	logger.Infow("starting calibration", "images", len(req.Images), "dataset", md.Dataset,
		"checkerboard_size", md.CheckerboardSize)

	samples, err := s.loadImages(ctx, req, logger)
	if err != nil {
		return nil, err
	}
	spec := req.PatternSpec()
	outcome, err := calibrate.Run(ctx, samples, spec, req.CalibrationConfig(s.cfg), logger)
	if err != nil {
		logger.Errorw("calibration failed", "error", err)
		return nil, err
	}

	if err := s.putJSON(ctx, storage.Key(md.RunID, metadataFile), md); err != nil {
		return nil, err
	}
	if err := s.putJSON(ctx, storage.Key(md.RunID, resultFile), outcome); err != nil {
		return nil, err
	}
	var overlays []string
	if s.saveOverlays {
		if overlays, err = s.putOverlays(ctx, md.RunID, samples, outcome, spec.Columns); err != nil {
			return nil, err
		}
	}
	logger.Infow("calibration stored", "processed", outcome.ProcessedCount, "total", outcome.TotalCount,
		"rms", outcome.RMSError, "overlays", len(overlays))
	return &Response{
		Status:   "success",
		Message:  "Calibration completed successfully",
		RunID:    md.RunID,
		Result:   outcome,
		Overlays: overlays,
	}, nil
}

// putOverlays stores the corners found in each decoded image drawn over it, named by the image's
// position in the request.
func (s *Service) putOverlays(
	ctx context.Context,
	runID string,
	samples []calibrate.ImageSample,
	outcome *calibrate.Outcome,
	columns int,
) ([]string, error) {
	var keys []string
	for _, res := range outcome.Images {
		det := res.Detection
		if det == nil {
			continue
		}
		data, err := rimage.EncodePNG(rimage.DrawCorners(samples[res.Index].Image, det.Corners, columns, det.Found))
		if err != nil {
			return nil, errors.Wrapf(err, "encoding overlay of %q", res.Name)
		}
		key := storage.Key(runID, overlayDir, fmt.Sprintf("%03d.png", res.Index))
		if err := s.store.Put(ctx, key, data, storage.ContentTypePNG); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Result loads a stored result and, when present, its metadata.
func (s *Service) Result(ctx context.Context, runID string) (*StoredRun, error) {
	if _, err := storage.CleanKey(runID); err != nil {
		return nil, errors.Wrapf(ErrResultNotFound, "%q: %v", runID, err)
	}
	data, err := s.store.Get(ctx, storage.Key(runID, resultFile))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, errors.Wrap(ErrResultNotFound, runID)
		}
		return nil, err
	}
	run := &StoredRun{Status: "success", RunID: runID}
	if err := json.Unmarshal(data, &run.Result); err != nil {
		return nil, errors.Wrapf(err, "decoding result of %q", runID)
	}
	mdData, err := s.store.Get(ctx, storage.Key(runID, metadataFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(mdData, &run.Metadata); err != nil {
			s.logger.Warnw("ignoring unreadable metadata", "run_id", runID, "error", err)
		}
	case errors.Is(err, storage.ErrObjectNotFound):
	default:
		return nil, err
	}
	return run, nil
}

func (s *Service) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding %q", key)
	}
	return s.store.Put(ctx, key, data, storage.ContentTypeJSON)
}

// loadImages fetches and decodes every image. Missing and undecodable images become samples with
// an error so that the run can skip them; other failures abort.
func (s *Service) loadImages(ctx context.Context, req *Request, logger logging.Logger) ([]calibrate.ImageSample, error) {
	samples := make([]calibrate.ImageSample, len(req.Images))
	err := utils.ForEachIndex(ctx, len(req.Images), fetchWorkers, func(ctx context.Context, i int) error {
		name := req.Images[i]
		samples[i].Name = name
		data, err := s.fetch(ctx, req.Metadata.Dataset, name)
		if err != nil {
			if errors.Is(err, errUnavailable) {
				logger.Warnw("could not load image", "image", name, "error", err)
				samples[i].Err = err
				return nil
			}
			return err
		}
		img, err := rimage.DecodeImage(data)
		if err != nil {
			logger.Warnw("could not decode image", "image", name, "error", err)
			samples[i].Err = err
			return nil
		}
		samples[i].Image = img
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

func (s *Service) fetch(ctx context.Context, dataset, name string) ([]byte, error) {
	if isURL(name) {
		return s.download(ctx, name)
	}
	data, err := s.store.Get(ctx, storage.Key(dataset, name))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, errors.Wrap(errUnavailable, err.Error())
	}
	return data, err
}

func (s *Service) download(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(errUnavailable, "%s: %v", url, err)
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Wrapf(errUnavailable, "%s: %v", url, err)
	}
	defer goutils.UncheckedErrorFunc(resp.Body.Close)
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(errUnavailable, "%s: %s", url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, errors.Wrapf(errUnavailable, "%s: %v", url, err)
	}
	return data, nil
}
