package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/camcal/config"
	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage"
	"go.viam.com/camcal/rimage/calibrate"
	"go.viam.com/camcal/rimage/detection/chessboard"
	"go.viam.com/camcal/rimage/synthetic"
	"go.viam.com/camcal/rimage/transform"
	"go.viam.com/camcal/services/calibration"
	"go.viam.com/camcal/storage"
	"go.viam.com/camcal/web/server"
)

// loadConfig reads the --config file, or the environment when none is given. A non empty
// localDir selects local storage.
func loadConfig(c *cli.Context, localDir string) (*config.Config, error) {
	if path := c.String(flagConfig); path != "" {
		cfg, err := config.Read(path)
		if err != nil {
			return nil, err
		}
		if localDir != "" {
			cfg.Storage.LocalDir = localDir
		}
		return cfg, nil
	}
	return config.FromEnv(func(name string) (string, bool) {
		if name == config.EnvLocalDir && localDir != "" {
			return localDir, true
		}
		return os.LookupEnv(name)
	})
}

func newStore(cfg config.StorageConfig, logger logging.Logger) (storage.ObjectStore, error) {
	logger = logger.Sublogger("storage")
	if cfg.IsLocal() {
		return storage.NewLocalStore(cfg.LocalDir, logger)
	}
	return storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		Secure:    cfg.Secure,
	}, logger)
}

func newService(c *cli.Context, cfg *config.Config, logger logging.Logger) (*calibration.Service, error) {
	if !c.Bool(flagDebug) {
		logger.SetLevel(cfg.LogLevel)
	}
	store, err := newStore(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	var opts []calibration.Option
	if cfg.SaveOverlays {
		opts = append(opts, calibration.WithOverlays())
	}
	return calibration.NewService(store, cfg.Calibration, logger.Sublogger("calibration"), opts...), nil
}

func serveAction(c *cli.Context, logger logging.Logger) error {
	cfg, err := loadConfig(c, "")
	if err != nil {
		return err
	}
	svc, err := newService(c, cfg, logger)
	if err != nil {
		return err
	}
	addr := cfg.Server.ListenAddress
	if listen := c.String(flagListen); listen != "" {
		addr = listen
	}
	srv := server.New(svc, server.Options{MaxRequestBytes: cfg.Server.MaxRequestBytes}, logger.Sublogger("web"))
	return srv.ListenAndServe(c.Context, addr)
}

func runAction(c *cli.Context, logger logging.Logger) error {
	body, err := os.ReadFile(c.Path(flagRequest))
	if err != nil {
		return errors.Wrap(err, "reading request")
	}
	req, err := calibration.ParseRequest(body)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c, c.Path(flagLocalDir))
	if err != nil {
		return err
	}
	svc, err := newService(c, cfg, logger)
	if err != nil {
		return err
	}
	resp, err := svc.Calibrate(c.Context, req)
	if err != nil {
		if report, ok := calibration.NewFailureReport(err); ok {
			if printErr := printJSON(c.App.Writer, report); printErr != nil {
				return printErr
			}
			return cli.Exit(report.Message, 2)
		}
		return err
	}
	return printJSON(c.App.Writer, resp)
}

// parseSize parses a COLUMNSxROWS board size.
func parseSize(size string) (chessboard.PatternSpec, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(size)), "x")
	if len(parts) != 2 {
		return chessboard.PatternSpec{}, errors.Errorf("board size %q is not COLUMNSxROWS", size)
	}
	dims := make([]int, 2)
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return chessboard.PatternSpec{}, errors.Wrapf(err, "board size %q", size)
		}
		dims[i] = v
	}
	return chessboard.NewPatternSpec(dims)
}

func localAction(c *cli.Context, logger logging.Logger) error {
	spec, err := parseSize(c.String(flagSize))
	if err != nil {
		return err
	}
	spec.SquareSize = c.Float64(flagSquare)
	if c.NArg() == 0 {
		return errors.New("no image files given")
	}

	samples := make([]calibrate.ImageSample, c.NArg())
	for i, path := range c.Args().Slice() {
		samples[i].Name = path
		samples[i].Image, samples[i].Err = rimage.ReadImageFromFile(path)
		if samples[i].Err != nil {
			logger.Warnw("could not read image", "image", path, "error", samples[i].Err)
		}
	}

	cfg := calibrate.DefaultConfig()
	cfg.MinValidImages = c.Int(flagMinValid)
	outcome, err := calibrate.Run(c.Context, samples, spec, cfg, logger)
	if err != nil {
		return err
	}
	if dir := c.Path(flagDebugDir); dir != "" {
		if err := writeOverlays(dir, samples, outcome, spec); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(c.App.Writer, outcome.String()); err != nil {
		return err
	}
	return printJSON(c.App.Writer, outcome)
}

// writeOverlays draws the detected corners and the saddle candidates of every decoded image.
func writeOverlays(dir string, samples []calibrate.ImageSample, outcome *calibrate.Outcome, spec chessboard.PatternSpec) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	for _, res := range outcome.Images {
		det := res.Detection
		if det == nil {
			continue
		}
		img := samples[res.Index].Image
		base := strings.TrimSuffix(filepath.Base(res.Name), filepath.Ext(res.Name))
		corners := rimage.DrawCorners(img, det.Corners, spec.Columns, det.Found)
		if err := rimage.WriteImageToFile(filepath.Join(dir, base+"_corners.png"), corners); err != nil {
			return err
		}
		saddles := chessboard.PlotSaddlePoints(img, det.Candidates, det.Validated)
		if err := rimage.WriteImageToFile(filepath.Join(dir, base+"_saddles.png"), saddles); err != nil {
			return err
		}
	}
	return nil
}

// renderCamera builds the camera to render through from the intrinsics file or the size and
// focal flags, and the lens model flags.
func renderCamera(c *cli.Context) (*transform.PinholeCameraModel, error) {
	var intrinsics *transform.PinholeCameraIntrinsics
	if path := c.Path(flagIntrinsic); path != "" {
		var err error
		if intrinsics, err = transform.NewPinholeCameraIntrinsicsFromJSONFile(path); err != nil {
			return nil, err
		}
	} else {
		width, height := c.Int(flagWidth), c.Int(flagHeight)
		intrinsics = &transform.PinholeCameraIntrinsics{
			Width:  width,
			Height: height,
			Fx:     c.Float64(flagFocal),
			Fy:     c.Float64(flagFocal),
			Ppx:    float64(width) / 2,
			Ppy:    float64(height) / 2,
		}
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	dist, err := transform.NewDistorter(transform.DistortionType(c.String(flagDistType)), []float64{c.Float64(flagK1), c.Float64(flagK2)})
	if err != nil {
		return nil, err
	}
	if err := dist.CheckValid(); err != nil {
		return nil, err
	}
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: intrinsics, Distortion: dist}, nil
}

func renderAction(c *cli.Context, logger logging.Logger) error {
	spec, err := parseSize(c.String(flagSize))
	if err != nil {
		return err
	}
	model, err := renderCamera(c)
	if err != nil {
		return err
	}
	intrinsics := model.PinholeCameraIntrinsics

	out := c.Path(flagOut)
	if err := os.MkdirAll(out, 0o750); err != nil {
		return err
	}
	opts := synthetic.DefaultOptions()
	opts.NoiseStdDev = c.Float64(flagNoise)
	for i, pose := range synthetic.DefaultPoses(c.Int(flagCount), spec, intrinsics) {
		opts.Seed = c.Uint64(flagNoiseSeed) + uint64(i)
		img, err := synthetic.RenderCheckerboard(model, pose, spec, intrinsics.Width, intrinsics.Height, opts)
		if err != nil {
			return err
		}
		path := filepath.Join(out, fmt.Sprintf("view_%02d.png", i))
		if err := rimage.WriteImageToFile(path, img); err != nil {
			return err
		}
		logger.Debugw("rendered view", "path", path, "rvec", pose.Rotation, "tvec", pose.Translation)
	}

	truth := calibrate.CameraModel{CameraMatrix: intrinsics.CameraMatrixArray()}
	if bc, ok := model.Distortion.(*transform.BrownConrady); ok {
		truth.Distortion = bc.OpenCV()
	}
	data, err := json.MarshalIndent(truth, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(out, "truth.json"), data, 0o640); err != nil {
		return err
	}
	logger.Infow("rendered views", "count", c.Int(flagCount), "dir", out, "distortion", model.Distortion.ModelType())
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
