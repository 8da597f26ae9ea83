// Package main is the camcal command: the calibration HTTP service, one-off runs and local tools.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage/transform"
)

const (
	flagConfig    = "config"
	flagDebug     = "debug"
	flagListen    = "listen"
	flagRequest   = "request"
	flagLocalDir  = "local-dir"
	flagSize      = "size"
	flagSquare    = "square-size"
	flagDebugDir  = "debug-dir"
	flagMinValid  = "min-valid"
	flagOut       = "out"
	flagCount     = "count"
	flagWidth     = "width"
	flagHeight    = "height"
	flagFocal     = "focal"
	flagK1        = "k1"
	flagK2        = "k2"
	flagNoise     = "noise"
	flagNoiseSeed = "seed"
	flagIntrinsic = "intrinsics"
	flagDistType  = "distortion-type"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var logger logging.Logger
	return &cli.App{
		Name:  "camcal",
		Usage: "calibrate cameras from checkerboard images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE` instead of the environment",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			level := logging.INFO
			if c.Bool(flagDebug) {
				level = logging.DEBUG
			}
			logger = logging.NewLoggerAtLevel("camcal", level)
			return nil
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				//nolint:errcheck
				logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the calibration HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagListen,
						Usage: "listen `ADDRESS`, overriding the configuration",
					},
				},
				Action: func(c *cli.Context) error {
					return serveAction(c, logger)
				},
			},
			{
				Name:      "run",
				Usage:     "process a single calibration request body",
				UsageText: "camcal run --request body.json [--local-dir DIR]",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     flagRequest,
						Required: true,
						Usage:    "request body `FILE` with metadata and images",
					},
					&cli.PathFlag{
						Name:  flagLocalDir,
						Usage: "read images and write results under `DIR` instead of the object store",
					},
				},
				Action: func(c *cli.Context) error {
					return runAction(c, logger)
				},
			},
			{
				Name:      "local",
				Usage:     "calibrate from image files on disk",
				UsageText: "camcal local --size 7x5 [--debug-dir DIR] FILE...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagSize,
						Required: true,
						Usage:    "inner corners of the board as `COLUMNSxROWS`",
					},
					&cli.Float64Flag{
						Name:  flagSquare,
						Usage: "side of a board square in world units",
						Value: 1,
					},
					&cli.IntFlag{
						Name:  flagMinValid,
						Usage: "minimum number of images with a detected board",
						Value: 5,
					},
					&cli.PathFlag{
						Name:  flagDebugDir,
						Usage: "write corner and saddle overlays to `DIR`",
					},
				},
				Action: func(c *cli.Context) error {
					return localAction(c, logger)
				},
			},
			{
				Name:  "render",
				Usage: "write synthetic checkerboard images seen through a known camera",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagSize, Value: "7x5", Usage: "inner corners as `COLUMNSxROWS`"},
					&cli.PathFlag{Name: flagOut, Required: true, Usage: "output `DIR`"},
					&cli.IntFlag{Name: flagCount, Value: 10, Usage: "number of views"},
					&cli.IntFlag{Name: flagWidth, Value: 640},
					&cli.IntFlag{Name: flagHeight, Value: 480},
					&cli.Float64Flag{Name: flagFocal, Value: 800, Usage: "focal length in pixels"},
					&cli.PathFlag{
						Name:  flagIntrinsic,
						Usage: "read width_px, height_px, fx, fy, ppx and ppy from a JSON `FILE` instead of the size and focal flags",
					},
					&cli.StringFlag{
						Name:  flagDistType,
						Value: string(transform.BrownConradyDistortionType),
						Usage: "lens model, brown_conrady or no_distortion",
					},
					&cli.Float64Flag{Name: flagK1, Usage: "radial distortion k1"},
					&cli.Float64Flag{Name: flagK2, Usage: "radial distortion k2"},
					&cli.Float64Flag{Name: flagNoise, Usage: "gaussian noise standard deviation in gray levels"},
					&cli.Uint64Flag{Name: flagNoiseSeed, Value: 1},
				},
				Action: func(c *cli.Context) error {
					return renderAction(c, logger)
				},
			},
		},
	}
}
