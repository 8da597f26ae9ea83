// Package config defines the configuration of the calibration service and how it is read from a
// file or from the environment.
package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage/calibrate"
)

// DefaultListenAddress is the address the HTTP server binds when none is configured.
const DefaultListenAddress = ":8080"

// Environment variables understood by FromEnv.
const (
	EnvEndpointURL   = "R2_ENDPOINT_URL"
	EnvAccessKey     = "R2_ACCESS_KEY"
	EnvSecretKey     = "R2_SECRET_ACCESS_KEY"
	EnvBucket        = "R2_BUCKET"
	EnvRegion        = "R2_REGION"
	EnvSecure        = "R2_SECURE"
	EnvLocalDir      = "CALIBRATION_LOCAL_DIR"
	EnvListenAddress = "CALIBRATION_LISTEN_ADDR"
	EnvSaveOverlays  = "CALIBRATION_SAVE_OVERLAYS"
	EnvLogLevel      = "LOG_LEVEL"
)

// Config is the full service configuration.
type Config struct {
	Storage     StorageConfig    `json:"storage"`
	Server      ServerConfig     `json:"server"`
	Calibration calibrate.Config `json:"calibration"`
	LogLevel    logging.Level    `json:"log_level"`
	// SaveOverlays stores a corner overlay image next to every result.
	SaveOverlays bool `json:"save_overlays"`
}

// StorageConfig selects where images are read from and results are written to. LocalDir takes
// precedence over the object store settings.
type StorageConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Secure    bool   `json:"secure"`
	LocalDir  string `json:"local_dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddress string `json:"listen_address"`
	// MaxRequestBytes bounds the size of a calibration request body.
	MaxRequestBytes int64 `json:"max_request_bytes"`
}

// Default returns a configuration with every optional value filled in.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Region: "auto", Secure: true},
		Server: ServerConfig{
			ListenAddress:   DefaultListenAddress,
			MaxRequestBytes: 1 << 20,
		},
		Calibration: calibrate.DefaultConfig(),
		LogLevel:    logging.INFO,
	}
}

// IsLocal reports whether the storage is a local directory.
func (sc StorageConfig) IsLocal() bool {
	return sc.LocalDir != ""
}

// Validate returns every missing storage setting at once.
func (sc StorageConfig) Validate(path string) error {
	if sc.IsLocal() {
		return nil
	}
	var errs error
	for _, field := range []struct{ name, value string }{
		{"endpoint", sc.Endpoint},
		{"access_key", sc.AccessKey},
		{"secret_key", sc.SecretKey},
		{"bucket", sc.Bucket},
	} {
		if field.value == "" {
			errs = multierr.Append(errs, newConfigValidationError(path, field.name))
		}
	}
	return errs
}

// Validate returns every problem found in the configuration.
func (c *Config) Validate() error {
	var errs error
	errs = multierr.Append(errs, c.Storage.Validate("storage"))
	if c.Server.ListenAddress == "" {
		errs = multierr.Append(errs, newConfigValidationError("server", "listen_address"))
	}
	if c.Server.MaxRequestBytes <= 0 {
		errs = multierr.Append(errs, errors.Errorf("server.max_request_bytes must be positive, got %d", c.Server.MaxRequestBytes))
	}
	if err := c.Calibration.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "calibration"))
	}
	return errs
}

func newConfigValidationError(path, field string) error {
	return errors.Errorf("%s: %q is required", path, field)
}

// FromEnv builds a configuration from the environment, looked up through lookup (os.LookupEnv
// outside of tests).
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	get := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	get(EnvEndpointURL, &cfg.Storage.Endpoint)
	get(EnvAccessKey, &cfg.Storage.AccessKey)
	get(EnvSecretKey, &cfg.Storage.SecretKey)
	get(EnvBucket, &cfg.Storage.Bucket)
	get(EnvRegion, &cfg.Storage.Region)
	get(EnvLocalDir, &cfg.Storage.LocalDir)
	get(EnvListenAddress, &cfg.Server.ListenAddress)

	var errs error
	getBool := func(name string, dst *bool) {
		var raw string
		get(name, &raw)
		if raw == "" {
			return
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "parsing %s", name))
			return
		}
		*dst = b
	}
	getBool(EnvSecure, &cfg.Storage.Secure)
	getBool(EnvSaveOverlays, &cfg.SaveOverlays)
	var level string
	get(EnvLogLevel, &level)
	if level != "" {
		parsed, err := logging.LevelFromString(level)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "parsing %s", EnvLogLevel))
		} else {
			cfg.LogLevel = parsed
		}
	}
	if errs != nil {
		return nil, errs
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
