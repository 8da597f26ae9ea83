package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
)

// Read reads a JSON config file, substituting ${VAR} references from the environment first.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %q", filePath)
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file
// the reader originated from. Unset fields keep their defaults.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	cfg := Default()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", originalPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %q", originalPath)
	}
	return cfg, nil
}
