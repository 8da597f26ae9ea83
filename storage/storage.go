// Package storage reads input images and persists calibration results in an object store.
package storage

import (
	"context"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// ErrObjectNotFound is returned by Get when no object exists under the key.
var ErrObjectNotFound = errors.New("object not found")

// Content types used for stored objects.
const (
	ContentTypeJSON = "application/json"
	ContentTypePNG  = "image/png"
)

// ObjectStore is a flat key value store of byte blobs. Keys use "/" as separator.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Key joins parts into an object key.
func Key(parts ...string) string {
	return path.Join(parts...)
}

// CleanKey validates a key and returns it without a leading slash.
func CleanKey(key string) (string, error) {
	cleaned := strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "" || cleaned == "" || cleaned == "." {
		return "", errors.Errorf("invalid object key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", errors.Errorf("object key %q escapes the store", key)
		}
	}
	return cleaned, nil
}
