package storage

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	billy "gopkg.in/src-d/go-billy.v4"
	"gopkg.in/src-d/go-billy.v4/memfs"
	"gopkg.in/src-d/go-billy.v4/osfs"

	"go.viam.com/camcal/logging"
)

// FSStore keeps objects as files of a billy filesystem.
type FSStore struct {
	fs     billy.Filesystem
	logger logging.Logger
}

// NewFSStore returns a store over the given filesystem.
func NewFSStore(fs billy.Filesystem, logger logging.Logger) *FSStore {
	return &FSStore{fs: fs, logger: logger}
}

// NewLocalStore returns a store rooted at dir on the local disk.
func NewLocalStore(dir string, logger logging.Logger) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "creating store directory %q", dir)
	}
	return NewFSStore(osfs.New(dir), logger), nil
}

// NewMemoryStore returns an in memory store.
func NewMemoryStore(logger logging.Logger) *FSStore {
	return NewFSStore(memfs.New(), logger)
}

// Get returns the file contents stored under key.
func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrObjectNotFound, key)
		}
		return nil, errors.Wrapf(err, "opening %q", key)
	}
	defer utils.UncheckedErrorFunc(f.Close)
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", key)
	}
	return data, nil
}

// Put writes data under key, replacing any existing object. The content type is not kept.
func (s *FSStore) Put(ctx context.Context, key string, data []byte, contentType string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := CleanKey(key)
	if err != nil {
		return err
	}
	if dir := path.Dir(name); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o750); err != nil {
			return errors.Wrapf(err, "creating directory for %q", key)
		}
	}
	f, err := s.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return errors.Wrapf(err, "creating %q", key)
	}
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "closing %q", key)
		}
	}()
	if _, err := f.Write(data); err != nil {
		return errors.Wrapf(err, "writing %q", key)
	}
	s.logger.Debugw("stored object", "key", name, "bytes", len(data), "content_type", contentType)
	return nil
}
