package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/camcal/logging"
)

// MinioConfig configures an S3 compatible bucket, such as Cloudflare R2.
type MinioConfig struct {
	// Endpoint is a host[:port] or a URL whose scheme overrides Secure.
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
}

// MinioStore keeps objects in an S3 compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger logging.Logger
}

// parseEndpoint splits an endpoint URL into the host minio expects and the TLS setting.
func parseEndpoint(endpoint string, secure bool) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		return strings.TrimSuffix(endpoint, "/"), secure, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, errors.Wrapf(err, "parsing endpoint %q", endpoint)
	}
	switch u.Scheme {
	case "https":
		secure = true
	case "http":
		secure = false
	default:
		return "", false, errors.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", false, errors.Errorf("endpoint %q has no host", endpoint)
	}
	return u.Host, secure, nil
}

// NewMinioStore creates a client for the configured bucket. No request is made until the store
// is used.
func NewMinioStore(cfg MinioConfig, logger logging.Logger) (*MinioStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	host, secure, err := parseEndpoint(cfg.Endpoint, cfg.Secure)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating object store client")
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Get downloads the object stored under key.
func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	name, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapError(err, key)
	}
	defer utils.UncheckedErrorFunc(obj.Close)
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrapError(err, key)
	}
	return data, nil
}

// Put uploads data under key.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	name, err := CleanKey(key)
	if err != nil {
		return err
	}
	info, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return errors.Wrapf(err, "uploading %s/%s", s.bucket, name)
	}
	s.logger.Debugw("uploaded object", "bucket", s.bucket, "key", name, "bytes", info.Size)
	return nil
}

func (s *MinioStore) wrapError(err error, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return errors.Wrapf(ErrObjectNotFound, "%s/%s", s.bucket, key)
	}
	return errors.Wrapf(err, "downloading %s/%s", s.bucket, key)
}
