package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/emilythestrangee/forum/backend/internal/config"
)

const MaxUploadSize = 5 << 20

var (
	ErrDisabled        = errors.New("uploads are not configured")
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrTooLarge        = errors.New("file too large")
)

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Uploader stores user files and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, prefix, contentType string, r io.Reader, size int64) (string, error)
}

// ObjectName validates the upload and returns the key it is stored under.
func ObjectName(prefix, contentType string, size int64) (string, error) {
	ext, ok := extensions[contentType]
	if !ok {
		return "", ErrUnsupportedType
	}
	if size <= 0 || size > MaxUploadSize {
		return "", ErrTooLarge
	}
	day := time.Now().UTC().Format("2006/01/02")
	return path.Join(prefix, day, uuid.NewString()+ext), nil
}

type MinIO struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMinIO connects to the S3-compatible endpoint and creates the bucket if
// it does not exist yet.
func NewMinIO(ctx context.Context, cfg config.Config) (*MinIO, error) {
	client, err := minio.New(cfg.MinIOEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
		Secure: cfg.MinIOUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.MinIOBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinIOBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	publicURL := cfg.MinIOPublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.MinIOUseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.MinIOEndpoint, cfg.MinIOBucket)
	}

	return &MinIO{client: client, bucket: cfg.MinIOBucket, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (m *MinIO) Upload(ctx context.Context, prefix, contentType string, r io.Reader, size int64) (string, error) {
	key, err := ObjectName(prefix, contentType, size)
	if err != nil {
		return "", err
	}
	_, err = m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return m.publicURL + "/" + key, nil
}

// Disabled rejects every upload.
type Disabled struct{}

func (Disabled) Upload(context.Context, string, string, io.Reader, int64) (string, error) {
	return "", ErrDisabled
}
