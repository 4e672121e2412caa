package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultPresignTTL bounds the validity of presigned document URLs
const DefaultPresignTTL = 10 * time.Minute

// ErrNotFound is returned for objects that do not exist
var ErrNotFound = errors.New("document not found in store")

// Config holds the object store connection settings
type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Region     string
	Bucket     string
	UseSSL     bool
	PresignTTL time.Duration
	Logger     *slog.Logger
}

// Store keeps document payloads in an S3 compatible bucket
type Store struct {
	client     *minio.Client
	bucket     string
	presignTTL time.Duration
	logger     *slog.Logger
}

// Saved describes a stored document
type Saved struct {
	Key string
	URI string
	// New is false when the object already existed and was not rewritten
	New bool
}

// New connects to the object store described by cfg
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return NewWithClient(client, cfg.Bucket, cfg.PresignTTL, cfg.Logger), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *minio.Client, bucket string, presignTTL time.Duration, logger *slog.Logger) *Store {
	if presignTTL <= 0 {
		presignTTL = DefaultPresignTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, bucket: bucket, presignTTL: presignTTL, logger: logger}
}

// Save uploads data under key unless an object with that key already
// exists.
func (s *Store) Save(ctx context.Context, key string, data []byte, contentType string) (*Saved, error) {
	saved := &Saved{Key: key, URI: s.objectURL(key)}

	exists, err := s.exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return saved, nil
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", key, err)
	}
	saved.New = true
	s.logger.Debug("document stored", "bucket", s.bucket, "key", key, "size", len(data), "content_type", contentType)
	return saved, nil
}

// PresignedURL returns a time limited GET URL for key
func (s *Store) PresignedURL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Ping checks that the bucket is reachable
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("object store unreachable: %w", err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", key, err)
}

func (s *Store) objectURL(key string) string {
	u := *s.client.EndpointURL()
	u.Path = "/" + s.bucket + "/" + key
	return u.String()
}

// ObjectKey names the object for one retrieved document:
// <cxId>/<patientId>/<cxId>_<patientId>_<docId><ext>. The extension is
// derived from the content type when one is registered.
func ObjectKey(cxID, patientID, docID, contentType string) string {
	docID = strings.NewReplacer("/", "_", ":", "_").Replace(docID)
	name := fmt.Sprintf("%s_%s_%s", cxID, patientID, docID)
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		name += exts[0]
	}
	return fmt.Sprintf("%s/%s/%s", cxID, patientID, name)
}
