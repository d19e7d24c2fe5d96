package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"postforge/internal/config"
	"postforge/internal/services"
)

// S3 talks to any S3-compatible service (Cloudflare R2, MinIO, AWS S3).
type S3 struct {
	client  *minio.Client
	bucket  string
	timeout time.Duration
}

// OpenS3 creates a client and verifies that the bucket is reachable.
func OpenS3(ctx context.Context, cfg config.Storage) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "open", "create s3 client", err)
	}
	store := &S3{
		client:  client,
		bucket:  cfg.Bucket,
		timeout: time.Duration(cfg.RequestTimeout) * time.Second,
	}

	checkCtx, cancel := store.requestContext(ctx)
	defer cancel()
	exists, err := client.BucketExists(checkCtx, cfg.Bucket)
	if err != nil {
		return nil, classifyS3Error("open", cfg.Bucket, err)
	}
	if !exists {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "open",
			fmt.Sprintf("bucket %q does not exist", cfg.Bucket), nil)
	}
	return store, nil
}

func (s *S3) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, classifyS3Error("list", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *S3) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyS3Error("read", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyS3Error("read", key, err)
	}
	return data, nil
}

func (s *S3) ReadJSON(ctx context.Context, key string) (Payload, error) {
	data, err := s.ReadBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodePayload(key, data)
}

func (s *S3) WriteJSON(ctx context.Context, key string, payload Payload) error {
	data, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	return s.WriteBinary(ctx, key, data, ContentTypeJSON)
}

func (s *S3) WriteBinary(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return classifyS3Error("write", key, err)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classifyS3Error("delete", key, err)
	}
	return nil
}

func (s *S3) Close() error { return nil }

// classifyS3Error maps S3 error responses onto the service markers.
func classifyS3Error(op, key string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "objectstore", op, key, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return services.Wrap(services.ErrTransient, "objectstore", op, key, err)
	}

	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "objectstore", op, key, err)
	case resp.Code == "NoSuchBucket", resp.Code == "AccessDenied", resp.Code == "InvalidAccessKeyId",
		resp.Code == "SignatureDoesNotMatch", resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "objectstore", op, key, err)
	case resp.Code == "SlowDown", resp.StatusCode == http.StatusTooManyRequests:
		return services.Wrap(services.ErrRateLimited, "objectstore", op, key, err)
	default:
		return services.Wrap(services.ErrTransient, "objectstore", op, key, err)
	}
}
