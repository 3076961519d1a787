package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tonearm/internal/config"
	"tonearm/internal/logging"
	"tonearm/internal/services"
	"tonearm/internal/stage"
)

// S3 publishes artifacts to an S3-compatible bucket and hands out presigned
// GET URLs.
type S3 struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewS3 connects to the configured endpoint. No request is made until the
// first upload or health check.
func NewS3(cfg config.Storage, logger *slog.Logger) (*S3, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "s3 endpoint and bucket required", nil)
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "create s3 client", err)
	}
	return &S3{
		client: client,
		bucket: cfg.Bucket,
		logger: logging.NewComponentLogger(logger, "publish-s3"),
	}, nil
}

// Store uploads obj under its key, overwriting any previous object.
func (s *S3) Store(ctx context.Context, obj stage.Object) (string, error) {
	if !validKey(obj.Key) {
		return "", services.Wrap(services.ErrMalformedInput, stageName, "store", fmt.Sprintf("invalid object key %q", obj.Key), nil)
	}
	file, err := os.Open(obj.Path)
	if err != nil {
		return "", services.Wrap(services.ErrTransientIO, stageName, "store", "open encoded artifact", err)
	}
	defer file.Close()
	size := obj.Size
	if size <= 0 {
		info, err := file.Stat()
		if err != nil {
			return "", services.Wrap(services.ErrTransientIO, stageName, "store", "stat encoded artifact", err)
		}
		size = info.Size()
	}

	info, err := s.client.PutObject(ctx, s.bucket, obj.Key, file, size, minio.PutObjectOptions{
		ContentType: obj.ContentType,
	})
	if err != nil {
		return "", classifyS3(ctx, "store", err)
	}
	s.logger.Debug("artifact uploaded",
		logging.String("bucket", s.bucket),
		logging.String("key", obj.Key),
		logging.Int64("size_bytes", info.Size),
	)
	return obj.Key, nil
}

// IssueURL presigns a GET for location valid for ttl.
func (s *S3) IssueURL(ctx context.Context, location string, ttl time.Duration) (string, time.Time, error) {
	if !validKey(location) {
		return "", time.Time{}, services.Wrap(services.ErrMalformedInput, stageName, "issue url", fmt.Sprintf("invalid location %q", location), nil)
	}
	if _, err := s.client.StatObject(ctx, s.bucket, location, minio.StatObjectOptions{}); err != nil {
		return "", time.Time{}, classifyS3(ctx, "issue url", err)
	}
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", location))
	issued := time.Now().UTC()
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, location, ttl, params)
	if err != nil {
		return "", time.Time{}, classifyS3(ctx, "issue url", err)
	}
	return presigned.String(), issued.Add(ttl), nil
}

// HealthCheck verifies the bucket exists and is reachable.
func (s *S3) HealthCheck(ctx context.Context) stage.Health {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return stage.Unhealthy(stageName, fmt.Sprintf("bucket %s unreachable: %v", s.bucket, err))
	}
	if !exists {
		return stage.Unhealthy(stageName, fmt.Sprintf("bucket %s does not exist", s.bucket))
	}
	return stage.Healthy(stageName)
}

func classifyS3(ctx context.Context, operation string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, stageName, operation, "storage request timed out", err)
		}
		return ctxErr
	}
	resp := minio.ToErrorResponse(err)
	return services.Wrap(s3Marker(resp), stageName, operation, "storage request failed", err)
}

func s3Marker(resp minio.ErrorResponse) error {
	switch resp.Code {
	case "NoSuchKey":
		return services.ErrNotFound
	case "NoSuchBucket", "InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidBucketName", "AccessDenied":
		return services.ErrConfiguration
	case "QuotaExceeded", "XMinioStorageFull", "EntityTooLarge", "XMinioAdminBucketQuotaExceeded":
		return services.ErrQuotaExceeded
	case "SlowDown", "SlowDownWrite", "SlowDownRead", "RequestLimitExceeded":
		return services.ErrRateLimited
	case "RequestTimeout":
		return services.ErrTimeout
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return services.ErrNotFound
	case http.StatusForbidden:
		return services.ErrConfiguration
	case http.StatusInsufficientStorage:
		return services.ErrQuotaExceeded
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return services.ErrRateLimited
	}
	return services.ErrTransientIO
}
