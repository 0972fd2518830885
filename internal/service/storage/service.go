package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"carelink-backend/pkg/errors"
	"carelink-backend/pkg/logger"
)

// Config holds MinIO connection configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MaxAttachmentSize bounds uploads. Care plans and photos, not videos.
const MaxAttachmentSize = 25 << 20

// presignedTTL is how long a download link stays valid.
const presignedTTL = 15 * time.Minute

// Service stores chat attachments in MinIO, keyed per conversation.
type Service struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

// NewService creates the MinIO client and ensures the bucket exists.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Service{
		client: client,
		bucket: cfg.Bucket,
		log:    logger.Named("storage"),
	}, nil
}

// Upload stores one attachment and returns its object key.
func (s *Service) Upload(ctx context.Context, conversationID uuid.UUID, filename, contentType string, size int64, reader io.Reader) (string, error) {
	if size <= 0 || size > MaxAttachmentSize {
		return "", errors.BadRequest("attachment size out of range")
	}

	objectKey := fmt.Sprintf("attachments/%s/%s%s", conversationID, uuid.New(), path.Ext(filename))

	info, err := s.client.PutObject(ctx, s.bucket, objectKey, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeStorage, "failed to store attachment", err)
	}

	s.log.Info("attachment stored",
		zap.String("object_key", objectKey),
		zap.Int64("size", info.Size))
	return objectKey, nil
}

// DownloadURL returns a short-lived presigned URL for one attachment.
func (s *Service) DownloadURL(ctx context.Context, objectKey string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, presignedTTL, url.Values{})
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeStorage, "failed to presign attachment", err)
	}
	return u.String(), nil
}

// Delete removes one attachment.
func (s *Service) Delete(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(errors.ErrCodeStorage, "failed to delete attachment", err)
	}
	return nil
}
