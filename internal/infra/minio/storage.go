package minio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Storage struct {
	client          *miniogo.Client
	artifactBucket  string
	recordingBucket string
	publicBaseURL   string
}

type StorageConfig struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	UseSSL          bool
	ArtifactBucket  string
	RecordingBucket string
	PublicBaseURL   string
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Storage{
		client:          client,
		artifactBucket:  cfg.ArtifactBucket,
		recordingBucket: cfg.RecordingBucket,
		publicBaseURL:   strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.artifactBucket, s.recordingBucket} {
		if bucket == "" {
			continue
		}
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// Ping checks that the artifact bucket is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.artifactBucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s missing", s.artifactBucket)
	}
	return nil
}

// Upload streams the file at localPath into the artifact bucket under key and
// returns its public URL, which depends on key alone.
func (s *Storage) Upload(ctx context.Context, localPath string, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", entity.ErrUploadFailed, localPath, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %w", entity.ErrUploadFailed, localPath, err)
	}

	_, err = s.client.PutObject(ctx, s.artifactBucket, key, file, stat.Size(), miniogo.PutObjectOptions{
		ContentType:        ContentTypeFor(key),
		ContentDisposition: "inline",
	})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %w", entity.ErrUploadFailed, key, err)
	}
	return s.PublicURL(key), nil
}

func (s *Storage) PublicURL(key string) string {
	return s.publicBaseURL + "/" + key
}

func ContentTypeFor(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

func (s *Storage) StageRecording(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.recordingBucket, key, reader, size, miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("stage recording: %w", err)
	}
	return nil
}

func (s *Storage) OpenRecording(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.recordingBucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("open recording: %w", err)
	}
	return obj, nil
}

func (s *Storage) RemoveRecording(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.recordingBucket, key, miniogo.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove recording: %w", err)
	}
	return nil
}
