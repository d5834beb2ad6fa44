// Package store persists normalized documents and per-repository
// manifests in S3-compatible object storage.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/raphaelgruber/repokb-go/internal/models"
)

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store wraps a bucket with the repository document layout:
//
//	repositories/<repo>/manifest.json
//	repositories/<repo>/documents/<id>.json
type Store struct {
	client *minio.Client
	bucket string
	log    *slog.Logger
}

// New connects to object storage and creates the bucket if missing.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Info("created storage bucket", "bucket", cfg.Bucket)
	}

	return &Store{client: client, bucket: cfg.Bucket, log: log}, nil
}

func documentKey(repoName, docID string) string {
	return fmt.Sprintf("repositories/%s/documents/%s.json", repoName, docID)
}

func manifestKey(repoName string) string {
	return fmt.Sprintf("repositories/%s/manifest.json", repoName)
}

// UploadDocuments writes each document as one JSON object. Document IDs
// are deterministic, so re-uploads overwrite in place.
func (s *Store) UploadDocuments(ctx context.Context, repoName string, docs []models.Document) error {
	for _, doc := range docs {
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", doc.ID, err)
		}
		key := documentKey(repoName, doc.ID)
		_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)),
			minio.PutObjectOptions{ContentType: "application/json"})
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
	}
	return nil
}

// WriteManifest records the repository summary after a successful
// ingestion.
func (s *Store) WriteManifest(ctx context.Context, info models.RepositoryInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	key := manifestKey(info.RepoName)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("write manifest %s: %w", key, err)
	}
	return nil
}

// ListRepositories reads every repository manifest in the bucket.
func (s *Store) ListRepositories(ctx context.Context) ([]models.RepositoryInfo, error) {
	var repos []models.RepositoryInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    "repositories/",
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list repositories: %w", obj.Err)
		}
		if !strings.HasSuffix(obj.Key, "/manifest.json") {
			continue
		}
		info, err := s.readManifest(ctx, obj.Key)
		if err != nil {
			s.log.Warn("skipping unreadable manifest", "key", obj.Key, "error", err)
			continue
		}
		repos = append(repos, info)
	}
	return repos, nil
}

func (s *Store) readManifest(ctx context.Context, key string) (models.RepositoryInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return models.RepositoryInfo{}, err
	}
	defer obj.Close()

	var info models.RepositoryInfo
	if err := json.NewDecoder(obj).Decode(&info); err != nil {
		return models.RepositoryInfo{}, err
	}
	return info, nil
}

// DeleteRepository removes every object under the repository's prefix,
// manifest included. Used when a failed job cleans up partial uploads.
func (s *Store) DeleteRepository(ctx context.Context, repoName string) error {
	prefix := fmt.Sprintf("repositories/%s/", repoName)
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	errCh := s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{})
	var firstErr error
	for e := range errCh {
		if e.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete %s: %w", e.ObjectName, e.Err)
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return nil
}
