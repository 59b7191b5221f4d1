// Package archive implements SPEC_FULL.md §4.3.8: before a terminal order
// is evicted past the retention horizon, its full record is serialized to
// JSON and written to object storage for audit. Grounded on the teacher's
// internal/wasm.ModuleLoader for MinIO client setup, inverted from read
// (download a module) to write (upload an order record).
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/atomicswap/resolver/pkg/swap"
)

// Config holds MinIO/S3 connection configuration.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store writes terminal order records to object storage.
type Store struct {
	cfg    Config
	client *minio.Client
	logger *slog.Logger
}

// NewStore constructs a Store and verifies the target bucket exists,
// creating it if not.
func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Store{cfg: cfg, client: client, logger: logger.With("component", "archive")}, nil
}

// record is the archived JSON shape: the order plus both HTLC mirrors, the
// way spec §4.3.8 describes ("order row, both HTLC mirrors").
type record struct {
	Order  swap.CrossChainOrder `json:"order"`
	Source *swap.HTLCMirror     `json:"source,omitempty"`
	Target *swap.HTLCMirror     `json:"target,omitempty"`
}

// Archive implements resolver.Archiver: uploads orders/<orderHash>.json.
func (s *Store) Archive(ctx context.Context, order swap.CrossChainOrder, source, target *swap.HTLCMirror) error {
	data, err := json.Marshal(record{Order: order, Source: source, Target: target})
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}

	objectKey := fmt.Sprintf("orders/%x.json", order.OrderHash)
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, objectKey, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put archive object %s: %w", objectKey, err)
	}

	s.logger.Debug("archived terminal order", "order", fmt.Sprintf("%x", order.OrderHash), "key", objectKey)
	return nil
}
