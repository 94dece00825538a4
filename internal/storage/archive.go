// Package storage provides cold-storage backends for archived maintenance
// history.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Uploader is the subset of the S3 client used by the archive store.
type S3Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ArchiveStore uploads compressed history batches to an S3 bucket under
// the Glacier Instant Retrieval storage class. Archives are immutable once
// written; keys carry the batch timestamp so retries never overwrite data.
type S3ArchiveStore struct {
	client S3Uploader
	bucket string
	logger *slog.Logger
}

// NewS3ArchiveStore creates an archive store targeting the given bucket.
func NewS3ArchiveStore(client S3Uploader, bucket string, logger *slog.Logger) *S3ArchiveStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3ArchiveStore{
		client: client,
		bucket: bucket,
		logger: logger,
	}
}

// UploadArchive stores a gzip-compressed JSONL batch under the given key.
func (s *S3ArchiveStore) UploadArchive(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/gzip"),
		ContentEncoding: aws.String("gzip"),
		StorageClass:    s3types.StorageClassGlacierIr,
	})
	if err != nil {
		return fmt.Errorf("uploading archive %s to bucket %s: %w", key, s.bucket, err)
	}

	s.logger.DebugContext(ctx, "archive uploaded",
		slog.String("bucket", s.bucket),
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return nil
}
