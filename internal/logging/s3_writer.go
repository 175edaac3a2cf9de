package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"credit_pool/internal/models"
	"credit_pool/internal/utils"
)

// Uploader is the part of the S3 client the writer needs.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer handles writing batches of usage records to S3
type S3Writer struct {
	client  Uploader
	bucket  string
	prefix  string
	podName string
	logger  *utils.Logger
	now     func() time.Time
}

// S3Options locates the archive bucket. Endpoint is only set for
// S3-compatible stores such as MinIO.
type S3Options struct {
	Bucket   string
	Region   string
	Prefix   string
	PodName  string
	Endpoint string
}

// NewS3Writer creates a new S3 writer from the default AWS credential chain
func NewS3Writer(ctx context.Context, opts S3Options) (*S3Writer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3WriterWithClient(client, opts), nil
}

// NewS3WriterWithClient creates a writer around an existing client.
func NewS3WriterWithClient(client Uploader, opts S3Options) *S3Writer {
	return &S3Writer{
		client:  client,
		bucket:  opts.Bucket,
		prefix:  opts.Prefix,
		podName: opts.PodName,
		logger:  utils.NewLogger("s3-writer"),
		now:     time.Now,
	}
}

// Key returns the object key for a batch written at t.
// Format: usage/2025/11/30/creditpool-0-20251130-143022-123456789.jsonl
func (w *S3Writer) Key(t time.Time) string {
	return fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		w.prefix,
		t.Year(),
		t.Month(),
		t.Day(),
		w.podName,
		t.Format("20060102-150405"),
		t.Nanosecond(),
	)
}

// WriteBatch writes records to S3 as one JSON Lines object and returns its key.
func (w *S3Writer) WriteBatch(ctx context.Context, records []*models.UsagePoolRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	key := w.Key(w.now().UTC())
	buf, err := encodeLines(records)
	if err != nil {
		return "", err
	}

	_, err = w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	w.logger.Info("Wrote usage batch to S3", "key", key, "count", len(records), "bytes", buf.Len())
	return key, nil
}

func encodeLines(records []*models.UsagePoolRecord) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return nil, fmt.Errorf("failed to encode usage record %s: %w", record.ID, err)
		}
	}
	return &buf, nil
}
