package logging

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit_pool/internal/models"
)

// Integration tests against MinIO. Start one with:
//
//   docker run -d --name minio-test -p 9000:9000 \
//     -e MINIO_ROOT_USER=minioadmin -e MINIO_ROOT_PASSWORD=minioadmin \
//     minio/minio server /data
//
// Then run:
//   MINIO_ENDPOINT=http://localhost:9000 go test ./internal/logging -run TestS3Integration

const testBucketName = "test-usage-archive"

func minioClient(t *testing.T) *s3.Client {
	t.Helper()
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}
	accessKey := getenv("MINIO_ACCESS_KEY", "minioadmin")
	secretKey := getenv("MINIO_SECRET_KEY", "minioadmin")

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.ListBuckets(ctx, &s3.ListBucketsInput{}); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	if _, err := client.HeadBucket(context.Background(), &s3.HeadBucketInput{Bucket: aws.String(testBucketName)}); err != nil {
		_, err = client.CreateBucket(context.Background(), &s3.CreateBucketInput{Bucket: aws.String(testBucketName)})
		require.NoError(t, err)
	}
	return client
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestS3Integration_BatchSink(t *testing.T) {
	client := minioClient(t)
	ctx := context.Background()

	w := NewS3WriterWithClient(client, S3Options{Bucket: testBucketName, Prefix: "it/", PodName: "test-pod"})
	sink := NewBatchSink(w, BatchSinkConfig{BufferSize: 10, FlushSize: 100, FlushInterval: time.Hour})

	records := []*models.UsagePoolRecord{usageRecord("gpt-4"), usageRecord("claude-3"), usageRecord("gpt-4o")}
	for _, rec := range records {
		require.NoError(t, sink.Enqueue(rec))
	}
	require.NoError(t, sink.Shutdown(ctx))

	list, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(testBucketName),
		Prefix: aws.String("it/"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, list.Contents)

	var found int
	for _, obj := range list.Contents {
		out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(testBucketName), Key: obj.Key})
		require.NoError(t, err)
		body, err := io.ReadAll(out.Body)
		out.Body.Close()
		require.NoError(t, err)
		for _, rec := range decodeLines(t, body) {
			for _, want := range records {
				if rec.ID == want.ID {
					found++
				}
			}
		}

		_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(testBucketName), Key: obj.Key})
		assert.NoError(t, err)
	}
	assert.Equal(t, len(records), found)
}
