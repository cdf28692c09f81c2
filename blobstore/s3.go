package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3 writes blobs to an S3 or S3-compatible bucket (e.g. Cloudflare R2 via
// a custom endpoint), ambient-credentialed through the AWS SDK's standard
// provider chain.
type S3 struct {
	client *s3.S3
	bucket string
	prefix string
}

func newS3FromURI(rest string, isR2 bool) (*S3, error) {
	var bucket, prefix = splitBucketPrefix(rest)

	var cfg = aws.NewConfig().WithRegion(envOr("AWS_REGION", "us-east-1"))
	if isR2 {
		if endpoint := os.Getenv("R2_ENDPOINT_URL"); endpoint != "" {
			cfg = cfg.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
		}
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating S3 session: %w", err)
	}
	return &S3{client: s3.New(sess), bucket: bucket, prefix: prefix}, nil
}

func (s *S3) Put(ctx context.Context, path string, data []byte) (string, error) {
	var key = joinKey(s.prefix, path)
	var _, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("putting s3 object %q: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func splitBucketPrefix(rest string) (bucket, prefix string) {
	var parts = strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func joinKey(prefix, path string) string {
	if prefix == "" {
		return path
	}
	return strings.TrimSuffix(prefix, "/") + "/" + path
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
