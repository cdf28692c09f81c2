package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCS writes blobs to a Google Cloud Storage bucket, ambient-credentialed
// through Application Default Credentials.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

func newGCSFromURI(rest string) (*GCS, error) {
	var bucket, prefix = splitBucketPrefix(rest)
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *GCS) Put(ctx context.Context, path string, data []byte) (string, error) {
	var key = joinKey(g.prefix, path)
	var w = g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return "", fmt.Errorf("writing gcs object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing gcs object %q: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, key), nil
}
