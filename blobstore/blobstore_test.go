package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalSinkWritesUnderRoot(t *testing.T) {
	var dir = t.TempDir()
	var sink = NewLocal(dir)

	url, err := sink.Put(context.Background(), "widgets/dt=2024-01-01/data.parquet", []byte("hello"))
	require.NoError(t, err)
	require.Contains(t, url, "file://")

	var data, rerr = os.ReadFile(filepath.Join(dir, "widgets/dt=2024-01-01/data.parquet"))
	require.NoError(t, rerr)
	require.Equal(t, "hello", string(data))
}

func TestNewDispatchesToLocalForBarePath(t *testing.T) {
	var dir = t.TempDir()
	sink, err := New(dir)
	require.NoError(t, err)
	_, ok := sink.(*Local)
	require.True(t, ok)
}

func TestSplitSchemeParsesURIPrefix(t *testing.T) {
	scheme, rest := splitScheme("s3://my-bucket/prefix")
	require.Equal(t, "s3", scheme)
	require.Equal(t, "my-bucket/prefix", rest)
}

func TestSplitBucketPrefix(t *testing.T) {
	bucket, prefix := splitBucketPrefix("my-bucket/a/b")
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "a/b", prefix)

	bucket2, prefix2 := splitBucketPrefix("my-bucket")
	require.Equal(t, "my-bucket", bucket2)
	require.Equal(t, "", prefix2)
}
