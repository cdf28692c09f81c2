// Package blobstore implements the blob sink abstraction behind C10's
// writer: write(path, bytes) -> url, with concrete
// implementations for the local filesystem, S3-compatible stores, GCS and
// Azure Blob. Credentials are read from ambient environment per-SDK
// defaults, never accepted as spec fields.
package blobstore

import "context"

// Sink stores a blob at path and returns a URL a reader can use to fetch
// it back.
type Sink interface {
	Put(ctx context.Context, path string, data []byte) (string, error)
}

// New resolves a destination URI's scheme to a concrete Sink:
// "s3://", "r2://" -> S3, "gs://" -> GCS, "az://" -> Azure, anything else
// (or a bare path) -> Local rooted at that path.
func New(destination string) (Sink, error) {
	scheme, rest := splitScheme(destination)
	switch scheme {
	case "s3", "r2":
		return newS3FromURI(rest, scheme == "r2")
	case "gs":
		return newGCSFromURI(rest)
	case "az":
		return newAzureFromURI(rest)
	default:
		return NewLocal(destination), nil
	}
}

func splitScheme(uri string) (scheme, rest string) {
	for i := 0; i+2 < len(uri); i++ {
		if uri[i] == ':' && uri[i+1] == '/' && uri[i+2] == '/' {
			return uri[:i], uri[i+3:]
		}
	}
	return "", uri
}
