package blobstore

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// Azure writes blobs to an Azure Blob Storage container, ambient-
// credentialed via an account connection string in the environment.
type Azure struct {
	client    *azblob.Client
	container string
	prefix    string
}

func newAzureFromURI(rest string) (*Azure, error) {
	var container, prefix = splitBucketPrefix(rest)

	var connStr = os.Getenv("AZURE_STORAGE_CONNECTION_STRING")
	if connStr == "" {
		return nil, fmt.Errorf("AZURE_STORAGE_CONNECTION_STRING is not set")
	}
	client, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure blob client: %w", err)
	}
	return &Azure{client: client, container: container, prefix: prefix}, nil
}

func (a *Azure) Put(ctx context.Context, path string, data []byte) (string, error) {
	var key = joinKey(a.prefix, path)
	var _, err = a.client.UploadBuffer(ctx, a.container, key, data, nil)
	if err != nil {
		return "", fmt.Errorf("uploading azure blob %q: %w", key, err)
	}
	return fmt.Sprintf("az://%s/%s", a.container, strings.TrimPrefix(key, "/")), nil
}
