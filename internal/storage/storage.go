// Package storage provides the object storage backends used to archive
// and restore run directories.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts the backend an archive is mirrored to.
// Implementations include S3 and a local filesystem root.
type ObjectStorage interface {
	// Upload copies a local file to objectPath in storage.
	Upload(ctx context.Context, localPath, objectPath string) error

	// UploadMultipart uploads a large file in parts where the backend
	// supports it, falling back to Upload below the part threshold.
	// Returns the ETag of the stored object.
	UploadMultipart(ctx context.Context, localPath, objectPath string) (string, error)

	// Download copies an object to localPath on the local filesystem.
	// Returns ErrObjectNotFound if the object does not exist.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix,
	// slash-separated, in lexical order. Restore walks these.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// Threshold is the file size in bytes above which uploads switch
	// to multipart. Files at or below it use a single PutObject.
	Threshold int64
	// PartSize is the size of each part in bytes.
	PartSize int64
	// Concurrency is the number of concurrent part uploads.
	Concurrency int
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		Threshold:   32 * 1024 * 1024,
		PartSize:    5 * 1024 * 1024,
		Concurrency: 5,
	}
}
