package storage

import (
	"context"
	"errors"
	"io"
)

// Bucket names a storage bucket.
type Bucket string

// BucketListingImages holds wizard uploads. It is publicly readable and
// served straight from the CDN.
const BucketListingImages Bucket = "listing-images"

var (
	ErrNotFound     = errors.New("storage: file not found")
	ErrAccessDenied = errors.New("storage: access denied")
	ErrUploadFailed = errors.New("storage: upload failed")
)

// Object is one file handed to Put. Size may be 0 when unknown.
type Object struct {
	Bucket      Bucket
	Key         string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Provider is an S3 style object store.
type Provider interface {
	Put(ctx context.Context, obj Object) error

	// Delete removes a file. Deleting a missing file is not an error.
	Delete(ctx context.Context, bucket Bucket, key string) error

	// PublicURL is where a file in a public bucket can be fetched from.
	PublicURL(bucket Bucket, key string) string
}
