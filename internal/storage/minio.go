package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var _ Provider = (*MinioProvider)(nil)

// immutableCache is sent with every image; keys never get rewritten.
const immutableCache = "public, max-age=31536000, immutable"

// publicReadPolicy lets anyone GET objects of the bucket named by %s.
const publicReadPolicy = `{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"AWS": ["*"]},
    "Action": ["s3:GetObject"],
    "Resource": ["arn:aws:s3:::%s/*"]
  }]
}`

type MinioProvider struct {
	client        *minio.Client
	publicBaseURL string
}

// NewMinioProvider connects to an S3 compatible endpoint. publicBaseURL is the
// host objects are served from, usually a CDN in front of the bucket.
func NewMinioProvider(endpoint, accessKeyID, secretAccessKey string, useSSL bool, publicBaseURL string) (*MinioProvider, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioProvider{
		client:        client,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// EnsurePublicBucket creates bucket when missing and makes its objects
// publicly readable.
func (m *MinioProvider) EnsurePublicBucket(ctx context.Context, bucket Bucket) error {
	exists, err := m.client.BucketExists(ctx, string(bucket))
	if err != nil {
		return mapMinioError(err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, string(bucket), minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, mapMinioError(err))
		}
	}
	if err := m.client.SetBucketPolicy(ctx, string(bucket), fmt.Sprintf(publicReadPolicy, bucket)); err != nil {
		return fmt.Errorf("failed to set policy on bucket %s: %w", bucket, mapMinioError(err))
	}
	return nil
}

// Put uploads in a single request when the size is known, multipart otherwise.
func (m *MinioProvider) Put(ctx context.Context, obj Object) error {
	size := obj.Size
	if size <= 0 {
		size = -1
	}

	_, err := m.client.PutObject(ctx, string(obj.Bucket), obj.Key, obj.Body, size, minio.PutObjectOptions{
		ContentType:  obj.ContentType,
		CacheControl: immutableCache,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, mapMinioError(err))
	}
	return nil
}

func (m *MinioProvider) Delete(ctx context.Context, bucket Bucket, key string) error {
	err := mapMinioError(m.client.RemoveObject(ctx, string(bucket), key, minio.RemoveObjectOptions{}))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (m *MinioProvider) PublicURL(bucket Bucket, key string) string {
	return publicURL(m.publicBaseURL, bucket, key)
}

func publicURL(base string, bucket Bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return base + "/" + string(bucket) + "/" + strings.Join(segments, "/")
}

// mapMinioError translates SDK errors into the package's sentinel errors.
func mapMinioError(err error) error {
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	return fmt.Errorf("storage provider error: %w", err)
}
