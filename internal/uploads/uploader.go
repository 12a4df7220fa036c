package uploads

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"seller-gateway/internal/auth"
	"seller-gateway/internal/storage"
	"seller-gateway/internal/wizard"
)

const imagesPrefix = "images"

var (
	_ wizard.ImageUploader  = (*StorageUploader)(nil)
	_ wizard.ImageDiscarder = (*StorageUploader)(nil)
)

// StorageUploader writes wizard images straight into object storage instead
// of going through the marketplace API.
type StorageUploader struct {
	storage storage.Provider
	bucket  storage.Bucket
	logger  *slog.Logger
	now     func() time.Time
	nonce   func() string
}

func NewStorageUploader(provider storage.Provider, bucket storage.Bucket, logger *slog.Logger) *StorageUploader {
	return &StorageUploader{
		storage: provider,
		bucket:  bucket,
		logger:  logger,
		now:     time.Now,
		nonce:   uuid.NewString,
	}
}

func (u *StorageUploader) UploadImage(ctx context.Context, file wizard.File, draftID int64) (string, error) {
	userID, err := auth.GetUserID(ctx)
	if err != nil {
		return "", fmt.Errorf("upload needs an authenticated user: %w", err)
	}

	ext := extension(file)
	if ext == "" {
		return "", fmt.Errorf("cannot determine extension for %q", file.Name)
	}

	draft := ""
	if draftID > 0 {
		draft = strconv.FormatInt(draftID, 10)
	}
	key := u.storageKey(userID, draft, file.Name, ext)

	err = u.storage.Put(ctx, storage.Object{
		Bucket:      u.bucket,
		Key:         key,
		ContentType: file.ContentType,
		Size:        int64(len(file.Data)),
		Body:        bytes.NewReader(file.Data),
	})
	if err != nil {
		return "", err
	}

	u.logger.InfoContext(ctx, "Stored listing image", "key", key, "size", len(file.Data))
	return u.storage.PublicURL(u.bucket, key), nil
}

// DiscardImage deletes an image this uploader stored. URLs pointing anywhere
// else are ignored.
func (u *StorageUploader) DiscardImage(ctx context.Context, imageURL string) error {
	base := u.storage.PublicURL(u.bucket, "")
	escaped, ok := strings.CutPrefix(imageURL, base)
	if !ok || escaped == "" {
		return nil
	}
	key, err := url.PathUnescape(escaped)
	if err != nil {
		return fmt.Errorf("invalid image url %q: %w", imageURL, err)
	}
	return u.storage.Delete(ctx, u.bucket, key)
}

// storageKey follows YYYY/MM/DD/userID/draftID/images/<hash>.ext. The nonce
// keeps two uploads of the same filename from overwriting each other.
func (u *StorageUploader) storageKey(userID, draftID, filename, ext string) string {
	now := u.now().UTC()
	// Create the date prefix: 2025/12/12
	datePrefix := fmt.Sprintf("%d/%02d/%02d", now.Year(), now.Month(), now.Day())

	// path.Join automatically removes double slashes (//) and empty strings
	return path.Join(datePrefix, userID, draftID, imagesPrefix, filenameHash(filename+u.nonce())+ext)
}

func filenameHash(filename string) string {
	sum := sha256.Sum256([]byte(filename))
	return fmt.Sprintf("%x", sum)
}

// extension prefers the declared content type, then the filename, then sniffing.
func extension(file wizard.File) string {
	if m := mimetype.Lookup(strings.ToLower(file.ContentType)); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if ext := strings.ToLower(filepath.Ext(file.Name)); ext != "" {
		return ext
	}
	if len(file.Data) > 0 {
		return mimetype.Detect(file.Data).Extension()
	}
	return ""
}
