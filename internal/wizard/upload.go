package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

const msgUploadFailed = "Image upload failed. Please try again."

// screen applies the per-file checks that run before any network call.
// Files that fail are dropped; the first failure message is returned.
func (p Policy) screen(files []File) ([]File, string) {
	accepted := make([]File, 0, len(files))
	firstErr := ""
	for _, f := range files {
		msg := p.check(f)
		if msg == "" {
			accepted = append(accepted, f)
			continue
		}
		if firstErr == "" {
			firstErr = msg
		}
	}
	return accepted, firstErr
}

func (p Policy) check(f File) string {
	mimeType, _, _ := strings.Cut(f.ContentType, ";")
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !slices.Contains(p.AllowedMimeTypes, mimeType) {
		return fmt.Sprintf("%s is not a supported image type", displayName(f))
	}
	if p.MaxFileSize > 0 && f.size() > p.MaxFileSize {
		return fmt.Sprintf("%s is larger than %s", displayName(f), formatBytes(p.MaxFileSize))
	}
	return ""
}

func (p Policy) tooManyMessage() string {
	return fmt.Sprintf("You can upload at most %d images", p.MaxImages)
}

func displayName(f File) string {
	if f.Name == "" {
		return "File"
	}
	return f.Name
}

func formatBytes(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%.1f MB", float64(n)/mb)
}

// uploadBatch uploads files concurrently and returns the URLs in submission
// order. failed reports whether any upload was rejected; what is kept in that
// case depends on the failure policy.
func uploadBatch(ctx context.Context, up ImageUploader, files []File, draftID int64, p Policy, logger *slog.Logger) (urls []string, failed bool) {
	results := make([]string, len(files))

	var g errgroup.Group
	if p.UploadConcurrency > 0 {
		g.SetLimit(p.UploadConcurrency)
	}
	for i, f := range files {
		g.Go(func() error {
			url, err := up.UploadImage(ctx, f, draftID)
			if err != nil {
				logger.WarnContext(ctx, "Image upload failed", "file", f.Name, "draft_id", draftID, "error", err)
				return err
			}
			results[i] = url
			return nil
		})
	}

	if err := g.Wait(); err == nil {
		return results, false
	}

	kept := make([]string, 0, len(results))
	for _, url := range results {
		if url != "" {
			kept = append(kept, url)
		}
	}

	if p.UploadFailure == KeepSuccessful {
		return kept, true
	}

	if d, ok := up.(ImageDiscarder); ok {
		for _, url := range kept {
			if err := d.DiscardImage(ctx, url); err != nil {
				logger.WarnContext(ctx, "Failed to discard image from failed batch", "url", url, "error", err)
			}
		}
	}
	return nil, true
}
