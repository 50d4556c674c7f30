// Package image maintains the local cache of base cloud images. Images are
// downloaded once into a shared directory keyed by the distribution's image
// filename; interrupted transfers leave a .part marker that is resumed on
// the next invocation via an HTTP Range request.
package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/fkooman/kvm-install-vm/internal/distro"
)

// Fetcher downloads base images into a cache directory.
type Fetcher struct {
	// Client is the HTTP client used for downloads. Defaults to
	// http.DefaultClient.
	Client *http.Client

	// Log receives download progress detail.
	Log logr.Logger
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// EnsureImage makes sure the base image for spec exists under dir and
// returns its local path. An already cached image is returned without any
// network transfer. A failed download is fatal; the partial file is kept
// so the next invocation resumes it.
func (f *Fetcher) EnsureImage(ctx context.Context, spec distro.Spec, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create image directory %s: %w", dir, err)
	}

	dest := filepath.Join(dir, spec.ImageFile)
	if _, err := os.Stat(dest); err == nil {
		f.Log.Info("image already cached", "path", dest)
		return dest, nil
	}

	if err := f.download(ctx, spec.ImageURL(), dest); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", spec.ImageURL(), err)
	}
	return dest, nil
}

// download fetches url into dest, resuming dest+".part" if present.
func (f *Fetcher) download(ctx context.Context, url, dest string) error {
	partPath := dest + ".part"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		f.Log.Info("resuming partial download", "offset", offset)
	}

	resp, err := f.client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file is no longer usable against this server; start over.
		if err := os.Remove(partPath); err != nil {
			return fmt.Errorf("failed to discard stale partial download: %w", err)
		}
		return f.download(ctx, url, dest)
	default:
		return fmt.Errorf("unexpected HTTP status %s", resp.Status)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		// Server ignored the Range header or this is a fresh download.
		offset = 0
		flags |= os.O_TRUNC
	}

	out, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open partial file: %w", err)
	}

	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("download interrupted after %d bytes: %w", offset+n, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close partial file: %w", closeErr)
	}

	if err := os.Rename(partPath, dest); err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}

	f.Log.Info("image downloaded", "path", dest, "bytes", offset+n)
	return nil
}
