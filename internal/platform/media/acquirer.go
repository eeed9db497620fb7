// Package media downloads ad creatives and turns them into frames for visual
// analysis.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/pipeline"
	"github.com/phrazzld/adlens/internal/platform/logger"
)

// DefaultMaxBytes caps a single download.
const DefaultMaxBytes int64 = 512 << 20

var (
	// ErrUnsupportedURL is returned for locators that are not http(s).
	ErrUnsupportedURL = errors.New("unsupported media URL")

	// ErrTooLarge is returned when a download exceeds the size cap.
	ErrTooLarge = errors.New("media exceeds size limit")
)

// HTTPAcquirer implements pipeline.MediaAcquirer over plain HTTP GETs.
type HTTPAcquirer struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

var _ pipeline.MediaAcquirer = (*HTTPAcquirer)(nil)

// NewHTTPAcquirer creates an HTTPAcquirer. A zero maxBytes uses DefaultMaxBytes.
func NewHTTPAcquirer(timeout time.Duration, maxBytes int64, logger *slog.Logger) *HTTPAcquirer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAcquirer{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		logger:   logger.With("component", "acquirer"),
	}
}

// Acquire implements pipeline.MediaAcquirer. dest is the item's directory.
// A non-empty file already at the target path is reused without a request.
func (a *HTTPAcquirer) Acquire(
	ctx context.Context,
	locator domain.MediaLocator,
	dest string,
) (domain.MediaHandle, error) {
	u, err := url.Parse(locator.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.MediaHandle{}, fmt.Errorf("%w: item %s", ErrUnsupportedURL, locator.ItemID)
	}

	target := filepath.Join(dest, creativeFileName(locator.MediaType, u.Path))
	handle := domain.MediaHandle{ItemID: locator.ItemID, Path: target, MediaType: locator.MediaType}

	if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		handle.SizeBytes = info.Size()
		handle.Reused = true
		logger.FromContextOrDefault(ctx, a.logger).Debug("reusing acquired media",
			"item_id", locator.ItemID,
			"size_bytes", info.Size())
		return handle, nil
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return domain.MediaHandle{}, fmt.Errorf("create media dir: %w", err)
	}

	size, err := a.download(ctx, u, target)
	if err != nil {
		return domain.MediaHandle{}, err
	}
	handle.SizeBytes = size

	logger.FromContextOrDefault(ctx, a.logger).Info("acquired media",
		"item_id", locator.ItemID,
		"media_type", locator.MediaType,
		"size_bytes", size)
	return handle, nil
}

// download streams u into target through a temporary file so an interrupted
// transfer never leaves a file that looks complete.
func (a *HTTPAcquirer) download(ctx context.Context, u *url.URL, target string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return 0, fmt.Errorf("download failed: %w", urlErr.Err)
		}
		return 0, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > a.maxBytes {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	written, copyErr := io.Copy(tmp, io.LimitReader(resp.Body, a.maxBytes+1))
	closeErr := tmp.Close()
	switch {
	case copyErr != nil:
		return 0, fmt.Errorf("download failed: %w", copyErr)
	case closeErr != nil:
		return 0, fmt.Errorf("write media: %w", closeErr)
	case written > a.maxBytes:
		return 0, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, a.maxBytes)
	case written == 0:
		return 0, errors.New("download failed: empty body")
	}

	if err := os.Rename(tmpName, target); err != nil {
		return 0, fmt.Errorf("store media: %w", err)
	}
	return written, nil
}

// creativeFileName picks a stable file name so repeated runs find earlier downloads.
func creativeFileName(mediaType domain.MediaType, urlPath string) string {
	if mediaType == domain.MediaTypeVideo {
		return "creative.mp4"
	}
	switch ext := strings.ToLower(path.Ext(urlPath)); ext {
	case ".png", ".gif", ".webp", ".jpeg", ".jpg":
		return "creative" + ext
	default:
		return "creative.jpg"
	}
}
