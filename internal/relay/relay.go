// Package relay moves binary media between the two providers: it fetches
// remote media into email attachments and stages outbound fax documents
// as transient blobs.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/fax-gateway/internal/email"
)

// BlobStore is the narrow contract the relay needs from blob storage.
// Upload returns a time-limited read signed URL for the stored object.
type BlobStore interface {
	Upload(ctx context.Context, name, contentType string, content []byte) (string, error)
	Delete(ctx context.Context, name string) error
}

// defaultFetchTimeout bounds a remote media fetch so a slow host cannot
// stall a whole callback flow.
const defaultFetchTimeout = 30 * time.Second

// Relay fetches remote media and manages transient blobs.
type Relay struct {
	blobs      BlobStore
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Relay. A nil httpClient gets a default with a sane
// timeout; a nil logger falls back to slog.Default.
func New(blobs BlobStore, httpClient *http.Client, logger *slog.Logger) *Relay {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultFetchTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		blobs:      blobs,
		httpClient: httpClient,
		logger:     logger,
	}
}

// FetchRemote retrieves the media at rawURL as an attachment. A non-2xx
// response or an unreachable host yields (nil, nil): a status callback
// must not fail because its media file is gone.
func (r *Relay) FetchRemote(ctx context.Context, rawURL string) (*email.Attachment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: invalid media URL %q: %w", rawURL, err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn("skipping unreachable media", "url", rawURL, "error", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn("skipping media with non-success status",
			"url", rawURL,
			"status", resp.StatusCode,
		)
		return nil, nil
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("relay: failed to read media body: %w", err)
	}

	return &email.Attachment{
		Filename:    blobNameFromURL(rawURL),
		ContentType: resp.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

// UploadTransient stores content under a freshly generated unique blob
// name and returns a time-limited read signed URL for it.
func (r *Relay) UploadTransient(ctx context.Context, content []byte, filename, contentType string) (string, error) {
	name := uuid.NewString() + "_" + filename
	signedURL, err := r.blobs.Upload(ctx, name, contentType, content)
	if err != nil {
		return "", fmt.Errorf("relay: failed to upload %q: %w", name, err)
	}
	return signedURL, nil
}

// DeleteTransient removes the blob behind a previously issued URL.
// Deletion is hygiene, not correctness: failures are logged and
// swallowed.
func (r *Relay) DeleteTransient(ctx context.Context, rawURL string) {
	if rawURL == "" {
		return
	}
	name := blobNameFromURL(rawURL)
	if name == "" {
		r.logger.Warn("cannot derive blob name from URL", "url", rawURL)
		return
	}
	if err := r.blobs.Delete(ctx, name); err != nil {
		r.logger.Warn("failed to delete transient blob", "name", name, "error", err)
	}
}

// blobNameFromURL returns the last path segment of a URL, ignoring any
// query string (signed URLs carry their signature there).
func blobNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
