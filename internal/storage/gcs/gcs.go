// Package gcs implements the transient blob store on Google Cloud
// Storage. Uploaded objects are handed to the fax provider through
// time-limited V4 read signed URLs, so the bucket never needs public
// access.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Config holds the settings for creating a Client.
type Config struct {
	// Bucket is the single logical container for transient media.
	Bucket string
	// CredentialsJSON is an optional service account key. When empty,
	// Application Default Credentials are used.
	CredentialsJSON string
	// SignerEmail and SignerPrivateKey sign read URLs. When empty they
	// are derived from CredentialsJSON.
	SignerEmail      string
	SignerPrivateKey string
	// URLTTL is the validity window of signed read URLs.
	URLTTL time.Duration
}

// Client is a transient blob store backed by a GCS bucket.
type Client struct {
	bucket    string
	client    *storage.Client
	signerID  string
	signerKey []byte
	urlTTL    time.Duration

	// now is overridable for tests.
	now func() time.Time
}

type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// New creates a Client for the configured bucket.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: failed to create client: %w", err)
	}

	c := &Client{
		bucket: cfg.Bucket,
		client: client,
		urlTTL: cfg.URLTTL,
		now:    time.Now,
	}
	if c.urlTTL <= 0 {
		c.urlTTL = 30 * time.Minute
	}

	c.signerID = strings.TrimSpace(cfg.SignerEmail)
	c.signerKey = normalizePrivateKey(cfg.SignerPrivateKey)
	if c.signerID == "" && strings.TrimSpace(cfg.CredentialsJSON) != "" {
		var key serviceAccountKey
		if err := json.Unmarshal([]byte(cfg.CredentialsJSON), &key); err != nil {
			return nil, fmt.Errorf("gcs: invalid credentials JSON: %w", err)
		}
		c.signerID = key.ClientEmail
		c.signerKey = normalizePrivateKey(key.PrivateKey)
	}

	return c, nil
}

// Upload writes content under the given object name and returns a
// read-only signed URL valid for the configured window.
func (c *Client) Upload(ctx context.Context, name, contentType string, content []byte) (string, error) {
	w := c.client.Bucket(c.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(content); err != nil {
		return "", fmt.Errorf("gcs: failed to write object %q: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: failed to finalize object %q: %w", name, err)
	}
	return c.signedReadURL(name)
}

// Delete removes the named object from the bucket.
func (c *Client) Delete(ctx context.Context, name string) error {
	if err := c.client.Bucket(c.bucket).Object(name).Delete(ctx); err != nil {
		return fmt.Errorf("gcs: failed to delete object %q: %w", name, err)
	}
	return nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}

// signedReadURL signs a GET URL for the object. An explicit signer from
// the configuration takes precedence; otherwise the client derives one
// from its own credentials.
func (c *Client) signedReadURL(name string) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: c.now().Add(c.urlTTL),
	}
	if c.signerID != "" && len(c.signerKey) > 0 {
		opts.GoogleAccessID = c.signerID
		opts.PrivateKey = c.signerKey
		url, err := storage.SignedURL(c.bucket, name, opts)
		if err != nil {
			return "", fmt.Errorf("gcs: failed to sign URL for %q: %w", name, err)
		}
		return url, nil
	}
	url, err := c.client.Bucket(c.bucket).SignedURL(name, opts)
	if err != nil {
		return "", fmt.Errorf("gcs: failed to sign URL for %q: %w", name, err)
	}
	return url, nil
}

// normalizePrivateKey restores literal newlines in keys passed through
// environment variables.
func normalizePrivateKey(key string) []byte {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return []byte(strings.ReplaceAll(key, "\\n", "\n"))
}
