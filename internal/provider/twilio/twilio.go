// Package twilio implements a FaxSender against the Twilio programmable
// fax REST API.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shineum/fax-gateway/internal/fax"
)

// defaultAPIURL is the fax resource endpoint.
const defaultAPIURL = "https://fax.twilio.com/v1/Faxes"

// Config holds the configuration for creating a Sender.
type Config struct {
	// AccountSID and AuthToken are the API basic-auth credentials.
	AccountSID string
	AuthToken  string
}

// Sender submits outbound faxes through the provider's REST API.
type Sender struct {
	accountSID string
	authToken  string
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a new Sender with the given configuration.
func New(cfg Config, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		apiURL:     defaultAPIURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("provider", "twilio"),
	}
}

// newWithOverrides creates a Sender with a custom API URL and HTTP
// client, used for testing.
func newWithOverrides(cfg Config, apiURL string, client *http.Client) *Sender {
	s := New(cfg, nil)
	s.apiURL = apiURL
	s.httpClient = client
	return s
}

// createResponse is the subset of the provider's fax resource the
// gateway consumes.
type createResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// errorResponse is the provider's error document.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Submit requests a fax transmission and returns the transmission SID
// the status callback will later carry.
func (s *Sender) Submit(ctx context.Context, sub fax.Submission) (string, error) {
	form := url.Values{}
	form.Set("To", sub.To)
	form.Set("From", sub.From)
	form.Set("MediaUrl", sub.MediaURL)
	if sub.Quality != "" {
		form.Set("Quality", sub.Quality)
	}
	if sub.StatusCallback != "" {
		form.Set("StatusCallback", sub.StatusCallback)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("twilio: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.accountSID, s.authToken)

	s.logger.DebugContext(ctx, "submitting fax",
		"to", sub.To,
		"quality", sub.Quality,
		"status_callback", sub.StatusCallback,
	)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("twilio: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Message != "" {
			return "", fmt.Errorf("twilio: submit rejected (status %d, code %d): %s",
				resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return "", fmt.Errorf("twilio: submit rejected with status %d", resp.StatusCode)
	}

	var created createResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("twilio: failed to parse response: %w", err)
	}
	if created.SID == "" {
		return "", fmt.Errorf("twilio: response carries no transmission SID")
	}

	s.logger.InfoContext(ctx, "fax submitted",
		"sid", created.SID,
		"status", created.Status,
	)
	return created.SID, nil
}

// Name returns the backend name.
func (s *Sender) Name() string {
	return "twilio"
}
