// Package provider defines the interfaces for the two delivery backends
// the gateway bridges: outbound email and outbound fax.
package provider

import (
	"context"

	"github.com/shineum/fax-gateway/internal/email"
	"github.com/shineum/fax-gateway/internal/fax"
)

// EmailSender delivers assembled messages. Implementations handle the
// actual transport to the target service (SES, stdout, etc.).
type EmailSender interface {
	// Send delivers a message draft. It returns an error if the
	// delivery fails.
	Send(ctx context.Context, draft *email.Draft) error

	// Name returns the human-readable name of this backend.
	Name() string
}

// FaxSender submits outbound fax transmissions.
type FaxSender interface {
	// Submit requests a fax transmission and returns the provider's
	// transmission SID, used to correlate the status callback.
	Submit(ctx context.Context, sub fax.Submission) (string, error)

	// Name returns the human-readable name of this backend.
	Name() string
}
