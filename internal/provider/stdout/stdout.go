// Package stdout implements an EmailSender that prints messages to
// standard output, used for local development of the gateway flows.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/fax-gateway/internal/email"
)

// Sender prints message drafts to stdout in a human-readable format.
type Sender struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Sender that writes to os.Stdout.
func New() *Sender {
	return &Sender{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Sender that writes to the given
// writer. This is useful for testing.
func NewWithWriter(w io.Writer) *Sender {
	return &Sender{writer: w}
}

// Send prints the message draft to stdout in a readable format.
// It always returns nil (success).
func (s *Sender) Send(_ context.Context, draft *email.Draft) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("From: %s\n", draft.From))
	b.WriteString(fmt.Sprintf("To: %s\n", joinAddresses(draft.To)))

	if len(draft.Cc) > 0 {
		b.WriteString(fmt.Sprintf("Cc: %s\n", joinAddresses(draft.Cc)))
	}
	if draft.InReplyTo != "" {
		b.WriteString(fmt.Sprintf("In-Reply-To: %s\n", draft.InReplyTo))
	}

	b.WriteString(fmt.Sprintf("Subject: %s\n", draft.Subject))
	b.WriteString("Body:\n")
	b.WriteString(draft.TextBody + "\n")

	if len(draft.Attachments) > 0 {
		attachments := make([]string, 0, len(draft.Attachments))
		for _, att := range draft.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		b.WriteString(fmt.Sprintf("Attachments: %s\n", strings.Join(attachments, ", ")))
	}

	b.WriteString("========================================\n")

	fmt.Fprint(s.writer, b.String())
	return nil
}

// Name returns the backend name.
func (s *Sender) Name() string {
	return "stdout"
}

// joinAddresses renders an address list for display.
func joinAddresses(addrs []email.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
