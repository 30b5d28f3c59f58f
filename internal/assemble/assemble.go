// Package assemble builds outbound fax submissions from inbound email
// webhooks and outbound message drafts from fax callbacks. It is the
// only component with non-trivial decision logic; the webhook handlers
// compose its operations.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/shineum/fax-gateway/internal/email"
	"github.com/shineum/fax-gateway/internal/fax"
	"github.com/shineum/fax-gateway/internal/parser"
	"github.com/shineum/fax-gateway/internal/relay"
)

// ErrBadDestination is returned when the inbound "to" field does not
// match the station's destination pattern.
var ErrBadDestination = errors.New("destination does not match station pattern")

// ErrNoAttachment is returned when the inbound email carries no PDF part.
var ErrNoAttachment = errors.New("no PDF attachment")

// ErrTooManyAttachments is returned when more than one PDF part is present.
var ErrTooManyAttachments = errors.New("too many PDF attachments")

// qualityRe extracts an optional quality hint from a trailing {...}
// token in the subject line, e.g. "weekly report {fine}".
var qualityRe = regexp.MustCompile(`\{\s*(\S+)\s*\}$`)

// pdfContentType is the only attachment type accepted for outbound faxes.
const pdfContentType = "application/pdf"

// Station describes the fax station the engine assembles messages for.
type Station struct {
	// CountryCode replaces a leading "0" during E.164 normalization.
	CountryCode string
	// FromNumber is the sending station number.
	FromNumber string
	// ToPattern extracts the destination number from the inbound "to"
	// field; capture group 1 is the number.
	ToPattern *regexp.Regexp
	// DefaultQuality is used when the subject carries no quality hint.
	DefaultQuality string
	// CallbackPath is appended to the inbound request's scheme+host to
	// form the status callback URL.
	CallbackPath string
	// Agent is the address outbound emails are sent from.
	Agent email.Address
	// Inbox receives fax status reports and incoming faxes.
	Inbox []email.Address
	// Domain forms synthetic sender addresses for incoming faxes.
	Domain string
}

// Engine assembles outbound messages and fax submissions.
type Engine struct {
	station Station
	relay   *relay.Relay
	logger  *slog.Logger
}

// New creates an Engine for the given station.
func New(station Station, r *relay.Relay, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{station: station, relay: r, logger: logger}
}

// ToE164 normalizes a captured destination number: a leading "0" is
// replaced with "+" and the country code, anything else passes through.
func ToE164(number, countryCode string) string {
	if strings.HasPrefix(number, "0") {
		return "+" + countryCode + number[1:]
	}
	return number
}

// OutgoingRequest carries the fields of one inbound-email webhook.
type OutgoingRequest struct {
	To      string
	Subject string
	Headers parser.Headers
	Files   []email.Attachment
	// BaseURL is the scheme+host the webhook arrived on.
	BaseURL string
}

// NewReplyDraft builds the pending reply draft for an outbound fax:
// from the agent to the inbox, Cc'ing the original requester, threaded
// onto the originating email.
func (e *Engine) NewReplyDraft(subject string, headers parser.Headers) (*email.Draft, error) {
	target, err := headers.ReplyTarget()
	if err != nil {
		return nil, err
	}
	cc, err := parser.ParseAddressList(target)
	if err != nil {
		return nil, err
	}
	return &email.Draft{
		From:      e.station.Agent,
		To:        e.station.Inbox,
		Cc:        cc,
		Subject:   subject,
		InReplyTo: headers.Get("Message-Id"),
	}, nil
}

// DefaultDraft builds a bare agent-to-inbox draft, used when a status
// callback arrives with no stored correlation entry.
func (e *Engine) DefaultDraft() *email.Draft {
	return &email.Draft{
		From: e.station.Agent,
		To:   e.station.Inbox,
	}
}

// BuildSubmission validates an inbound-email webhook and turns it into
// an outbound fax submission, staging the single PDF attachment as a
// transient blob.
func (e *Engine) BuildSubmission(ctx context.Context, req OutgoingRequest) (fax.Submission, error) {
	match := e.station.ToPattern.FindStringSubmatch(req.To)
	if match == nil || len(match) < 2 {
		return fax.Submission{}, fmt.Errorf("%w: %q", ErrBadDestination, req.To)
	}
	toNumber := ToE164(match[1], e.station.CountryCode)

	var pdfs []email.Attachment
	for _, f := range req.Files {
		if f.ContentType == pdfContentType {
			pdfs = append(pdfs, f)
		}
	}
	if len(pdfs) == 0 {
		return fax.Submission{}, ErrNoAttachment
	}
	if len(pdfs) > 1 {
		return fax.Submission{}, ErrTooManyAttachments
	}

	mediaURL, err := e.relay.UploadTransient(ctx, pdfs[0].Content, pdfs[0].Filename, pdfContentType)
	if err != nil {
		return fax.Submission{}, err
	}

	quality := e.station.DefaultQuality
	if m := qualityRe.FindStringSubmatch(req.Subject); m != nil {
		quality = strings.ToLower(m[1])
	}

	return fax.Submission{
		To:             toNumber,
		From:           e.station.FromNumber,
		MediaURL:       mediaURL,
		Quality:        quality,
		StatusCallback: req.BaseURL + e.station.CallbackPath,
	}, nil
}

// StatusReply fills a pending reply draft from a delivery-status
// callback. On terminal success the delivered image is attached; on
// terminal failure the submitter's original document is re-attached so
// nothing is lost with the failed transmission.
func (e *Engine) StatusReply(ctx context.Context, draft *email.Draft, status fax.Status, form url.Values) {
	draft.Subject = fmt.Sprintf("[%s] %s", status, draft.Subject)
	draft.TextBody = renderFields(form, true)

	switch {
	case status.Succeeded():
		draft.AddAttachment(e.fetch(ctx, form.Get("MediaUrl")))
	case status.Failed():
		draft.AddAttachment(e.fetch(ctx, form.Get("OriginalMediaUrl")))
	}
}

// IncomingReply builds the inbox notification for a received fax. The
// synthetic sender address carries the calling station's number. Unlike
// the sending flow there is nothing to re-attach on failure.
func (e *Engine) IncomingReply(ctx context.Context, form url.Values) *email.Draft {
	from := form.Get("From")
	if from == "" {
		from = "anonymous"
	}
	status := fax.Status(form.Get("Status"))

	draft := &email.Draft{
		From: email.Address{Addr: from + "@" + e.station.Domain},
		To:   e.station.Inbox,
	}
	draft.Subject = fmt.Sprintf("[%s] Fax received from %s", status, from)
	draft.TextBody = renderFields(form, true)
	if status == fax.StatusReceived {
		draft.AddAttachment(e.fetch(ctx, form.Get("MediaUrl")))
	}
	return draft
}

// ErrorReply turns a failed flow into a report for a human: the error
// detail, a dump of the inbound request fields, and any submitted files
// re-attached.
func (e *Engine) ErrorReply(draft *email.Draft, err error, form url.Values, files []email.Attachment) {
	draft.Subject = fmt.Sprintf("[error] %s", err)
	draft.TextBody = err.Error() + "\n\n" + renderFields(form, false)
	for i := range files {
		draft.AddAttachment(&files[i])
	}
}

// fetch retrieves remote media best-effort; a missing file yields nil.
func (e *Engine) fetch(ctx context.Context, mediaURL string) *email.Attachment {
	if mediaURL == "" {
		return nil
	}
	att, err := e.relay.FetchRemote(ctx, mediaURL)
	if err != nil {
		e.logger.Warn("failed to fetch media", "url", mediaURL, "error", err)
		return nil
	}
	return att
}

// renderFields renders form fields as "key: value" lines sorted by key.
// Keys ending in "MediaUrl" are excluded when skipMediaURLs is set, so
// the attachment reference is not duplicated in text.
func renderFields(form url.Values, skipMediaURLs bool) string {
	keys := make([]string, 0, len(form))
	for key := range form {
		if skipMediaURLs && strings.HasSuffix(key, "MediaUrl") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", key, strings.Join(form[key], ", ")))
	}
	return strings.Join(lines, "\n") + "\n\n"
}
