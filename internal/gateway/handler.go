// Package gateway implements the four webhook flows bridging the email
// and fax providers: email→fax submission, fax-status→email,
// fax-received→email, and the fax provider's receive handshake.
package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/fax-gateway/internal/assemble"
	"github.com/shineum/fax-gateway/internal/correlate"
	"github.com/shineum/fax-gateway/internal/email"
	"github.com/shineum/fax-gateway/internal/fax"
	"github.com/shineum/fax-gateway/internal/parser"
	"github.com/shineum/fax-gateway/internal/provider"
	"github.com/shineum/fax-gateway/internal/relay"
)

// Webhook paths. PathOutgoingSent doubles as the status callback path
// handed to the fax provider on every submission.
const (
	PathOutgoing         = "/outgoing"
	PathOutgoingSent     = "/outgoing/sent"
	PathIncoming         = "/incoming"
	PathIncomingReceived = "/incoming/received"
)

// maxUploadSize bounds inbound multipart bodies (32 MB).
const maxUploadSize = 32 << 20

// Handler serves the gateway's webhook endpoints.
type Handler struct {
	engine *assemble.Engine
	store  *correlate.Store
	relay  *relay.Relay
	emails provider.EmailSender
	faxes  provider.FaxSender
	logger *slog.Logger
}

// NewHandler wires the webhook handlers to their collaborators.
func NewHandler(
	engine *assemble.Engine,
	store *correlate.Store,
	rel *relay.Relay,
	emails provider.EmailSender,
	faxes provider.FaxSender,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine: engine,
		store:  store,
		relay:  rel,
		emails: emails,
		faxes:  faxes,
		logger: logger,
	}
}

// Router builds the chi router for all webhook endpoints.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post(PathOutgoing, h.handleOutgoing)
	r.Post(PathOutgoingSent, h.handleOutgoingSent)
	r.Post(PathIncoming, h.handleIncoming)
	r.Post(PathIncomingReceived, h.handleIncomingReceived)
	return r
}

// handleOutgoing converts an inbound email webhook into a fax
// submission and stores the pending reply draft under the returned
// transmission SID. Validation and provider failures are reported to
// the requester by email, with the webhook acknowledged as received so
// the email provider does not retry an unprocessable request.
func (h *Handler) handleOutgoing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.logger.ErrorContext(ctx, "unreadable outgoing request", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	form := r.PostForm
	files := readFormFiles(r)
	h.logger.InfoContext(ctx, "outgoing email received",
		"to", form.Get("to"),
		"subject", form.Get("subject"),
		"files", len(files),
	)

	subject := form.Get("subject")
	draft, err := h.replyDraft(subject, form.Get("headers"))
	if err != nil {
		h.sendErrorReply(ctx, w, h.engine.DefaultDraft(), err, form, files)
		return
	}

	sub, err := h.engine.BuildSubmission(ctx, assemble.OutgoingRequest{
		To:      form.Get("to"),
		Subject: subject,
		Files:   files,
		BaseURL: baseURL(r),
	})
	if err != nil {
		h.sendErrorReply(ctx, w, draft, err, form, files)
		return
	}

	sid, err := h.faxes.Submit(ctx, sub)
	if err != nil {
		h.sendErrorReply(ctx, w, draft, err, form, files)
		return
	}

	h.store.Put(sid, draft)
	h.logger.InfoContext(ctx, "fax submitted, awaiting status callback", "sid", sid)
	w.WriteHeader(http.StatusOK)
}

// handleOutgoingSent converts a delivery-status callback into the reply
// email for the originating request, then cleans up the transient
// source document.
func (h *Handler) handleOutgoingSent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		h.logger.ErrorContext(ctx, "unreadable status callback", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	form := r.PostForm
	sid := form.Get("FaxSid")
	status := fax.Status(form.Get("Status"))
	h.logger.InfoContext(ctx, "fax status callback received", "sid", sid, "status", status)

	draft := h.store.TakeOrDefault(sid, h.engine.DefaultDraft)
	h.engine.StatusReply(ctx, draft, status, form)

	if err := h.emails.Send(ctx, draft); err != nil {
		h.logger.ErrorContext(ctx, "failed to send status reply", "sid", sid, "error", err)
		h.sendErrorReply(ctx, w, h.engine.DefaultDraft(), err, form, nil)
		return
	}

	h.relay.DeleteTransient(ctx, form.Get("OriginalMediaUrl"))
	w.WriteHeader(http.StatusOK)
}

// handleIncoming acknowledges the fax provider's incoming-call webhook
// with the control document naming the receive callback.
func (h *Handler) handleIncoming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		h.logger.ErrorContext(ctx, "unreadable incoming request", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	h.logger.InfoContext(ctx, "incoming fax call", "from", r.PostForm.Get("From"))

	writeReceiveAck(w, PathIncomingReceived)
}

// handleIncomingReceived forwards a received fax to the inbox.
func (h *Handler) handleIncomingReceived(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		h.logger.ErrorContext(ctx, "unreadable received callback", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	form := r.PostForm
	h.logger.InfoContext(ctx, "incoming fax received",
		"from", form.Get("From"),
		"status", form.Get("Status"),
	)

	draft := h.engine.IncomingReply(ctx, form)
	if err := h.emails.Send(ctx, draft); err != nil {
		h.logger.ErrorContext(ctx, "failed to forward incoming fax", "error", err)
		h.sendErrorReply(ctx, w, h.engine.DefaultDraft(), err, form, nil)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// replyDraft parses the raw header block and builds the pending reply
// draft for an outbound fax.
func (h *Handler) replyDraft(subject, rawHeaders string) (*email.Draft, error) {
	headers, err := parser.ParseHeaderBlock(rawHeaders)
	if err != nil {
		return nil, err
	}
	return h.engine.NewReplyDraft(subject, headers)
}

// sendErrorReply reports a failed flow to a human by email. The webhook
// is acknowledged with 200 so the caller does not retry; only a failure
// to send the report itself surfaces as 500.
func (h *Handler) sendErrorReply(ctx context.Context, w http.ResponseWriter, draft *email.Draft, cause error, form url.Values, files []email.Attachment) {
	h.engine.ErrorReply(draft, cause, form, files)
	if err := h.emails.Send(ctx, draft); err != nil {
		h.logger.ErrorContext(ctx, "failed to send error reply", "cause", cause, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// baseURL reconstructs the scheme+host the webhook arrived on, honoring
// a forwarding proxy's protocol header.
func baseURL(r *http.Request) string {
	scheme := "http"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// readFormFiles loads every uploaded file part into memory.
func readFormFiles(r *http.Request) []email.Attachment {
	if r.MultipartForm == nil {
		return nil
	}
	var files []email.Attachment
	for _, headers := range r.MultipartForm.File {
		for _, hdr := range headers {
			f, err := hdr.Open()
			if err != nil {
				continue
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				continue
			}
			files = append(files, email.Attachment{
				Filename:    hdr.Filename,
				ContentType: hdr.Header.Get("Content-Type"),
				Content:     content,
			})
		}
	}
	return files
}
