package gateway

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shineum/fax-gateway/internal/assemble"
	"github.com/shineum/fax-gateway/internal/correlate"
	"github.com/shineum/fax-gateway/internal/email"
	"github.com/shineum/fax-gateway/internal/fax"
	"github.com/shineum/fax-gateway/internal/relay"
)

// mockEmailSender records sent drafts.
type mockEmailSender struct {
	sent    []*email.Draft
	failAll bool
}

func (m *mockEmailSender) Send(_ context.Context, draft *email.Draft) error {
	if m.failAll {
		return errors.New("email provider down")
	}
	m.sent = append(m.sent, draft)
	return nil
}

func (m *mockEmailSender) Name() string { return "mock-email" }

// mockFaxSender records submissions and returns a fixed SID.
type mockFaxSender struct {
	subs    []fax.Submission
	sid     string
	failAll bool
}

func (m *mockFaxSender) Submit(_ context.Context, sub fax.Submission) (string, error) {
	if m.failAll {
		return "", errors.New("fax provider down")
	}
	m.subs = append(m.subs, sub)
	return m.sid, nil
}

func (m *mockFaxSender) Name() string { return "mock-fax" }

// mockBlobStore implements relay.BlobStore.
type mockBlobStore struct {
	uploads map[string][]byte
	deleted []string
}

func (m *mockBlobStore) Upload(_ context.Context, name, _ string, content []byte) (string, error) {
	if m.uploads == nil {
		m.uploads = make(map[string][]byte)
	}
	m.uploads[name] = content
	return "https://blobs.example.com/transient/" + name + "?sig=abc", nil
}

func (m *mockBlobStore) Delete(_ context.Context, name string) error {
	m.deleted = append(m.deleted, name)
	return nil
}

type fixture struct {
	handler *Handler
	emails  *mockEmailSender
	faxes   *mockFaxSender
	blobs   *mockBlobStore
	store   *correlate.Store
}

func newFixture(t *testing.T, mediaClient *http.Client) *fixture {
	t.Helper()

	blobs := &mockBlobStore{}
	rel := relay.New(blobs, mediaClient, nil)
	engine := assemble.New(assemble.Station{
		CountryCode:    "81",
		FromNumber:     "+815055551234",
		ToPattern:      regexp.MustCompile(`^(\+?\d+)@fax\.example`),
		DefaultQuality: "fine",
		CallbackPath:   PathOutgoingSent,
		Agent:          email.Address{Name: "Fax Agent", Addr: "fax@example.com"},
		Inbox:          []email.Address{{Addr: "inbox@example.com"}},
		Domain:         "fax.example.com",
	}, rel, nil)
	emails := &mockEmailSender{}
	faxes := &mockFaxSender{sid: "FX123"}
	store := correlate.New(time.Hour)

	return &fixture{
		handler: NewHandler(engine, store, rel, emails, faxes, nil),
		emails:  emails,
		faxes:   faxes,
		blobs:   blobs,
		store:   store,
	}
}

// outgoingRequest builds a multipart inbound-email webhook request.
func outgoingRequest(t *testing.T, to, subject, headers string, pdfNames ...string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.WriteField("to", to)
	w.WriteField("subject", subject)
	w.WriteField("headers", headers)
	for _, name := range pdfNames {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="attachment1"; filename="`+name+`"`)
		hdr.Set("Content-Type", "application/pdf")
		part, err := w.CreatePart(hdr)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		part.Write([]byte("%PDF-1.4"))
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, PathOutgoing, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Host = "gateway.example.com"
	return req
}

const testHeaders = "From: Requester <req@example.com>\nReply-To: replies@example.com\nMessage-Id: <orig@example.com>"

func TestOutgoingFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.handler.Router().ServeHTTP(rec, outgoingRequest(t, "+819012345678@fax.example.com", "weekly report", testHeaders, "report.pdf"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if len(f.faxes.subs) != 1 {
		t.Fatalf("got %d submissions, want 1", len(f.faxes.subs))
	}
	sub := f.faxes.subs[0]
	if sub.To != "+819012345678" {
		t.Errorf("To: got %q", sub.To)
	}
	if sub.StatusCallback != "http://gateway.example.com/outgoing/sent" {
		t.Errorf("StatusCallback: got %q", sub.StatusCallback)
	}
	if len(f.blobs.uploads) != 1 {
		t.Errorf("got %d uploads, want 1", len(f.blobs.uploads))
	}

	// the pending reply draft is stored under the transmission SID
	if f.store.Len() != 1 {
		t.Fatalf("store.Len(): got %d, want 1", f.store.Len())
	}
	draft := f.store.TakeOrDefault("FX123", func() *email.Draft { t.Fatal("factory must not run"); return nil })
	if len(draft.Cc) != 1 || draft.Cc[0].Addr != "replies@example.com" {
		t.Errorf("draft Cc: got %v", draft.Cc)
	}
	if draft.InReplyTo != "<orig@example.com>" {
		t.Errorf("draft InReplyTo: got %q", draft.InReplyTo)
	}
	if len(f.emails.sent) != 0 {
		t.Errorf("no email should be sent before the status callback, got %d", len(f.emails.sent))
	}
}

func TestOutgoingValidationFailureSendsErrorReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	// two PDFs: permanently unprocessable
	f.handler.Router().ServeHTTP(rec, outgoingRequest(t, "0312345678@fax.example.com", "report", testHeaders, "a.pdf", "b.pdf"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 so the provider does not retry", rec.Code)
	}
	if len(f.faxes.subs) != 0 {
		t.Errorf("no fax must be submitted, got %d", len(f.faxes.subs))
	}
	if len(f.emails.sent) != 1 {
		t.Fatalf("got %d emails, want 1 error reply", len(f.emails.sent))
	}
	reply := f.emails.sent[0]
	if !strings.HasPrefix(reply.Subject, "[error] ") {
		t.Errorf("Subject: got %q", reply.Subject)
	}
	if !strings.Contains(reply.TextBody, "to: 0312345678@fax.example.com") {
		t.Errorf("body missing request dump:\n%s", reply.TextBody)
	}
	if len(reply.Attachments) != 2 {
		t.Errorf("got %d attachments, want the submitted files back", len(reply.Attachments))
	}
}

func TestOutgoingFaxProviderFailureSendsErrorReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.faxes.failAll = true
	rec := httptest.NewRecorder()
	f.handler.Router().ServeHTTP(rec, outgoingRequest(t, "0312345678@fax.example.com", "report", testHeaders, "a.pdf"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if len(f.emails.sent) != 1 || !strings.HasPrefix(f.emails.sent[0].Subject, "[error] ") {
		t.Fatalf("want one error reply, got %v", f.emails.sent)
	}
}

func TestOutgoingErrorReplyFailureSurfaces500(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.faxes.failAll = true
	f.emails.failAll = true
	rec := httptest.NewRecorder()
	f.handler.Router().ServeHTTP(rec, outgoingRequest(t, "0312345678@fax.example.com", "report", testHeaders, "a.pdf"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rec.Code)
	}
}

func statusCallback(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, PathOutgoingSent, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestStatusCallbackDelivered(t *testing.T) {
	t.Parallel()

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/tiff")
		w.Write([]byte("delivered image"))
	}))
	defer media.Close()

	f := newFixture(t, media.Client())
	f.store.Put("FX123", &email.Draft{
		From:    email.Address{Addr: "fax@example.com"},
		To:      []email.Address{{Addr: "inbox@example.com"}},
		Subject: "weekly report",
	})

	rec := httptest.NewRecorder()
	f.handler.Router().ServeHTTP(rec, statusCallback(url.Values{
		"FaxSid":           {"FX123"},
		"Status":           {"delivered"},
		"To":               {"+81312345678"},
		"MediaUrl":         {media.URL + "/media/fax123.tiff"},
		"OriginalMediaUrl": {"https://blobs.example.com/transient/abc_report.pdf?sig=x"},
	}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if len(f.emails.sent) != 1 {
		t.Fatalf("got %d emails, want 1", len(f.emails.sent))
	}
	reply := f.emails.sent[0]
	if reply.Subject != "[delivered] weekly report" {
		t.Errorf("Subject: got %q", reply.Subject)
	}
	if len(reply.Attachments) != 1 || reply.Attachments[0].Filename != "fax123.tiff" {
		t.Errorf("attachments: got %+v", reply.Attachments)
	}

	// transient source document is cleaned up
	if len(f.blobs.deleted) != 1 || f.blobs.deleted[0] != "abc_report.pdf" {
		t.Errorf("deleted: got %v, want [abc_report.pdf]", f.blobs.deleted)
	}

	// the correlation entry is consumed
	if f.store.Len() != 0 {
		t.Errorf("store.Len(): got %d, want 0", f.store.Len())
	}
}

func TestStatusCallbackFailedWithoutEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.handler.Router().ServeHTTP(rec, statusCallback(url.Values{
		"FaxSid": {"FX-unknown"},
		"Status": {"failed"},
	}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if len(f.emails.sent) != 1 {
		t.Fatalf("got %d emails, want 1 from the default draft", len(f.emails.sent))
	}
	reply := f.emails.sent[0]
	if !strings.HasPrefix(reply.Subject, "[failed]") {
		t.Errorf("Subject: got %q", reply.Subject)
	}
	if len(reply.To) != 1 || reply.To[0].Addr != "inbox@example.com" {
		t.Errorf("To: got %v, want the inbox fallback", reply.To)
	}
}

func TestStatusCallbackEmailFailureSurfaces500(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.emails.failAll = true
	rec := httptest.NewRecorder()
	f.handler.Router().ServeHTTP(rec, statusCallback(url.Values{
		"FaxSid": {"FX1"},
		"Status": {"delivered"},
	}))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rec.Code)
	}
}

func TestIncomingHandshake(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, PathIncoming, strings.NewReader("From=%2B15551234567"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.handler.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/xml" {
		t.Errorf("Content-Type: got %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `<Response>`) || !strings.Contains(body, `<Receive action="/incoming/received">`) {
		t.Errorf("unexpected ack document:\n%s", body)
	}
}

func TestIncomingReceived(t *testing.T) {
	t.Parallel()

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/tiff")
		w.Write([]byte("incoming fax"))
	}))
	defer media.Close()

	f := newFixture(t, media.Client())
	form := url.Values{
		"From":     {"+15551234567"},
		"Status":   {"received"},
		"MediaUrl": {media.URL + "/media/in42.tiff"},
	}
	req := httptest.NewRequest(http.MethodPost, PathIncomingReceived, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.handler.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if len(f.emails.sent) != 1 {
		t.Fatalf("got %d emails, want 1", len(f.emails.sent))
	}
	reply := f.emails.sent[0]
	if reply.Subject != "[received] Fax received from +15551234567" {
		t.Errorf("Subject: got %q", reply.Subject)
	}
	if reply.From.Addr != "+15551234567@fax.example.com" {
		t.Errorf("From: got %q", reply.From.Addr)
	}
	if len(reply.Attachments) != 1 {
		t.Errorf("got %d attachments, want 1", len(reply.Attachments))
	}
}
