// Package email defines the outbound message model used throughout the gateway.
package email

import "fmt"

// Address is a single email address with an optional display name.
type Address struct {
	Name string
	Addr string
}

// String renders the address in RFC 5322 form.
func (a Address) String() string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Addr)
	}
	return a.Addr
}

// Draft is an outbound message being assembled before being sent.
// From and To are fixed at creation; Subject, TextBody and Attachments
// are filled exactly once at send time.
type Draft struct {
	From        Address
	To          []Address
	Cc          []Address
	Subject     string
	TextBody    string
	Attachments []Attachment

	// InReplyTo carries the Message-Id of the email that started the
	// flow so replies thread correctly in the requester's mailbox.
	InReplyTo string
}

// Attachment represents a file attached to an outbound message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// AddAttachment appends an attachment, ignoring nil (used by callers that
// fetch remote media best-effort and may come back empty-handed).
func (d *Draft) AddAttachment(att *Attachment) {
	if att == nil {
		return
	}
	d.Attachments = append(d.Attachments, *att)
}

// Recipients returns To addresses as plain strings for provider APIs.
func Recipients(addrs []Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Addr)
	}
	return out
}
