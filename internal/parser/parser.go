// Package parser provides parsing of raw email address strings and raw
// header blocks as delivered by the inbound-email webhook.
package parser

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shineum/fax-gateway/internal/email"
)

// ErrInvalidAddress is returned for an empty or unparseable address string.
var ErrInvalidAddress = errors.New("invalid email address")

// ErrInvalidHeaders is returned for an empty header block.
var ErrInvalidHeaders = errors.New("invalid header block")

// ErrMissingHeader is returned when neither Reply-To nor From is present.
var ErrMissingHeader = errors.New("missing Reply-To and From headers")

// displayNameRe matches the "Display Name <addr>" form.
var displayNameRe = regexp.MustCompile(`^(.*)<(.+)>`)

// ParseAddress parses a single address, accepting either a bare address
// or the "Display Name <addr>" form.
func ParseAddress(raw string) (email.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return email.Address{}, ErrInvalidAddress
	}
	if m := displayNameRe.FindStringSubmatch(raw); m != nil {
		return email.Address{
			Name: strings.TrimSpace(m[1]),
			Addr: strings.TrimSpace(m[2]),
		}, nil
	}
	return email.Address{Addr: raw}, nil
}

// ParseAddressList parses a comma-separated address list. Empty input
// yields an empty list, not an error.
func ParseAddressList(raw string) ([]email.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	addrs := make([]email.Address, 0, len(parts))
	for _, part := range parts {
		addr, err := ParseAddress(part)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// Headers holds parsed header name/value pairs. Names are matched
// case-insensitively; duplicate headers are joined with newlines in
// encounter order.
type Headers struct {
	values map[string]string
}

// ParseHeaderBlock parses a raw header block, one "Name: Value" pair per
// line. Lines without a colon are silently skipped; only an entirely
// empty block is an error.
func ParseHeaderBlock(raw string) (Headers, error) {
	if strings.TrimSpace(raw) == "" {
		return Headers{}, ErrInvalidHeaders
	}
	values := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if prev, dup := values[key]; dup {
			values[key] = prev + "\n" + value
		} else {
			values[key] = value
		}
	}
	return Headers{values: values}, nil
}

// Get returns the value for the given header name, matched
// case-insensitively. Missing headers yield an empty string.
func (h Headers) Get(name string) string {
	return h.values[strings.ToLower(name)]
}

// ReplyTarget returns the address the reply should go to: Reply-To when
// present, otherwise From.
func (h Headers) ReplyTarget() (string, error) {
	if v := h.Get("Reply-To"); v != "" {
		return v, nil
	}
	if v := h.Get("From"); v != "" {
		return v, nil
	}
	return "", ErrMissingHeader
}
