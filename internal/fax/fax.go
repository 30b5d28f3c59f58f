// Package fax defines the outbound fax submission model and the
// provider-reported delivery status enumeration.
package fax

// Submission holds the parameters for one outbound fax request.
type Submission struct {
	// To is the destination number in E.164 form.
	To string
	// From is the sending station number.
	From string
	// MediaURL is a time-limited signed URL the provider fetches the
	// source document from.
	MediaURL string
	// Quality is the provider transmission quality (standard, fine, ...).
	Quality string
	// StatusCallback is the URL the provider posts the final delivery
	// status to.
	StatusCallback string
}

// Status is a delivery status reported by the fax provider.
type Status string

// Provider-defined delivery statuses.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSending    Status = "sending"
	StatusReceiving  Status = "receiving"
	StatusReceived   Status = "received"
	StatusDelivered  Status = "delivered"
	StatusNoAnswer   Status = "no-answer"
	StatusBusy       Status = "busy"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Succeeded reports whether the status is a terminal success.
func (s Status) Succeeded() bool {
	return s == StatusDelivered || s == StatusReceived
}

// Failed reports whether the status is a terminal failure.
func (s Status) Failed() bool {
	switch s {
	case StatusNoAnswer, StatusBusy, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether the transmission lifecycle has ended.
func (s Status) Terminal() bool {
	return s.Succeeded() || s.Failed()
}
