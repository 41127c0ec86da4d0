package delivery

import (
	"fmt"
	"strings"
	"time"
)

// Channel is the notification transport type.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Channels lists the closed set of supported channels.
func Channels() []Channel { return []Channel{ChannelEmail, ChannelSMS} }

func (c Channel) Valid() bool { return c == ChannelEmail || c == ChannelSMS }

// ParseChannel normalizes s and reports whether it names a known channel.
func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool { return s == StatusSent || s == StatusFailed }

// Record tracks one submission.
type Record struct {
	ID        string     `json:"id"`
	Channel   Channel    `json:"type"`
	Recipient string     `json:"recipient"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempts  int        `json:"attempts"`
}

// Clone returns a copy that shares no memory with r.
func (r Record) Clone() Record {
	if r.SentAt != nil {
		t := *r.SentAt
		r.SentAt = &t
	}
	return r
}

// MarkSent moves a pending record to sent. It returns an error if r is
// already terminal.
func (r *Record) MarkSent(at time.Time) error {
	if r.Status.Terminal() {
		return fmt.Errorf("record %s: cannot mark sent from %s", r.ID, r.Status)
	}
	r.Status = StatusSent
	r.SentAt = &at
	r.Error = ""
	return nil
}

// MarkFailed moves a pending record to failed with reason.
func (r *Record) MarkFailed(reason string) error {
	if r.Status.Terminal() {
		return fmt.Errorf("record %s: cannot mark failed from %s", r.ID, r.Status)
	}
	r.Status = StatusFailed
	r.SentAt = nil
	r.Error = reason
	return nil
}

// Request asks for one notification to be delivered.
//
// Email uses Subject and Body; SMS uses Message.
type Request struct {
	Channel Channel `json:"channel" validate:"required,oneof=email sms"`
	To      string  `json:"to" validate:"required"`
	Subject string  `json:"subject,omitempty" validate:"required_if=Channel email"`
	Body    string  `json:"body,omitempty" validate:"required_if=Channel email"`
	Message string  `json:"message,omitempty" validate:"required_if=Channel sms"`
}

// Email builds an email request.
func Email(to, subject, body string) Request {
	return Request{Channel: ChannelEmail, To: to, Subject: subject, Body: body}
}

// SMS builds an SMS request.
func SMS(to, message string) Request {
	return Request{Channel: ChannelSMS, To: to, Message: message}
}
