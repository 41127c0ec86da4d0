package transport

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"notifyd/internal/delivery"
)

// Message is one delivery attempt's payload.
type Message struct {
	ID        string
	Channel   delivery.Channel
	Recipient string
	Subject   string
	Body      string
	Text      string
}

// MessageFor builds the transport payload for a request.
func MessageFor(id string, req delivery.Request) Message {
	return Message{
		ID:        id,
		Channel:   req.Channel,
		Recipient: req.To,
		Subject:   req.Subject,
		Body:      req.Body,
		Text:      req.Message,
	}
}

// Transport performs one attempt. A non-nil error means the attempt failed
// and may be retried by the caller.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, msg Message) error

func (f Func) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Set maps channels to their transport.
type Set map[delivery.Channel]Transport

// For returns the transport for ch.
func (s Set) For(ch delivery.Channel) (Transport, bool) {
	t, ok := s[ch]
	return t, ok && t != nil
}

func (s Set) String() string {
	names := make([]string, 0, len(s))
	for ch := range s {
		names = append(names, string(ch))
	}
	sort.Strings(names)
	return fmt.Sprintf("transport.Set[%s]", strings.Join(names, ","))
}
