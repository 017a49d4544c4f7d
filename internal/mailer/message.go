// Package mailer renders campaign messages per subscriber and hands them to
// a transport.
package mailer

import (
	"context"
	"errors"

	"mailpace/internal/model"
)

// ErrUnsupportedServer reports a server type no transport handles.
var ErrUnsupportedServer = errors.New("unsupported sending server type")

// Message is one rendered email.
type Message struct {
	MessageID string
	From      string
	FromName  string
	ReplyTo   string
	To        string
	Subject   string
	HTML      string
	Plain     string
	Headers   map[string]string
}

// Result is the transport's verdict for one message.
type Result struct {
	Status           string
	Error            string
	RuntimeMessageID string
}

// Failed builds a failed Result from err.
func Failed(err error) Result {
	return Result{Status: model.DeliveryFailed, Error: err.Error()}
}

// Sender delivers a message through server. A returned error and a Result
// with failed status both count as a failed delivery.
type Sender interface {
	Send(ctx context.Context, server model.SendingServer, msg Message) (Result, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, server model.SendingServer, msg Message) (Result, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, server model.SendingServer, msg Message) (Result, error) {
	return f(ctx, server, msg)
}
