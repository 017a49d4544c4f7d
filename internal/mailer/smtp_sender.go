package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"mailpace/internal/model"
)

// ErrInvalidHeader reports a header name or value that cannot be written
// into a message without changing its structure.
var ErrInvalidHeader = errors.New("invalid message header")

// Custom headers may not replace the headers that describe the body.
var structuralHeaders = map[string]bool{
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
	"Mime-Version":              true,
}

// SMTPSender delivers through the server's SMTP relay.
type SMTPSender struct {
	// SendMail defaults to smtp.SendMail.
	SendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
	Now      func() time.Time
}

// Send builds a MIME message and submits it to the relay.
func (s SMTPSender) Send(ctx context.Context, server model.SendingServer, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if server.Host == "" {
		return Failed(fmt.Errorf("server %s has no smtp host", server.Name)), nil
	}
	port := server.Port
	if port == 0 {
		port = 25
	}
	addr := net.JoinHostPort(server.Host, strconv.Itoa(port))
	var auth smtp.Auth
	if server.Username != "" {
		auth = smtp.PlainAuth("", server.Username, server.Password, server.Host)
	}
	body, err := s.build(msg)
	if err != nil {
		return Failed(err), nil
	}
	send := s.SendMail
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, msg.From, []string{msg.To}, body); err != nil {
		return Failed(fmt.Errorf("smtp %s: %w", addr, err)), nil
	}
	return Result{Status: model.DeliverySent, RuntimeMessageID: msg.MessageID}, nil
}

func (s SMTPSender) build(msg Message) ([]byte, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	from := mail.Address{Name: msg.FromName, Address: msg.From}
	header := map[string]string{
		"From":         from.String(),
		"To":           (&mail.Address{Address: msg.To}).String(),
		"Subject":      mime.QEncoding.Encode("utf-8", msg.Subject),
		"Date":         now().Format(time.RFC1123Z),
		"Message-ID":   "<" + msg.MessageID + ">",
		"MIME-Version": "1.0",
		"Content-Type": "multipart/alternative; boundary=" + writer.Boundary(),
	}
	if msg.ReplyTo != "" {
		replyTo, err := mail.ParseAddress(msg.ReplyTo)
		if err != nil {
			return nil, fmt.Errorf("%w: reply-to %q: %v", ErrInvalidHeader, msg.ReplyTo, err)
		}
		header["Reply-To"] = replyTo.String()
	}
	if strings.ContainsAny(msg.MessageID, "\r\n<>") {
		return nil, fmt.Errorf("%w: message id %q", ErrInvalidHeader, msg.MessageID)
	}
	if strings.ContainsAny(msg.From+msg.To, "\r\n") {
		return nil, fmt.Errorf("%w: address contains a line break", ErrInvalidHeader)
	}
	for k, v := range msg.Headers {
		name, value, err := customHeader(k, v)
		if err != nil {
			return nil, err
		}
		for existing := range header {
			if textproto.CanonicalMIMEHeaderKey(existing) == name {
				delete(header, existing)
			}
		}
		header[name] = value
	}
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out bytes.Buffer
	for _, k := range keys {
		if header[k] == "" {
			continue
		}
		fmt.Fprintf(&out, "%s: %s\r\n", k, header[k])
	}
	out.WriteString("\r\n")

	parts := []struct{ contentType, body string }{
		{"text/plain; charset=utf-8", msg.Plain},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, part := range parts {
		if part.body == "" {
			continue
		}
		w, err := writer.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	out.Write(buf.Bytes())
	return out.Bytes(), nil
}

// customHeader canonicalizes a caller-supplied header. Names must be
// printable ASCII without a colon and values may not break the line.
// Non-ASCII values are Q-encoded.
func customHeader(name, value string) (string, string, error) {
	if name == "" {
		return "", "", fmt.Errorf("%w: empty name", ErrInvalidHeader)
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c <= ' ' || c > '~' || c == ':' {
			return "", "", fmt.Errorf("%w: name %q", ErrInvalidHeader, name)
		}
	}
	name = textproto.CanonicalMIMEHeaderKey(name)
	if structuralHeaders[name] {
		return "", "", fmt.Errorf("%w: %s is reserved", ErrInvalidHeader, name)
	}
	if strings.ContainsAny(value, "\r\n") {
		return "", "", fmt.Errorf("%w: %s value contains a line break", ErrInvalidHeader, name)
	}
	return name, mime.QEncoding.Encode("utf-8", value), nil
}
