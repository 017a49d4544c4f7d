package mailer

import (
	"context"
	"fmt"

	"mailpace/internal/model"
)

// Router picks a transport by sending server type.
type Router struct {
	Transports map[string]Sender
}

// Send forwards msg to the transport registered for server.Type.
func (r Router) Send(ctx context.Context, server model.SendingServer, msg Message) (Result, error) {
	sender, ok := r.Transports[server.Type]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedServer, server.Type)
	}
	return sender.Send(ctx, server, msg)
}
