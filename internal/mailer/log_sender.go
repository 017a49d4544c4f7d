package mailer

import (
	"context"

	"go.uber.org/zap"

	"mailpace/internal/model"
)

// LogSender logs messages instead of delivering them.
type LogSender struct {
	Logger *zap.Logger
}

// Send logs msg and reports it sent.
func (s LogSender) Send(_ context.Context, server model.SendingServer, msg Message) (Result, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("message delivered (dry run)",
		zap.String("server", server.Name),
		zap.String("message_id", msg.MessageID),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return Result{Status: model.DeliverySent, RuntimeMessageID: msg.MessageID}, nil
}
