package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/port"
	"go.uber.org/zap"
)

type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails operators when an extraction run fails.
type SMTPNotifier struct {
	host   string
	port   int
	from   string
	to     string
	send   SendFunc
	logger *zap.Logger
}

// NewFailureNotifier returns an SMTP notifier, or a noop one when no SMTP host
// or recipient is configured.
func NewFailureNotifier(host string, port int, from, to string, logger *zap.Logger) port.FailureNotifier {
	if strings.TrimSpace(host) == "" || strings.TrimSpace(to) == "" {
		return noopNotifier{}
	}
	return NewSMTPNotifier(host, port, from, to, smtp.SendMail, logger)
}

func NewSMTPNotifier(host string, port int, from, to string, send SendFunc, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{host: host, port: port, from: from, to: to, send: send, logger: logger}
}

func (n *SMTPNotifier) NotifyFailure(_ context.Context, folderID, userID, errorMsg string) error {
	addr := fmt.Sprintf("%s:%d", n.host, n.port)

	subject := fmt.Sprintf("QAing - Issue extraction failed [Folder %s]", folderID)
	body := fmt.Sprintf(
		"An extraction run did not complete.\r\n\r\n"+
			"Folder ID: %s\r\n"+
			"User ID: %s\r\n"+
			"Error: %s\r\n\r\n"+
			"The folder stays incomplete until the recording is submitted again.\r\n\r\n"+
			"-- QAing extraction service",
		folderID, userID, errorMsg,
	)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.from, n.to, subject, body,
	)

	err := n.send(addr, nil, n.from, []string{n.to}, []byte(msg))
	if err != nil {
		n.logger.Error("failed to send failure notification email",
			zap.String("to", n.to),
			zap.String("folder_id", folderID),
			zap.Error(err),
		)
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("failure notification email sent",
		zap.String("to", n.to),
		zap.String("folder_id", folderID),
	)
	return nil
}

type noopNotifier struct{}

func (noopNotifier) NotifyFailure(context.Context, string, string, string) error { return nil }
