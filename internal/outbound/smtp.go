package outbound

import (
	"bytes"
	"context"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

// SMTPSender 通过 SMTP 中继投递报文。
type SMTPSender struct {
	addr     string
	username string
	password string
	log      *zap.Logger

	sendMail func(addr string, a sasl.Client, from string, to []string, msg []byte) error
}

// NewSMTPSender 创建 SMTP 中继通道，username 为空时不做认证。
func NewSMTPSender(addr, username, password string, log *zap.Logger) *SMTPSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &SMTPSender{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		sendMail: func(addr string, a sasl.Client, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, a, from, to, bytes.NewReader(msg))
		},
	}
}

// Send 投递报文。
func (s *SMTPSender) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth sasl.Client
	if s.username != "" {
		auth = sasl.NewPlainClient("", s.username, s.password)
	}

	if err := s.sendMail(s.addr, auth, env.From, env.To, env.Raw); err != nil {
		return fmt.Errorf("send via smtp relay %s: %w", s.addr, err)
	}
	s.log.Debug("message relayed", zap.String("relay", s.addr), zap.String("message_id", env.MessageID))
	return nil
}
