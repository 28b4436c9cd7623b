// Package outbound 提供外发邮件的 MIME 组装与投递通道。
package outbound

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
)

// Envelope 是一封待投递的邮件。Raw 为完整的 RFC 5322 报文。
type Envelope struct {
	From      string
	To        []string
	MessageID string
	Raw       []byte
}

// Sender 投递一封已组装好的邮件。失败直接返回，不做重试。
type Sender interface {
	Send(ctx context.Context, env Envelope) error
}

// New 根据配置创建外发通道；mode 为空时返回 nil，表示未开启外发。
func New(cfg config.OutboundConfig, log *zap.Logger) (Sender, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch cfg.Mode {
	case "":
		return nil, nil
	case "api":
		if cfg.APIURL == "" {
			return nil, fmt.Errorf("outbound api mode requires an API URL")
		}
		return NewAPISender(cfg.APIURL, cfg.APIKey, timeout, log), nil
	case "smtp":
		if cfg.SMTPAddr == "" {
			return nil, fmt.Errorf("outbound smtp mode requires a relay address")
		}
		return NewSMTPSender(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword, log), nil
	default:
		return nil, fmt.Errorf("unsupported outbound mode %q", cfg.Mode)
	}
}
