package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/outbound"
)

const maxOutboundRecipients = 10

// SendRequest 是外发邮件的请求内容。
type SendRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html"`
}

// SendResult 是外发结果，投递失败体现在 Success 与 Error 中。
type SendResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// OutboundService 以临时邮箱的身份外发邮件。
type OutboundService struct {
	mailboxes *MailboxService
	sender    outbound.Sender
	metrics   *monitoring.Metrics
	log       *zap.Logger
	now       Clock
}

// NewOutboundService 创建外发服务，sender 为 nil 时外发被禁用。
func NewOutboundService(mailboxes *MailboxService, sender outbound.Sender, log *zap.Logger) *OutboundService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboundService{
		mailboxes: mailboxes,
		sender:    sender,
		log:       log,
		now:       systemClock,
	}
}

// SetClock 替换时钟。
func (s *OutboundService) SetClock(now Clock) { s.now = now }

// SetMetrics 设置监控指标。
func (s *OutboundService) SetMetrics(m *monitoring.Metrics) { s.metrics = m }

// Enabled 报告是否配置了外发通道。
func (s *OutboundService) Enabled() bool { return s.sender != nil }

// Send 从 fromAddress 外发一封邮件。
//
// 邮箱不存在、收件人非法或未配置外发时返回 error；投递通道的失败写入 SendResult，不重试。
func (s *OutboundService) Send(ctx context.Context, fromAddress string, req SendRequest) (SendResult, error) {
	if s.sender == nil {
		return SendResult{}, domain.ErrOutboundDisabled
	}

	mailbox, err := s.mailboxes.Lookup(ctx, fromAddress)
	if err != nil {
		return SendResult{}, err
	}

	if len(req.To) == 0 || len(req.To) > maxOutboundRecipients {
		return SendResult{}, domain.ErrInvalidRecipient
	}
	recipients := make([]string, 0, len(req.To))
	for _, to := range req.To {
		addr := domain.NormalizeAddress(to)
		if _, _, err := domain.SplitAddress(addr); err != nil {
			return SendResult{}, domain.ErrInvalidRecipient
		}
		recipients = append(recipients, addr)
	}

	raw, messageID, err := outbound.Compose(outbound.Message{
		From:    mailbox.Address,
		To:      recipients,
		Subject: strings.TrimSpace(req.Subject),
		Text:    req.Text,
		HTML:    req.HTML,
		Date:    s.now(),
	})
	if err != nil {
		return SendResult{}, err
	}

	err = s.sender.Send(ctx, outbound.Envelope{
		From:      mailbox.Address,
		To:        recipients,
		MessageID: messageID,
		Raw:       raw,
	})
	s.metrics.RecordEmailSent(err == nil)
	if err != nil {
		s.log.Warn("outbound send failed",
			zap.String("from", mailbox.Address),
			zap.Int("recipients", len(recipients)),
			zap.Error(err),
		)
		return SendResult{Success: false, Error: err.Error()}, nil
	}

	s.log.Info("outbound message sent",
		zap.String("from", mailbox.Address),
		zap.String("message_id", messageID),
		zap.Int("recipients", len(recipients)),
	)
	return SendResult{Success: true, MessageID: messageID}, nil
}
