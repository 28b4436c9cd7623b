package service

import (
	"context"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
)

// Notifier 接收新邮件通知，例如 websocket 推送。
type Notifier interface {
	NotifyNewMail(address string, summary domain.EmailSummary)
}

// InboundService 把解析后的入站邮件投递到对应邮箱。
type InboundService struct {
	mailboxes   *MailboxService
	emails      *EmailService
	attachments *AttachmentService
	notifier    Notifier
	metrics     *monitoring.Metrics
	log         *zap.Logger
}

// NewInboundService 创建入站投递服务。
func NewInboundService(mailboxes *MailboxService, emails *EmailService, attachments *AttachmentService, log *zap.Logger) *InboundService {
	if log == nil {
		log = zap.NewNop()
	}
	return &InboundService{
		mailboxes:   mailboxes,
		emails:      emails,
		attachments: attachments,
		log:         log,
	}
}

// SetNotifier 设置新邮件通知接收方。
func (s *InboundService) SetNotifier(n Notifier) { s.notifier = n }

// SetMetrics 设置监控指标。
func (s *InboundService) SetMetrics(m *monitoring.Metrics) { s.metrics = m }

// Deliver 把一封邮件投递给 recipient。收件邮箱不存在或已过期时返回 domain.ErrMailboxNotFound。
//
// 附件内容以 base64 文本保存，声明大小为原始字节数。任一附件保存失败时删除已写入的邮件并返回错误。
func (s *InboundService) Deliver(ctx context.Context, recipient string, msg *domain.InboundMessage, source string) (*domain.Email, error) {
	mailbox, err := s.mailboxes.Lookup(ctx, recipient)
	if err != nil {
		return nil, err
	}

	email, err := s.emails.Save(ctx, mailbox.ID, domain.Envelope{
		FromAddress:    msg.FromAddress,
		FromName:       msg.FromName,
		ToAddress:      mailbox.Address,
		Subject:        msg.Subject,
		TextContent:    msg.Text,
		HTMLContent:    msg.HTML,
		HasAttachments: len(msg.Attachments) > 0,
	})
	if err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		encoded := base64.StdEncoding.EncodeToString(att.Content)
		if _, err := s.attachments.Save(ctx, email.ID, att.Filename, att.MimeType, encoded, int64(len(att.Content))); err != nil {
			if derr := s.emails.Delete(ctx, email.ID); derr != nil {
				s.log.Warn("failed to roll back partially delivered email",
					zap.String("email_id", email.ID),
					zap.Error(derr),
				)
			}
			return nil, fmt.Errorf("store attachment %q: %w", att.Filename, err)
		}
	}

	s.metrics.RecordEmailReceived(source)
	s.log.Info("email delivered",
		zap.String("mailbox", mailbox.Address),
		zap.String("email_id", email.ID),
		zap.String("source", source),
		zap.Int("attachments", len(msg.Attachments)),
	)

	if s.notifier != nil {
		s.notifier.NotifyNewMail(mailbox.Address, email.Summary())
	}
	return email, nil
}
