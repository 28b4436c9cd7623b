package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/storage"
)

const maxSubjectLength = 998

// EmailService 封装邮件记录的保存、读取与删除。
type EmailService struct {
	store       storage.Store
	attachments *AttachmentService
	metrics     *monitoring.Metrics
	log         *zap.Logger
	now         Clock
}

// NewEmailService 创建邮件服务。
func NewEmailService(store storage.Store, attachments *AttachmentService, log *zap.Logger) *EmailService {
	if log == nil {
		log = zap.NewNop()
	}
	return &EmailService{
		store:       store,
		attachments: attachments,
		log:         log,
		now:         systemClock,
	}
}

// SetClock 替换时钟。
func (s *EmailService) SetClock(now Clock) { s.now = now }

// SetMetrics 设置监控指标。
func (s *EmailService) SetMetrics(m *monitoring.Metrics) { s.metrics = m }

// Save 在邮箱下创建一封邮件，receivedAt 为当前时间，isRead 为 false。
// 调用方负责确认邮箱存在且未过期。
func (s *EmailService) Save(ctx context.Context, mailboxID string, env domain.Envelope) (*domain.Email, error) {
	subject := strings.TrimSpace(env.Subject)
	subject = truncateUTF8(subject, maxSubjectLength)

	email := &domain.Email{
		ID:             uuid.NewString(),
		MailboxID:      mailboxID,
		FromAddress:    strings.TrimSpace(env.FromAddress),
		FromName:       strings.TrimSpace(env.FromName),
		ToAddress:      strings.TrimSpace(env.ToAddress),
		Subject:        subject,
		TextContent:    env.TextContent,
		HTMLContent:    env.HTMLContent,
		ReceivedAt:     s.now(),
		HasAttachments: env.HasAttachments,
		IsRead:         false,
	}

	if err := s.store.CreateEmail(ctx, email); err != nil {
		return nil, fmt.Errorf("save email: %w", err)
	}
	return email, nil
}

// truncateUTF8 把 s 截断到不超过 limit 字节，且不切开多字节字符。
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// List 返回邮箱内的邮件摘要，按接收时间倒序。
func (s *EmailService) List(ctx context.Context, mailboxID string) ([]domain.EmailSummary, error) {
	return s.store.ListEmailSummaries(ctx, mailboxID)
}

// Get 返回完整邮件，并且每次读取都把 isRead 置为 true。
func (s *EmailService) Get(ctx context.Context, id string) (*domain.Email, error) {
	email, err := s.store.GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.markRead(ctx, email)
}

// GetInMailbox 同 Get，但邮件不属于 mailboxID 时返回 domain.ErrEmailNotFound 且不改变已读状态。
func (s *EmailService) GetInMailbox(ctx context.Context, mailboxID, id string) (*domain.Email, error) {
	email, err := s.Owned(ctx, mailboxID, id)
	if err != nil {
		return nil, err
	}
	return s.markRead(ctx, email)
}

// Owned 读取邮件但不标记已读，用于删除和附件访问前的归属校验。
func (s *EmailService) Owned(ctx context.Context, mailboxID, id string) (*domain.Email, error) {
	email, err := s.store.GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	if email.MailboxID != mailboxID {
		return nil, domain.ErrEmailNotFound
	}
	return email, nil
}

func (s *EmailService) markRead(ctx context.Context, email *domain.Email) (*domain.Email, error) {
	if err := s.store.MarkEmailRead(ctx, email.ID); err != nil {
		if errors.Is(err, domain.ErrEmailNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("mark email read: %w", err)
	}
	email.IsRead = true
	return email, nil
}

// Delete 先清理附件再删除邮件行，邮件不存在时为空操作。
func (s *EmailService) Delete(ctx context.Context, id string) error {
	if _, err := s.attachments.DeleteForEmail(ctx, id); err != nil {
		return err
	}

	deleted, err := s.store.DeleteEmails(ctx, []string{id})
	if err != nil {
		return fmt.Errorf("delete email: %w", err)
	}
	s.metrics.RecordEmailsDeleted("user", deleted)
	return nil
}
