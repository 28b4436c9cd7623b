package sqlstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tempinbox/backend/internal/domain"
)

var (
	emailSummaryColumns = []string{
		"id", "mailbox_id", "from_address", "from_name", "to_address",
		"subject", "received_at", "has_attachments", "is_read",
	}
	attachmentMetaColumns = []string{
		"id", "email_id", "filename", "mime_type", "size",
		"created_at", "is_large", "chunks_count",
	}
)

// ========== Mailbox Repository ==========

// CreateMailbox 保存新邮箱，地址冲突时返回 domain.ErrMailboxExists
func (s *Store) CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	if err := s.db.WithContext(ctx).Create(mailbox).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrMailboxExists
		}
		return fmt.Errorf("create mailbox: %w", err)
	}
	return nil
}

// GetMailboxByAddress 根据完整地址获取邮箱
func (s *Store) GetMailboxByAddress(ctx context.Context, address string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&mailbox).Error
	if err != nil {
		return nil, mapNotFound(err, domain.ErrMailboxNotFound)
	}
	return &mailbox, nil
}

// TouchMailbox 更新最后访问时间
func (s *Store) TouchMailbox(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&domain.Mailbox{}).Where("id = ?", id).Update("last_accessed", at)
	if result.Error != nil {
		return fmt.Errorf("touch mailbox: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrMailboxNotFound
	}
	return nil
}

// ListMailboxesByIP 返回该 IP 创建的未过期邮箱，最新的在前
func (s *Store) ListMailboxesByIP(ctx context.Context, ip string, now time.Time) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := s.db.WithContext(ctx).
		Where("ip_address = ? AND expires_at > ?", ip, now).
		Order("created_at DESC").
		Find(&mailboxes).Error
	if err != nil {
		return nil, fmt.Errorf("list mailboxes by ip: %w", err)
	}
	return mailboxes, nil
}

// ListExpiredMailboxes 返回 expires_at <= now 的邮箱
func (s *Store) ListExpiredMailboxes(ctx context.Context, now time.Time) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	if err := s.db.WithContext(ctx).Where("expires_at <= ?", now).Find(&mailboxes).Error; err != nil {
		return nil, fmt.Errorf("list expired mailboxes: %w", err)
	}
	return mailboxes, nil
}

// DeleteMailboxes 在同一事务中删除邮箱及其邮件行
func (s *Store) DeleteMailboxes(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("mailbox_id IN ?", ids).Delete(&domain.Email{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&domain.Mailbox{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete mailboxes: %w", err)
	}
	return int(deleted), nil
}

// ========== Email Repository ==========

// CreateEmail 保存邮件
func (s *Store) CreateEmail(ctx context.Context, email *domain.Email) error {
	if err := s.db.WithContext(ctx).Create(email).Error; err != nil {
		return fmt.Errorf("create email: %w", err)
	}
	return nil
}

// GetEmail 获取完整邮件
func (s *Store) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	var email domain.Email
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&email).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrEmailNotFound)
	}
	return &email, nil
}

// ListEmailSummaries 返回邮件摘要（不含正文），按接收时间倒序
func (s *Store) ListEmailSummaries(ctx context.Context, mailboxID string) ([]domain.EmailSummary, error) {
	summaries := make([]domain.EmailSummary, 0)
	err := s.db.WithContext(ctx).
		Model(&domain.Email{}).
		Select(emailSummaryColumns).
		Where("mailbox_id = ?", mailboxID).
		Order("received_at DESC").
		Scan(&summaries).Error
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	return summaries, nil
}

// MarkEmailRead 标记邮件为已读
func (s *Store) MarkEmailRead(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&domain.Email{}).Where("id = ?", id).Update("is_read", true)
	if result.Error != nil {
		return fmt.Errorf("mark email read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL 对值未变化的行返回 0，需要再确认一次
		var count int64
		if err := s.db.WithContext(ctx).Model(&domain.Email{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("mark email read: %w", err)
		}
		if count == 0 {
			return domain.ErrEmailNotFound
		}
	}
	return nil
}

// DeleteEmails 删除邮件行，不处理附件
func (s *Store) DeleteEmails(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.Email{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete emails: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// ListEmailIDsByMailboxes 返回这些邮箱拥有的邮件 ID
func (s *Store) ListEmailIDsByMailboxes(ctx context.Context, mailboxIDs []string) ([]string, error) {
	if len(mailboxIDs) == 0 {
		return []string{}, nil
	}
	return s.pluckEmailIDs(ctx, "mailbox_id IN ?", mailboxIDs)
}

// ListEmailIDsReceivedBefore 返回 received_at <= cutoff 的邮件 ID
func (s *Store) ListEmailIDsReceivedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.pluckEmailIDs(ctx, "received_at <= ?", cutoff)
}

// ListReadEmailIDs 返回所有已读邮件 ID
func (s *Store) ListReadEmailIDs(ctx context.Context) ([]string, error) {
	return s.pluckEmailIDs(ctx, "is_read = ?", true)
}

func (s *Store) pluckEmailIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	ids := make([]string, 0)
	err := s.db.WithContext(ctx).Model(&domain.Email{}).Where(query, args...).Order("id").Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list email ids: %w", err)
	}
	return ids, nil
}

// ========== Attachment Repository ==========

// CreateAttachment 保存附件行
func (s *Store) CreateAttachment(ctx context.Context, attachment *domain.Attachment) error {
	if err := s.db.WithContext(ctx).Create(attachment).Error; err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

// GetAttachment 获取附件（含内联内容）
func (s *Store) GetAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	var attachment domain.Attachment
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&attachment).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrAttachmentNotFound)
	}
	return &attachment, nil
}

// ListAttachments 返回附件元数据（不含内容），按创建时间升序
func (s *Store) ListAttachments(ctx context.Context, emailID string) ([]domain.Attachment, error) {
	attachments := make([]domain.Attachment, 0)
	err := s.db.WithContext(ctx).
		Select(attachmentMetaColumns).
		Where("email_id = ?", emailID).
		Order("created_at ASC").
		Find(&attachments).Error
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return attachments, nil
}

// ListOrphanedAttachments 返回所属邮件已不存在的附件元数据
func (s *Store) ListOrphanedAttachments(ctx context.Context) ([]domain.Attachment, error) {
	attachments := make([]domain.Attachment, 0)
	err := s.db.WithContext(ctx).
		Select(attachmentMetaColumns).
		Where("NOT EXISTS (SELECT 1 FROM emails WHERE emails.id = attachments.email_id)").
		Order("created_at ASC").
		Find(&attachments).Error
	if err != nil {
		return nil, fmt.Errorf("list orphaned attachments: %w", err)
	}
	return attachments, nil
}

// DeleteAttachments 按 ID 删除附件行
func (s *Store) DeleteAttachments(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.Attachment{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete attachments: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// ========== Chunk Repository ==========

// CreateChunk 写入一个分块
func (s *Store) CreateChunk(ctx context.Context, chunk *domain.AttachmentChunk) error {
	if err := s.db.WithContext(ctx).Create(chunk).Error; err != nil {
		return fmt.Errorf("create chunk %d: %w", chunk.ChunkIndex, err)
	}
	return nil
}

// GetChunk 读取一个分块
func (s *Store) GetChunk(ctx context.Context, attachmentID string, index int) (*domain.AttachmentChunk, error) {
	var chunk domain.AttachmentChunk
	err := s.db.WithContext(ctx).
		Where("attachment_id = ? AND chunk_index = ?", attachmentID, index).
		First(&chunk).Error
	if err != nil {
		return nil, mapNotFound(err, domain.ErrChunkNotFound)
	}
	return &chunk, nil
}

// CountChunks 返回附件现存的分块数
func (s *Store) CountChunks(ctx context.Context, attachmentID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.AttachmentChunk{}).Where("attachment_id = ?", attachmentID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return int(count), nil
}

// DeleteChunksByAttachment 删除附件的全部分块
func (s *Store) DeleteChunksByAttachment(ctx context.Context, attachmentID string) (int, error) {
	result := s.db.WithContext(ctx).Where("attachment_id = ?", attachmentID).Delete(&domain.AttachmentChunk{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete chunks: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}
