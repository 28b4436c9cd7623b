package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/storage"
)

// Store 使用内存保存邮箱、邮件、附件与分块，主要用于开发验证和测试。
//
// 删除邮箱时只会级联删除邮件行，附件与分块需要由调用方显式清理，
// 行为与不支持声明式级联的数据库保持一致。
type Store struct {
	mu          sync.RWMutex
	mailboxes   map[string]*domain.Mailbox
	byAddress   map[string]string
	emails      map[string]*domain.Email
	attachments map[string]*domain.Attachment
	chunks      map[string]map[int]*domain.AttachmentChunk // attachmentID -> chunkIndex -> chunk
	seq         map[string]int64                           // attachmentID -> 插入序号，用于稳定排序
	nextSeq     int64

	// 速率限制与租约
	rateLimits map[string]*rateLimitEntry
	leases     map[string]*leaseEntry

	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		mailboxes:   make(map[string]*domain.Mailbox),
		byAddress:   make(map[string]string),
		emails:      make(map[string]*domain.Email),
		attachments: make(map[string]*domain.Attachment),
		chunks:      make(map[string]map[int]*domain.AttachmentChunk),
		seq:         make(map[string]int64),
		rateLimits:  make(map[string]*rateLimitEntry),
		leases:      make(map[string]*leaseEntry),
		now:         time.Now,
	}
}

// SetClock 替换租约与限流使用的时钟。
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// WithinTx 内存实现不提供原子性，直接执行 fn。
func (s *Store) WithinTx(_ context.Context, fn func(tx storage.Store) error) error {
	return fn(s)
}

// Ping 内存存储始终可用。
func (s *Store) Ping(context.Context) error { return nil }

// Close 释放内存数据。
func (s *Store) Close() error { return nil }

// ========== Mailbox ==========

// CreateMailbox 保存新邮箱，地址重复时返回 domain.ErrMailboxExists。
func (s *Store) CreateMailbox(_ context.Context, mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byAddress[mailbox.Address]; exists {
		return domain.ErrMailboxExists
	}
	clone := *mailbox
	s.mailboxes[mailbox.ID] = &clone
	s.byAddress[mailbox.Address] = mailbox.ID
	return nil
}

// GetMailboxByAddress 根据完整地址获取邮箱，不判断是否过期。
func (s *Store) GetMailboxByAddress(_ context.Context, address string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, domain.ErrMailboxNotFound
	}
	clone := *s.mailboxes[id]
	return &clone, nil
}

// TouchMailbox 更新最后访问时间。
func (s *Store) TouchMailbox(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[id]
	if !ok {
		return domain.ErrMailboxNotFound
	}
	mailbox.LastAccessed = at
	return nil
}

// ListMailboxesByIP 返回该 IP 创建的未过期邮箱，最新的在前。
func (s *Store) ListMailboxesByIP(_ context.Context, ip string, now time.Time) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Mailbox, 0)
	for _, mailbox := range s.mailboxes {
		if mailbox.IPAddress == ip && !mailbox.IsExpired(now) {
			result = append(result, *mailbox)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// ListExpiredMailboxes 返回 expiresAt <= now 的邮箱。
func (s *Store) ListExpiredMailboxes(_ context.Context, now time.Time) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Mailbox, 0)
	for _, mailbox := range s.mailboxes {
		if mailbox.IsExpired(now) {
			result = append(result, *mailbox)
		}
	}
	return result, nil
}

// DeleteMailboxes 删除邮箱及其邮件行，返回实际删除的邮箱数量。
func (s *Store) DeleteMailboxes(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if s.deleteMailboxLocked(id) {
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) deleteMailboxLocked(id string) bool {
	mailbox, ok := s.mailboxes[id]
	if !ok {
		return false
	}
	for emailID, email := range s.emails {
		if email.MailboxID == id {
			delete(s.emails, emailID)
		}
	}
	delete(s.byAddress, mailbox.Address)
	delete(s.mailboxes, id)
	return true
}

// ========== Email ==========

// CreateEmail 保存邮件。
func (s *Store) CreateEmail(_ context.Context, email *domain.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *email
	s.emails[email.ID] = &clone
	return nil
}

// GetEmail 获取完整邮件。
func (s *Store) GetEmail(_ context.Context, id string) (*domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email, ok := s.emails[id]
	if !ok {
		return nil, domain.ErrEmailNotFound
	}
	clone := *email
	return &clone, nil
}

// ListEmailSummaries 返回邮箱内的邮件摘要，按接收时间倒序。
func (s *Store) ListEmailSummaries(_ context.Context, mailboxID string) ([]domain.EmailSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.EmailSummary, 0)
	for _, email := range s.emails {
		if email.MailboxID == mailboxID {
			result = append(result, email.Summary())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.After(result[j].ReceivedAt)
	})
	return result, nil
}

// MarkEmailRead 标记邮件为已读。
func (s *Store) MarkEmailRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.emails[id]
	if !ok {
		return domain.ErrEmailNotFound
	}
	email.IsRead = true
	return nil
}

// DeleteEmails 删除邮件行，不处理附件。
func (s *Store) DeleteEmails(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := s.emails[id]; ok {
			delete(s.emails, id)
			deleted++
		}
	}
	return deleted, nil
}

// ListEmailIDsByMailboxes 返回这些邮箱拥有的邮件 ID。
func (s *Store) ListEmailIDsByMailboxes(_ context.Context, mailboxIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make(map[string]struct{}, len(mailboxIDs))
	for _, id := range mailboxIDs {
		owners[id] = struct{}{}
	}
	return s.collectEmailIDsLocked(func(e *domain.Email) bool {
		_, ok := owners[e.MailboxID]
		return ok
	}), nil
}

// ListEmailIDsReceivedBefore 返回 receivedAt <= cutoff 的邮件 ID。
func (s *Store) ListEmailIDsReceivedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectEmailIDsLocked(func(e *domain.Email) bool {
		return !e.ReceivedAt.After(cutoff)
	}), nil
}

// ListReadEmailIDs 返回所有已读邮件 ID。
func (s *Store) ListReadEmailIDs(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectEmailIDsLocked(func(e *domain.Email) bool { return e.IsRead }), nil
}

func (s *Store) collectEmailIDsLocked(match func(*domain.Email) bool) []string {
	ids := make([]string, 0)
	for id, email := range s.emails {
		if match(email) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ========== Attachment ==========

// CreateAttachment 保存附件行。
func (s *Store) CreateAttachment(_ context.Context, attachment *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *attachment
	s.attachments[attachment.ID] = &clone
	s.nextSeq++
	s.seq[attachment.ID] = s.nextSeq
	return nil
}

// GetAttachment 获取附件（含内联内容）。
func (s *Store) GetAttachment(_ context.Context, id string) (*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attachment, ok := s.attachments[id]
	if !ok {
		return nil, domain.ErrAttachmentNotFound
	}
	clone := *attachment
	return &clone, nil
}

// ListAttachments 返回邮件的附件元数据，按创建时间升序。
func (s *Store) ListAttachments(_ context.Context, emailID string) ([]domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectAttachmentsLocked(func(a *domain.Attachment) bool {
		return a.EmailID == emailID
	}), nil
}

// ListOrphanedAttachments 返回所属邮件已不存在的附件元数据。
func (s *Store) ListOrphanedAttachments(context.Context) ([]domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectAttachmentsLocked(func(a *domain.Attachment) bool {
		_, ok := s.emails[a.EmailID]
		return !ok
	}), nil
}

func (s *Store) collectAttachmentsLocked(match func(*domain.Attachment) bool) []domain.Attachment {
	result := make([]domain.Attachment, 0)
	for _, attachment := range s.attachments {
		if match(attachment) {
			meta := *attachment
			meta.Content = ""
			result = append(result, meta)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return s.seq[result[i].ID] < s.seq[result[j].ID]
	})
	return result
}

// DeleteAttachments 按 ID 删除附件行。
func (s *Store) DeleteAttachments(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := s.attachments[id]; ok {
			delete(s.attachments, id)
			delete(s.seq, id)
			deleted++
		}
	}
	return deleted, nil
}

// ========== Chunk ==========

// CreateChunk 写入一个分块，同一位置重复写入返回错误。
func (s *Store) CreateChunk(_ context.Context, chunk *domain.AttachmentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byIndex, ok := s.chunks[chunk.AttachmentID]
	if !ok {
		byIndex = make(map[int]*domain.AttachmentChunk)
		s.chunks[chunk.AttachmentID] = byIndex
	}
	if _, exists := byIndex[chunk.ChunkIndex]; exists {
		return errChunkExists
	}
	clone := *chunk
	byIndex[chunk.ChunkIndex] = &clone
	return nil
}

// GetChunk 读取一个分块。
func (s *Store) GetChunk(_ context.Context, attachmentID string, index int) (*domain.AttachmentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunk, ok := s.chunks[attachmentID][index]
	if !ok {
		return nil, domain.ErrChunkNotFound
	}
	clone := *chunk
	return &clone, nil
}

// CountChunks 返回附件现存的分块数。
func (s *Store) CountChunks(_ context.Context, attachmentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.chunks[attachmentID]), nil
}

// DeleteChunksByAttachment 删除附件的全部分块。
func (s *Store) DeleteChunksByAttachment(_ context.Context, attachmentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := len(s.chunks[attachmentID])
	delete(s.chunks, attachmentID)
	return deleted, nil
}

// Stats 返回各类记录的数量，供测试与诊断使用。
func (s *Store) Stats() (mailboxes, emails, attachments, chunks int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, byIndex := range s.chunks {
		chunks += len(byIndex)
	}
	return len(s.mailboxes), len(s.emails), len(s.attachments), chunks
}
