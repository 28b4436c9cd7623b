package storage

import (
	"context"
	"time"

	"tempinbox/backend/internal/domain"
)

// MailboxRepository 定义邮箱数据存取操作。
//
// GetMailboxByAddress 不判断过期，过期语义由服务层按注入的时钟处理。
type MailboxRepository interface {
	CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error // 地址冲突返回 domain.ErrMailboxExists
	GetMailboxByAddress(ctx context.Context, address string) (*domain.Mailbox, error)
	TouchMailbox(ctx context.Context, id string, at time.Time) error
	ListMailboxesByIP(ctx context.Context, ip string, now time.Time) ([]domain.Mailbox, error) // 未过期，按创建时间倒序
	ListExpiredMailboxes(ctx context.Context, now time.Time) ([]domain.Mailbox, error)
	DeleteMailboxes(ctx context.Context, ids []string) (int, error) // 同时删除邮箱下的邮件行
}

// EmailRepository 定义邮件数据存取操作。
type EmailRepository interface {
	CreateEmail(ctx context.Context, email *domain.Email) error
	GetEmail(ctx context.Context, id string) (*domain.Email, error)
	ListEmailSummaries(ctx context.Context, mailboxID string) ([]domain.EmailSummary, error) // 按接收时间倒序
	MarkEmailRead(ctx context.Context, id string) error
	DeleteEmails(ctx context.Context, ids []string) (int, error) // 不存在的 ID 直接忽略
	ListEmailIDsByMailboxes(ctx context.Context, mailboxIDs []string) ([]string, error)
	ListEmailIDsReceivedBefore(ctx context.Context, cutoff time.Time) ([]string, error) // receivedAt <= cutoff
	ListReadEmailIDs(ctx context.Context) ([]string, error)
}

// AttachmentRepository 定义附件元数据与内联内容的存取操作。
type AttachmentRepository interface {
	CreateAttachment(ctx context.Context, attachment *domain.Attachment) error
	GetAttachment(ctx context.Context, id string) (*domain.Attachment, error)
	ListAttachments(ctx context.Context, emailID string) ([]domain.Attachment, error) // 不含内容，按创建时间升序
	ListOrphanedAttachments(ctx context.Context) ([]domain.Attachment, error)         // 所属邮件已不存在的附件
	DeleteAttachments(ctx context.Context, ids []string) (int, error)
}

// ChunkRepository 定义大附件分块的存取操作，分块只写不改。
type ChunkRepository interface {
	CreateChunk(ctx context.Context, chunk *domain.AttachmentChunk) error
	GetChunk(ctx context.Context, attachmentID string, index int) (*domain.AttachmentChunk, error)
	CountChunks(ctx context.Context, attachmentID string) (int, error)
	DeleteChunksByAttachment(ctx context.Context, attachmentID string) (int, error)
}

// LeaseRepository 提供跨实例的互斥租约，用于避免多个副本同时执行同一清理任务。
type LeaseRepository interface {
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, owner string) error
}

// RateLimitRepository 提供固定窗口计数。
type RateLimitRepository interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Store 聚合记录存储所需的全部仓储接口。
type Store interface {
	MailboxRepository
	EmailRepository
	AttachmentRepository
	ChunkRepository

	// WithinTx 在事务中执行 fn；不支持事务的实现直接以自身调用 fn。
	WithinTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
	Close() error
}
