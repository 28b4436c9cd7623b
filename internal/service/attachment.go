package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/storage"
)

// AttachmentContent 是读取附件的结果。
//
// 分块附件缺少分块时仍然返回已有内容，Complete 为 false 并在 MissingChunks 中列出缺失下标。
type AttachmentContent struct {
	Attachment    domain.Attachment
	Content       string
	Complete      bool
	MissingChunks []int
}

// AttachmentService 决定附件的内联或分块存储，并负责附件的读取和清理。
type AttachmentService struct {
	store        storage.Store
	chunks       *ChunkStore
	atomicWrites bool
	metrics      *monitoring.Metrics
	log          *zap.Logger
	now          Clock
}

// NewAttachmentService 创建附件服务。
func NewAttachmentService(store storage.Store, log *zap.Logger) *AttachmentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AttachmentService{
		store:  store,
		chunks: NewChunkStore(store),
		log:    log,
		now:    systemClock,
	}
}

// SetClock 替换时钟。
func (s *AttachmentService) SetClock(now Clock) { s.now = now }

// SetMetrics 设置监控指标。
func (s *AttachmentService) SetMetrics(m *monitoring.Metrics) { s.metrics = m }

// SetAtomicWrites 开启后附件行与分块在同一事务中写入（存储支持事务时生效）。
func (s *AttachmentService) SetAtomicWrites(enabled bool) { s.atomicWrites = enabled }

// Save 保存一个附件。
//
// 是否分块由 rawContent 的长度决定，与 declaredSize 无关；Size 字段始终记录 declaredSize。
// 分块附件先写附件行（Content 为空），再按顺序写入分块。
func (s *AttachmentService) Save(ctx context.Context, emailID, filename, mimeType, rawContent string, declaredSize int64) (*domain.Attachment, error) {
	attachment := &domain.Attachment{
		ID:        uuid.NewString(),
		EmailID:   emailID,
		Filename:  filename,
		MimeType:  mimeType,
		Size:      declaredSize,
		CreatedAt: s.now(),
	}

	var parts []string
	if domain.NeedsChunking(len(rawContent)) {
		parts = split(rawContent, domain.AttachmentChunkSize)
		attachment.IsLarge = true
		attachment.ChunksCount = len(parts)
	} else {
		attachment.Content = rawContent
	}

	write := func(st storage.Store) error {
		if err := st.CreateAttachment(ctx, attachment); err != nil {
			return fmt.Errorf("save attachment: %w", err)
		}
		chunks := NewChunkStore(st)
		for index, part := range parts {
			if err := chunks.WriteChunk(ctx, attachment.ID, index, part); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if s.atomicWrites {
		err = s.store.WithinTx(ctx, write)
	} else {
		err = write(s.store)
	}
	if err != nil {
		s.log.Error("failed to save attachment",
			zap.String("email_id", emailID),
			zap.String("attachment_id", attachment.ID),
			zap.Int("chunks", len(parts)),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordAttachmentStored(attachment.IsLarge, declaredSize, len(parts))
	if attachment.IsLarge {
		s.log.Debug("attachment stored in chunks",
			zap.String("attachment_id", attachment.ID),
			zap.Int("chunks", attachment.ChunksCount),
			zap.Int("length", len(rawContent)),
		)
	}

	meta := *attachment
	meta.Content = ""
	return &meta, nil
}

// Get 读取附件及完整内容，分块附件会按序重组。
func (s *AttachmentService) Get(ctx context.Context, id string) (*AttachmentContent, error) {
	attachment, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}

	if !attachment.IsLarge {
		content := attachment.Content
		attachment.Content = ""
		return &AttachmentContent{Attachment: *attachment, Content: content, Complete: true}, nil
	}

	result, err := s.chunks.ReadAllOrdered(ctx, attachment.ID, attachment.ChunksCount)
	if err != nil {
		return nil, err
	}

	complete := result.Complete() && plausibleLength(len(result.Content), attachment.ChunksCount)
	if !complete {
		s.metrics.RecordReassemblyGap()
		s.log.Warn("attachment reassembled with missing chunks",
			zap.String("attachment_id", attachment.ID),
			zap.Int("chunks_count", attachment.ChunksCount),
			zap.Ints("missing", result.Missing),
			zap.Int("length", len(result.Content)),
		)
	}

	return &AttachmentContent{
		Attachment:    *attachment,
		Content:       result.Content,
		Complete:      complete,
		MissingChunks: result.Missing,
	}, nil
}

// plausibleLength 判断重组后的长度是否符合分块数：前 n-1 块都是整块，最后一块非空。
func plausibleLength(length, chunksCount int) bool {
	if chunksCount == 0 {
		return true
	}
	return length > (chunksCount-1)*domain.AttachmentChunkSize &&
		length <= chunksCount*domain.AttachmentChunkSize
}

// List 返回邮件的附件元数据，按创建时间升序。
func (s *AttachmentService) List(ctx context.Context, emailID string) ([]domain.Attachment, error) {
	return s.store.ListAttachments(ctx, emailID)
}

// DeleteForEmail 删除邮件的全部附件：先删大附件的分块，再批量删除附件行。
//
// 单个附件的分块删除失败只记录日志并跳过该附件行，保证不会留下指向已删除附件的分块；
// 跳过的附件在邮件删除后会成为孤儿，由 CleanupOrphaned 重试。
func (s *AttachmentService) DeleteForEmail(ctx context.Context, emailID string) (int, error) {
	deleted, _, err := s.deleteForEmail(ctx, emailID)
	return deleted, err
}

func (s *AttachmentService) deleteForEmail(ctx context.Context, emailID string) (int, int, error) {
	attachments, err := s.store.ListAttachments(ctx, emailID)
	if err != nil {
		return 0, 0, fmt.Errorf("list attachments for email %s: %w", emailID, err)
	}
	if len(attachments) == 0 {
		return 0, 0, nil
	}

	// 只删除已清理分块的附件行，列出之后新写入的附件留给下一次清理
	cleared, failed := s.clearChunks(ctx, attachments)
	deleted, err := s.store.DeleteAttachments(ctx, cleared)
	if err != nil {
		return 0, failed, fmt.Errorf("delete attachments for email %s: %w", emailID, err)
	}
	return deleted, failed, nil
}

// CleanupOrphaned 删除所属邮件已不存在的附件（先分块后附件行），返回删除数量。
func (s *AttachmentService) CleanupOrphaned(ctx context.Context) (int, error) {
	orphans, err := s.store.ListOrphanedAttachments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list orphaned attachments: %w", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	cleared, _ := s.clearChunks(ctx, orphans)
	deleted, err := s.store.DeleteAttachments(ctx, cleared)
	if err != nil {
		return 0, fmt.Errorf("delete orphaned attachments: %w", err)
	}

	s.metrics.RecordOrphansReclaimed(deleted)
	if deleted > 0 {
		s.log.Info("orphaned attachments reclaimed", zap.Int("deleted", deleted))
	}
	return deleted, nil
}

// clearChunks 删除大附件的分块，返回可以安全删除行的附件 ID 及失败数量。
func (s *AttachmentService) clearChunks(ctx context.Context, attachments []domain.Attachment) ([]string, int) {
	cleared := make([]string, 0, len(attachments))
	failed := 0
	for _, attachment := range attachments {
		if attachment.IsLarge {
			if _, err := s.store.DeleteChunksByAttachment(ctx, attachment.ID); err != nil {
				failed++
				s.log.Warn("failed to delete attachment chunks",
					zap.String("attachment_id", attachment.ID),
					zap.String("email_id", attachment.EmailID),
					zap.Error(err),
				)
				continue
			}
		}
		cleared = append(cleared, attachment.ID)
	}
	return cleared, failed
}

// deleteForEmails 逐封清理附件，失败只记录日志，返回失败次数（含单个附件的分块删除失败）。
func (s *AttachmentService) deleteForEmails(ctx context.Context, emailIDs []string) int {
	failures := 0
	for _, emailID := range emailIDs {
		_, failed, err := s.deleteForEmail(ctx, emailID)
		failures += failed
		if err != nil {
			failures++
			s.log.Warn("attachment cleanup failed", zap.String("email_id", emailID), zap.Error(err))
		}
	}
	return failures
}
