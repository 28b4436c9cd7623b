package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/storage"
)

// Reassembly 是按序读取分块的结果。
//
// 缺失的分块会被跳过，Missing 记录跳过的下标，调用方据此判断内容是否完整。
type Reassembly struct {
	Content string
	Missing []int
}

// Complete 判断重组结果是否包含全部分块。
func (r Reassembly) Complete() bool {
	return len(r.Missing) == 0
}

// ChunkStore 负责大附件分块的写入与有序重组。
type ChunkStore struct {
	repo storage.ChunkRepository
}

// NewChunkStore 创建分块存储。
func NewChunkStore(repo storage.ChunkRepository) *ChunkStore {
	return &ChunkStore{repo: repo}
}

// WriteChunk 写入一个分块，分块只写不改。
func (c *ChunkStore) WriteChunk(ctx context.Context, attachmentID string, index int, content string) error {
	chunk := &domain.AttachmentChunk{
		ID:           uuid.NewString(),
		AttachmentID: attachmentID,
		ChunkIndex:   index,
		Content:      content,
	}
	if err := c.repo.CreateChunk(ctx, chunk); err != nil {
		return fmt.Errorf("write chunk %d of attachment %s: %w", index, attachmentID, err)
	}
	return nil
}

// ReadChunk 读取一个分块，不存在时返回 domain.ErrChunkNotFound。
func (c *ChunkStore) ReadChunk(ctx context.Context, attachmentID string, index int) (*domain.AttachmentChunk, error) {
	return c.repo.GetChunk(ctx, attachmentID, index)
}

// ReadAllOrdered 依次读取 0..count-1 号分块并拼接。
// 缺失的分块留下空洞而不是让整个读取失败；其他存储错误直接返回。
func (c *ChunkStore) ReadAllOrdered(ctx context.Context, attachmentID string, count int) (Reassembly, error) {
	var (
		builder strings.Builder
		missing []int
	)
	for index := 0; index < count; index++ {
		chunk, err := c.repo.GetChunk(ctx, attachmentID, index)
		if errors.Is(err, domain.ErrChunkNotFound) {
			missing = append(missing, index)
			continue
		}
		if err != nil {
			return Reassembly{}, fmt.Errorf("read chunk %d of attachment %s: %w", index, attachmentID, err)
		}
		if builder.Len() == 0 && count > 1 {
			builder.Grow(count * domain.AttachmentChunkSize)
		}
		builder.WriteString(chunk.Content)
	}
	return Reassembly{Content: builder.String(), Missing: missing}, nil
}

// split 把内容切成固定长度的分块，最后一块可以更短。
func split(content string, size int) []string {
	parts := make([]string, 0, domain.ChunkCount(len(content)))
	for start := 0; start < len(content); start += size {
		end := start + size
		if end > len(content) {
			end = len(content)
		}
		parts = append(parts, content[start:end])
	}
	return parts
}
