package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempinbox/backend/internal/domain"
)

func TestAttachmentService_SaveInline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mailbox := env.createMailbox(t, "inline")
	email := env.saveEmail(t, mailbox.ID, "inline")

	for _, length := range []int{0, 1, domain.LargeAttachmentThreshold} {
		content := payload(length)
		meta, err := env.attachments.Save(ctx, email.ID, "a.txt", "text/plain", content, int64(length))
		require.NoError(t, err)
		assert.False(t, meta.IsLarge)
		assert.Equal(t, 0, meta.ChunksCount)
		assert.Empty(t, meta.Content, "返回的元数据不带内容")

		got, err := env.attachments.Get(ctx, meta.ID)
		require.NoError(t, err)
		assert.True(t, got.Complete)
		assert.Equal(t, content, got.Content)
		assert.Equal(t, int64(length), got.Attachment.Size)
	}

	_, _, _, chunks := env.store.Stats()
	assert.Equal(t, 0, chunks)
}

func TestAttachmentService_SaveChunked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mailbox := env.createMailbox(t, "chunked")
	email := env.saveEmail(t, mailbox.ID, "chunked")

	tests := []struct {
		name   string
		length int
		chunks int
	}{
		{"刚超过阈值", domain.LargeAttachmentThreshold + 1, 2},
		{"整倍数", 2 * domain.AttachmentChunkSize, 2},
		{"三块", 1200000, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := payload(tt.length)
			meta, err := env.attachments.Save(ctx, email.ID, "big.bin", "application/octet-stream", content, 42)
			require.NoError(t, err)
			assert.True(t, meta.IsLarge)
			assert.Equal(t, tt.chunks, meta.ChunksCount)

			stored, err := env.store.GetAttachment(ctx, meta.ID)
			require.NoError(t, err)
			assert.Empty(t, stored.Content, "分块附件行不保存内容")

			count, err := env.store.CountChunks(ctx, meta.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.chunks, count)

			got, err := env.attachments.Get(ctx, meta.ID)
			require.NoError(t, err)
			assert.True(t, got.Complete)
			assert.Empty(t, got.MissingChunks)
			assert.Equal(t, content, got.Content)
			assert.Equal(t, int64(42), got.Attachment.Size, "Size 始终是声明大小")
		})
	}
}

func TestAttachmentService_GetWithGaps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mailbox := env.createMailbox(t, "gaps")
	email := env.saveEmail(t, mailbox.ID, "gaps")

	content := payload(1200000)
	meta, err := env.attachments.Save(ctx, email.ID, "big.bin", "application/octet-stream", content, 1200000)
	require.NoError(t, err)

	t.Run("缺失分块时返回部分内容", func(t *testing.T) {
		env.store.missingChunks[1] = true
		defer env.store.heal()

		got, err := env.attachments.Get(ctx, meta.ID)
		require.NoError(t, err)
		assert.False(t, got.Complete)
		assert.Equal(t, []int{1}, got.MissingChunks)
		assert.Equal(t, content[:500000]+content[1000000:], got.Content)
	})

	t.Run("其他读取错误直接返回", func(t *testing.T) {
		env.store.chunkReadErr = errInjected
		defer env.store.heal()

		_, err := env.attachments.Get(ctx, meta.ID)
		assert.ErrorIs(t, err, errInjected)
	})

	t.Run("附件不存在", func(t *testing.T) {
		_, err := env.attachments.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrAttachmentNotFound)
	})
}

func TestAttachmentService_PartialWrite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mailbox := env.createMailbox(t, "partial")
	email := env.saveEmail(t, mailbox.ID, "partial")

	env.store.failChunkWrite = 2
	_, err := env.attachments.Save(ctx, email.ID, "big.bin", "application/octet-stream", payload(1200000), 1200000)
	require.ErrorIs(t, err, errInjected)
	env.store.heal()

	// 非事务写入时附件行与前两个分块已经提交
	list, err := env.attachments.List(ctx, email.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got, err := env.attachments.Get(ctx, list[0].ID)
	require.NoError(t, err)
	assert.False(t, got.Complete)
	assert.Equal(t, []int{2}, got.MissingChunks)
	assert.Len(t, got.Content, 1000000)
}

func TestAttachmentService_List(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mailbox := env.createMailbox(t, "listing")
	email := env.saveEmail(t, mailbox.ID, "listing")

	for _, name := range []string{"first.txt", "second.txt", "third.txt"} {
		_, err := env.attachments.Save(ctx, email.ID, name, "text/plain", name, int64(len(name)))
		require.NoError(t, err)
	}

	list, err := env.attachments.List(ctx, email.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "first.txt", list[0].Filename)
	assert.Equal(t, "third.txt", list[2].Filename)
	for _, att := range list {
		assert.Empty(t, att.Content)
	}
}

func TestAttachmentService_DeleteForEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("删除全部附件和分块且可重复执行", func(t *testing.T) {
		env := newTestEnv(t)
		mailbox := env.createMailbox(t, "delete")
		email := env.saveEmail(t, mailbox.ID, "delete")

		_, err := env.attachments.Save(ctx, email.ID, "small.txt", "text/plain", "hello", 5)
		require.NoError(t, err)
		_, err = env.attachments.Save(ctx, email.ID, "big.bin", "application/octet-stream", payload(1200000), 1200000)
		require.NoError(t, err)

		deleted, err := env.attachments.DeleteForEmail(ctx, email.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)

		_, _, attachments, chunks := env.store.Stats()
		assert.Zero(t, attachments)
		assert.Zero(t, chunks)

		deleted, err = env.attachments.DeleteForEmail(ctx, email.ID)
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})

	t.Run("分块删除失败时跳过该附件", func(t *testing.T) {
		env := newTestEnv(t)
		mailbox := env.createMailbox(t, "skipped")
		email := env.saveEmail(t, mailbox.ID, "skipped")

		stuck, err := env.attachments.Save(ctx, email.ID, "stuck.bin", "application/octet-stream", payload(600000), 600000)
		require.NoError(t, err)
		_, err = env.attachments.Save(ctx, email.ID, "other.bin", "application/octet-stream", payload(600000), 600000)
		require.NoError(t, err)

		env.store.failChunkDeletes[stuck.ID] = true
		deleted, err := env.attachments.DeleteForEmail(ctx, email.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)

		remaining, err := env.attachments.List(ctx, email.ID)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, stuck.ID, remaining[0].ID)

		count, err := env.store.CountChunks(ctx, stuck.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, count, "跳过的附件保留完整分块")

		// 邮件删除后该附件成为孤儿，故障恢复后由回收任务清理
		_, err = env.store.DeleteEmails(ctx, []string{email.ID})
		require.NoError(t, err)
		env.store.heal()

		reclaimed, err := env.attachments.CleanupOrphaned(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, reclaimed)

		_, _, attachments, chunks := env.store.Stats()
		assert.Zero(t, attachments)
		assert.Zero(t, chunks)
	})

	t.Run("列出之后新写入的附件保留", func(t *testing.T) {
		env := newTestEnv(t)
		mailbox := env.createMailbox(t, "racing")
		email := env.saveEmail(t, mailbox.ID, "racing")

		_, err := env.attachments.Save(ctx, email.ID, "first.txt", "text/plain", "hello", 5)
		require.NoError(t, err)

		late := &domain.Attachment{ID: "late", EmailID: email.ID, Filename: "late.bin", IsLarge: true, ChunksCount: 1, CreatedAt: env.clock.Now()}
		env.store.afterList = func(string) {
			env.store.afterList = nil
			require.NoError(t, env.store.Store.CreateAttachment(ctx, late))
			require.NoError(t, env.store.Store.CreateChunk(ctx, &domain.AttachmentChunk{ID: "late-0", AttachmentID: late.ID, ChunkIndex: 0, Content: "abcd"}))
		}

		deleted, err := env.attachments.DeleteForEmail(ctx, email.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)

		remaining, err := env.attachments.List(ctx, email.ID)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, late.ID, remaining[0].ID)

		count, err := env.store.CountChunks(ctx, late.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		deleted, err = env.attachments.DeleteForEmail(ctx, email.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)
		_, _, attachments, chunks := env.store.Stats()
		assert.Zero(t, attachments)
		assert.Zero(t, chunks)
	})
}

func TestChunkStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	chunks := NewChunkStore(env.store)

	require.NoError(t, chunks.WriteChunk(ctx, "att-1", 0, "abc"))
	require.NoError(t, chunks.WriteChunk(ctx, "att-1", 2, "ghi"))

	chunk, err := chunks.ReadChunk(ctx, "att-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "abc", chunk.Content)

	_, err = chunks.ReadChunk(ctx, "att-1", 1)
	assert.ErrorIs(t, err, domain.ErrChunkNotFound)

	result, err := chunks.ReadAllOrdered(ctx, "att-1", 3)
	require.NoError(t, err)
	assert.Equal(t, "abcghi", result.Content)
	assert.Equal(t, []int{1}, result.Missing)
	assert.False(t, result.Complete())

	assert.Error(t, chunks.WriteChunk(ctx, "att-1", 0, "again"), "分块只能写入一次")
}

func TestSplit(t *testing.T) {
	assert.Empty(t, split("", 3))
	assert.Equal(t, []string{"abc", "de"}, split("abcde", 3))
	assert.Equal(t, []string{"abc", "def"}, split("abcdef", 3))
}

func TestPlausibleLength(t *testing.T) {
	assert.True(t, plausibleLength(1200000, 3))
	assert.True(t, plausibleLength(1000000, 2))
	assert.False(t, plausibleLength(1000000, 3))
	assert.False(t, plausibleLength(1500001, 3))
	assert.True(t, plausibleLength(0, 0))
}
