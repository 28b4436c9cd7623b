package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/storage"
	"tempinbox/backend/internal/storage/sqlstore"
)

// chunkFailer 在事务内的第 failAt 个分块写入时失败。
type chunkFailer struct {
	storage.Store
	failAt int
}

func (c *chunkFailer) CreateChunk(ctx context.Context, chunk *domain.AttachmentChunk) error {
	if chunk.ChunkIndex == c.failAt {
		return errInjected
	}
	return c.Store.CreateChunk(ctx, chunk)
}

// txFaultStore 把事务句柄包装成 chunkFailer。
type txFaultStore struct {
	storage.Store
	failAt int
}

func (s *txFaultStore) WithinTx(ctx context.Context, fn func(tx storage.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx storage.Store) error {
		return fn(&chunkFailer{Store: tx, failAt: s.failAt})
	})
}

func newSQLiteStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := sqlstore.Open(sqlstore.Options{Driver: sqlstore.DriverSQLite, DSN: dsn, MaxOpenConns: 1, AutoMigrate: true}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAttachmentService_AtomicWrites(t *testing.T) {
	ctx := context.Background()
	content := payload(2*domain.AttachmentChunkSize + 10)

	t.Run("事务内写入全部分块", func(t *testing.T) {
		store := newSQLiteStore(t)
		attachments := NewAttachmentService(store, zap.NewNop())
		attachments.SetAtomicWrites(true)

		meta, err := attachments.Save(ctx, "em-1", "big.bin", "application/octet-stream", content, int64(len(content)))
		require.NoError(t, err)
		assert.Equal(t, 3, meta.ChunksCount)

		got, err := attachments.Get(ctx, meta.ID)
		require.NoError(t, err)
		assert.True(t, got.Complete)
		assert.Equal(t, content, got.Content)
	})

	t.Run("分块失败时整体回滚", func(t *testing.T) {
		store := newSQLiteStore(t)
		attachments := NewAttachmentService(&txFaultStore{Store: store, failAt: 1}, zap.NewNop())
		attachments.SetAtomicWrites(true)

		_, err := attachments.Save(ctx, "em-1", "big.bin", "application/octet-stream", content, int64(len(content)))
		require.ErrorIs(t, err, errInjected)

		list, err := store.ListAttachments(ctx, "em-1")
		require.NoError(t, err)
		assert.Empty(t, list, "附件行随事务回滚")
	})

	t.Run("非原子模式保留部分写入", func(t *testing.T) {
		store := newSQLiteStore(t)
		faulty := &chunkFailer{Store: store, failAt: 1}
		attachments := NewAttachmentService(faulty, zap.NewNop())

		_, err := attachments.Save(ctx, "em-1", "big.bin", "application/octet-stream", content, int64(len(content)))
		require.ErrorIs(t, err, errInjected)

		list, err := store.ListAttachments(ctx, "em-1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		count, err := store.CountChunks(ctx, list[0].ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}
