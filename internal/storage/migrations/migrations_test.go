package migrations

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	// 内存库只在单个连接内可见
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestRun_SQLite(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	require.NoError(t, Run(ctx, db, "sqlite", CommandUp, nil))
	for _, table := range []string{"mailboxes", "emails", "attachments", "attachment_chunks"} {
		assert.True(t, tableExists(t, db, table), table)
	}

	t.Run("重复执行 up 为空操作", func(t *testing.T) {
		require.NoError(t, Run(ctx, db, "sqlite", CommandUp, nil))
		require.NoError(t, Run(ctx, db, "sqlite", CommandStatus, nil))
	})

	t.Run("删除邮箱级联删除邮件和附件", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO mailboxes (id, address, created_at, expires_at) VALUES ('m1', 'a@temp.example', '2026-01-01', '2026-01-02')`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO emails (id, mailbox_id, received_at) VALUES ('e1', 'm1', '2026-01-01')`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO attachments (id, email_id, created_at) VALUES ('a1', 'e1', '2026-01-01')`)
		require.NoError(t, err)

		_, err = db.Exec(`DELETE FROM mailboxes WHERE id = 'm1'`)
		require.NoError(t, err)

		var count int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM attachments`).Scan(&count))
		assert.Zero(t, count)
	})

	t.Run("分块序号唯一", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO mailboxes (id, address, created_at, expires_at) VALUES ('m2', 'b@temp.example', '2026-01-01', '2026-01-02')`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO emails (id, mailbox_id, received_at) VALUES ('e2', 'm2', '2026-01-01')`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO attachments (id, email_id, created_at) VALUES ('a2', 'e2', '2026-01-01')`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO attachment_chunks (id, attachment_id, chunk_index) VALUES ('c1', 'a2', 0)`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO attachment_chunks (id, attachment_id, chunk_index) VALUES ('c2', 'a2', 0)`)
		assert.Error(t, err)
	})

	require.NoError(t, Run(ctx, db, "sqlite", CommandDown, nil))
	assert.False(t, tableExists(t, db, "mailboxes"))
}

func TestRun_Rejects(t *testing.T) {
	db := openSQLite(t)
	assert.Error(t, Run(context.Background(), db, "oracle", CommandUp, nil))
	assert.Error(t, Run(context.Background(), db, "sqlite", "sideways", nil))
}
