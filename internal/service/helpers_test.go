package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/storage/memory"
)

var errInjected = errors.New("injected failure")

// virtualClock 是测试用的可推进时钟。
type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newVirtualClock() *virtualClock {
	return &virtualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// faultyStore 在内存存储之上注入分块读写故障。
type faultyStore struct {
	*memory.Store

	mu               sync.Mutex
	missingChunks    map[int]bool
	chunkReadErr     error
	failChunkDeletes map[string]bool
	failChunkWrite   int
	afterList        func(emailID string)
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		Store:            memory.NewStore(),
		missingChunks:    make(map[int]bool),
		failChunkDeletes: make(map[string]bool),
		failChunkWrite:   -1,
	}
}

func (f *faultyStore) GetChunk(ctx context.Context, attachmentID string, index int) (*domain.AttachmentChunk, error) {
	f.mu.Lock()
	missing, readErr := f.missingChunks[index], f.chunkReadErr
	f.mu.Unlock()
	if readErr != nil {
		return nil, readErr
	}
	if missing {
		return nil, domain.ErrChunkNotFound
	}
	return f.Store.GetChunk(ctx, attachmentID, index)
}

func (f *faultyStore) CreateChunk(ctx context.Context, chunk *domain.AttachmentChunk) error {
	f.mu.Lock()
	fail := f.failChunkWrite == chunk.ChunkIndex
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.CreateChunk(ctx, chunk)
}

func (f *faultyStore) DeleteChunksByAttachment(ctx context.Context, attachmentID string) (int, error) {
	f.mu.Lock()
	fail := f.failChunkDeletes[attachmentID]
	f.mu.Unlock()
	if fail {
		return 0, errInjected
	}
	return f.Store.DeleteChunksByAttachment(ctx, attachmentID)
}

func (f *faultyStore) ListAttachments(ctx context.Context, emailID string) ([]domain.Attachment, error) {
	list, err := f.Store.ListAttachments(ctx, emailID)
	f.mu.Lock()
	hook := f.afterList
	f.mu.Unlock()
	if hook != nil {
		hook(emailID)
	}
	return list, err
}

func (f *faultyStore) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missingChunks = make(map[int]bool)
	f.chunkReadErr = nil
	f.failChunkDeletes = make(map[string]bool)
	f.failChunkWrite = -1
}

// testEnv 组装一套使用虚拟时钟的服务。
type testEnv struct {
	clock       *virtualClock
	store       *faultyStore
	attachments *AttachmentService
	emails      *EmailService
	mailboxes   *MailboxService
	retention   *RetentionService
}

func testMailboxConfig() config.MailboxConfig {
	return config.MailboxConfig{
		AllowedDomains:    []string{"temp.example", "drop.example"},
		DefaultTTLHours:   24,
		MaxTTLHours:       72,
		MaxPerIP:          0,
		CreateRatePerHour: 0,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, testMailboxConfig())
}

func newTestEnvWithConfig(t *testing.T, cfg config.MailboxConfig) *testEnv {
	t.Helper()

	clock := newVirtualClock()
	store := newFaultyStore()
	store.SetClock(clock.Now)
	log := zap.NewNop()

	attachments := NewAttachmentService(store, log)
	attachments.SetClock(clock.Now)

	emails := NewEmailService(store, attachments, log)
	emails.SetClock(clock.Now)

	mailboxes := NewMailboxService(store, attachments, cfg, log)
	mailboxes.SetClock(clock.Now)
	mailboxes.SetRateLimiter(store)

	retention := NewRetentionService(store, attachments, config.RetentionConfig{
		EmailMaxAge:     24 * time.Hour,
		SweepReadEmails: true,
	}, log)
	retention.SetClock(clock.Now)

	return &testEnv{
		clock:       clock,
		store:       store,
		attachments: attachments,
		emails:      emails,
		mailboxes:   mailboxes,
		retention:   retention,
	}
}

func (e *testEnv) createMailbox(t *testing.T, localPart string) *domain.Mailbox {
	t.Helper()
	mailbox, err := e.mailboxes.Create(context.Background(), CreateMailboxInput{LocalPart: localPart, IPAddress: "203.0.113.7"})
	require.NoError(t, err)
	return mailbox
}

func (e *testEnv) saveEmail(t *testing.T, mailboxID, subject string) *domain.Email {
	t.Helper()
	email, err := e.emails.Save(context.Background(), mailboxID, domain.Envelope{
		FromAddress: "sender@example.com",
		Subject:     subject,
		TextContent: "body of " + subject,
	})
	require.NoError(t, err)
	return email
}

// payload 生成长度为 n 的确定性内容。
func payload(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = alphabet[(i*7+i/500000)%len(alphabet)]
	}
	return string(buf)
}
