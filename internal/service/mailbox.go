package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/storage"
)

const (
	generatedLocalPartLength = 10
	generateAttempts         = 5
	localPartAlphabet        = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// MailboxService 封装邮箱分配、查询与删除。
type MailboxService struct {
	store       storage.Store
	limits      storage.RateLimitRepository
	attachments *AttachmentService
	cfg         config.MailboxConfig
	domainSet   map[string]struct{}
	metrics     *monitoring.Metrics
	log         *zap.Logger
	now         Clock
}

// NewMailboxService 创建邮箱业务服务。
func NewMailboxService(store storage.Store, attachments *AttachmentService, cfg config.MailboxConfig, log *zap.Logger) *MailboxService {
	if log == nil {
		log = zap.NewNop()
	}
	domainSet := make(map[string]struct{}, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		domainSet[d] = struct{}{}
	}
	return &MailboxService{
		store:       store,
		attachments: attachments,
		cfg:         cfg,
		domainSet:   domainSet,
		log:         log,
		now:         systemClock,
	}
}

// SetClock 替换时钟。
func (s *MailboxService) SetClock(now Clock) { s.now = now }

// SetMetrics 设置监控指标。
func (s *MailboxService) SetMetrics(m *monitoring.Metrics) { s.metrics = m }

// SetRateLimiter 设置创建频率计数器，为 nil 时不限制频率。
func (s *MailboxService) SetRateLimiter(limits storage.RateLimitRepository) { s.limits = limits }

// CreateMailboxInput 定义创建邮箱所需的输入。
//
// Address 非空时直接使用完整地址；否则由 LocalPart 与 Domain 组合，LocalPart 为空时随机生成。
type CreateMailboxInput struct {
	Address        string
	LocalPart      string
	Domain         string
	ExpiresInHours int
	IPAddress      string
}

// Create 创建新的临时邮箱，地址已被占用时返回 domain.ErrMailboxExists。
func (s *MailboxService) Create(ctx context.Context, input CreateMailboxInput) (*domain.Mailbox, error) {
	hours := input.ExpiresInHours
	if hours == 0 {
		hours = s.cfg.DefaultTTLHours
	}
	if hours < 0 || hours > s.cfg.MaxTTLHours {
		return nil, domain.ErrInvalidExpiry
	}

	localPart, mailDomain := domain.NormalizeAddress(input.LocalPart), domain.NormalizeAddress(input.Domain)
	if input.Address != "" {
		var err error
		if localPart, mailDomain, err = domain.SplitAddress(input.Address); err != nil {
			return nil, err
		}
	}
	mailDomain, err := s.pickDomain(mailDomain)
	if err != nil {
		return nil, err
	}
	if localPart != "" {
		if err := domain.ValidateLocalPart(localPart); err != nil {
			return nil, err
		}
	}

	if err := s.checkQuota(ctx, input.IPAddress); err != nil {
		return nil, err
	}

	now := s.now()
	mailbox := &domain.Mailbox{
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(hours) * time.Hour),
		IPAddress:    input.IPAddress,
		LastAccessed: now,
	}

	attempts := 1
	if localPart == "" {
		attempts = generateAttempts
	}
	for i := 0; i < attempts; i++ {
		part := localPart
		if part == "" {
			if part, err = randomLocalPart(generatedLocalPartLength); err != nil {
				return nil, err
			}
		}
		mailbox.ID = uuid.NewString()
		mailbox.Address = part + "@" + mailDomain

		err = s.store.CreateMailbox(ctx, mailbox)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrMailboxExists) {
			return nil, fmt.Errorf("create mailbox: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordMailboxCreated()
	s.log.Info("mailbox created",
		zap.String("address", mailbox.Address),
		zap.Time("expires_at", mailbox.ExpiresAt),
	)
	return mailbox, nil
}

func (s *MailboxService) pickDomain(requested string) (string, error) {
	if requested == "" {
		if len(s.cfg.AllowedDomains) == 0 {
			return "", domain.ErrInvalidDomain
		}
		return s.cfg.AllowedDomains[0], nil
	}
	if err := domain.ValidateDomain(requested); err != nil {
		return "", err
	}
	if _, ok := s.domainSet[requested]; !ok {
		return "", domain.ErrInvalidDomain
	}
	return requested, nil
}

func (s *MailboxService) checkQuota(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}

	if s.cfg.MaxPerIP > 0 {
		active, err := s.store.ListMailboxesByIP(ctx, ip, s.now())
		if err != nil {
			return fmt.Errorf("count mailboxes by ip: %w", err)
		}
		if len(active) >= s.cfg.MaxPerIP {
			s.metrics.RecordRateLimitBlock("mailbox_quota")
			return domain.ErrMailboxQuotaExceeded
		}
	}

	if s.limits != nil && s.cfg.CreateRatePerHour > 0 {
		count, err := s.limits.IncrementRateLimit(ctx, "mailbox:create:"+ip, time.Hour)
		if err != nil {
			// 计数器不可用时放行，只记录日志
			s.log.Warn("mailbox rate limiter unavailable", zap.Error(err))
			return nil
		}
		if count > int64(s.cfg.CreateRatePerHour) {
			s.metrics.RecordRateLimitBlock("mailbox_create")
			return domain.ErrRateLimited
		}
	}
	return nil
}

// GetByAddress 返回未过期的邮箱并把 lastAccessed 更新为当前时间。
// 邮箱不存在或 expiresAt <= now 时返回 domain.ErrMailboxNotFound。
func (s *MailboxService) GetByAddress(ctx context.Context, address string) (*domain.Mailbox, error) {
	mailbox, err := s.Lookup(ctx, address)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if now.Before(mailbox.LastAccessed) {
		now = mailbox.LastAccessed
	}
	if err := s.store.TouchMailbox(ctx, mailbox.ID, now); err != nil {
		if errors.Is(err, domain.ErrMailboxNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("touch mailbox: %w", err)
	}
	mailbox.LastAccessed = now
	return mailbox, nil
}

// Lookup 返回未过期的邮箱，不更新访问时间，供投递与外发使用。
func (s *MailboxService) Lookup(ctx context.Context, address string) (*domain.Mailbox, error) {
	mailbox, err := s.store.GetMailboxByAddress(ctx, domain.NormalizeAddress(address))
	if err != nil {
		return nil, err
	}
	if mailbox.IsExpired(s.now()) {
		return nil, domain.ErrMailboxNotFound
	}
	return mailbox, nil
}

// ListByIP 返回该 IP 创建的未过期邮箱，最新的在前。
func (s *MailboxService) ListByIP(ctx context.Context, ip string) ([]domain.Mailbox, error) {
	return s.store.ListMailboxesByIP(ctx, ip, s.now())
}

// Delete 无条件删除邮箱（不论是否过期），级联清理邮件、附件与分块，最后执行孤儿回收。
func (s *MailboxService) Delete(ctx context.Context, address string) error {
	mailbox, err := s.store.GetMailboxByAddress(ctx, domain.NormalizeAddress(address))
	if err != nil {
		return err
	}

	emailIDs, err := s.store.ListEmailIDsByMailboxes(ctx, []string{mailbox.ID})
	if err != nil {
		return fmt.Errorf("list emails for mailbox: %w", err)
	}
	s.attachments.deleteForEmails(ctx, emailIDs)

	deleted, err := s.store.DeleteMailboxes(ctx, []string{mailbox.ID})
	if err != nil {
		return fmt.Errorf("delete mailbox: %w", err)
	}

	if _, err := s.attachments.CleanupOrphaned(ctx); err != nil {
		s.log.Warn("orphan reconciliation after mailbox delete failed", zap.Error(err))
	}

	s.metrics.RecordMailboxesDeleted("user", deleted)
	s.metrics.RecordEmailsDeleted("mailbox", len(emailIDs))
	s.log.Info("mailbox deleted", zap.String("address", mailbox.Address), zap.Int("emails", len(emailIDs)))
	return nil
}

func randomLocalPart(length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(localPartAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate local part: %w", err)
		}
		buf[i] = localPartAlphabet[n.Int64()]
	}
	// 首字符使用字母，避免纯数字前缀
	buf[0] = localPartAlphabet[int(buf[0])%26]
	return string(buf), nil
}
