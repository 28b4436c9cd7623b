package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/storage"
)

// SweepKind 标识一种清理任务。
type SweepKind string

const (
	SweepExpired SweepKind = "expired"
	SweepAged    SweepKind = "aged"
	SweepRead    SweepKind = "read"
	SweepOrphans SweepKind = "orphans"
)

// AllSweepKinds 按执行顺序列出全部清理任务。
var AllSweepKinds = []SweepKind{SweepExpired, SweepAged, SweepRead, SweepOrphans}

// ParseSweepKind 解析清理任务名称。
func ParseSweepKind(name string) (SweepKind, error) {
	for _, kind := range AllSweepKinds {
		if string(kind) == name {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown sweep kind %q", name)
}

// SweepResult 是一次清理的结果。
type SweepResult struct {
	Kind             SweepKind     `json:"kind"`
	Deleted          int           `json:"deleted"`
	OrphansReclaimed int           `json:"orphansReclaimed"`
	Errors           int           `json:"errors"`
	Duration         time.Duration `json:"duration"`
}

// SweepReport 汇总 RunAll 的各项结果。
type SweepReport struct {
	Results []SweepResult `json:"results"`
}

// Total 返回所有清理任务删除的主记录数。
func (r SweepReport) Total() int {
	total := 0
	for _, res := range r.Results {
		total += res.Deleted
	}
	return total
}

// RetentionService 执行过期邮箱、超龄邮件、已读邮件与孤儿附件的清理。
//
// 单条记录的清理失败只记录日志并继续，每次清理最后都会执行孤儿回收。
// 所有删除都是幂等的，可以与读写请求并发执行。
type RetentionService struct {
	store       storage.Store
	attachments *AttachmentService
	cfg         config.RetentionConfig
	metrics     *monitoring.Metrics
	log         *zap.Logger
	now         Clock
}

// NewRetentionService 创建清理引擎。
func NewRetentionService(store storage.Store, attachments *AttachmentService, cfg config.RetentionConfig, log *zap.Logger) *RetentionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RetentionService{
		store:       store,
		attachments: attachments,
		cfg:         cfg,
		log:         log,
		now:         systemClock,
	}
}

// SetClock 替换时钟。
func (s *RetentionService) SetClock(now Clock) { s.now = now }

// SetMetrics 设置监控指标。
func (s *RetentionService) SetMetrics(m *monitoring.Metrics) { s.metrics = m }

// SweepExpiredMailboxes 删除 expiresAt <= now 的邮箱及其邮件，返回删除的邮箱数。
func (s *RetentionService) SweepExpiredMailboxes(ctx context.Context) (int, error) {
	res, err := s.Run(ctx, SweepExpired)
	return res.Deleted, err
}

// SweepAgedEmails 删除 receivedAt <= now - EmailMaxAge 的邮件，返回删除的邮件数。
func (s *RetentionService) SweepAgedEmails(ctx context.Context) (int, error) {
	res, err := s.Run(ctx, SweepAged)
	return res.Deleted, err
}

// SweepReadEmails 删除已读邮件，返回删除的邮件数。
func (s *RetentionService) SweepReadEmails(ctx context.Context) (int, error) {
	res, err := s.Run(ctx, SweepRead)
	return res.Deleted, err
}

// ReconcileOrphans 单独执行孤儿附件回收。
func (s *RetentionService) ReconcileOrphans(ctx context.Context) (int, error) {
	res, err := s.Run(ctx, SweepOrphans)
	return res.OrphansReclaimed, err
}

// Run 执行一种清理任务。只有选取待删记录失败时才返回错误。
func (s *RetentionService) Run(ctx context.Context, kind SweepKind) (SweepResult, error) {
	start := time.Now()
	res := SweepResult{Kind: kind}

	var err error
	switch kind {
	case SweepExpired:
		err = s.sweepExpired(ctx, &res)
	case SweepAged:
		err = s.sweepEmails(ctx, &res, func(ctx context.Context) ([]string, error) {
			return s.store.ListEmailIDsReceivedBefore(ctx, s.now().Add(-s.maxAge()))
		})
	case SweepRead:
		err = s.sweepEmails(ctx, &res, s.store.ListReadEmailIDs)
	case SweepOrphans:
	default:
		return res, fmt.Errorf("unknown sweep kind %q", kind)
	}

	if err == nil {
		reclaimed, cerr := s.attachments.CleanupOrphaned(ctx)
		if cerr != nil {
			res.Errors++
			s.log.Warn("orphan reconciliation failed", zap.String("sweep", string(kind)), zap.Error(cerr))
		}
		res.OrphansReclaimed = reclaimed
		if kind == SweepOrphans {
			res.Deleted = reclaimed
		}
	}

	res.Duration = time.Since(start)
	s.metrics.RecordSweep(string(kind), res.Deleted, res.Errors, res.Duration)
	if err != nil {
		s.log.Error("sweep failed", zap.String("sweep", string(kind)), zap.Error(err))
		return res, err
	}

	s.log.Info("sweep finished",
		zap.String("sweep", string(kind)),
		zap.Int("deleted", res.Deleted),
		zap.Int("orphans", res.OrphansReclaimed),
		zap.Int("errors", res.Errors),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// RunAll 依次执行全部清理任务，某一项失败不影响后续任务。
func (s *RetentionService) RunAll(ctx context.Context) SweepReport {
	report := SweepReport{Results: make([]SweepResult, 0, len(AllSweepKinds))}
	for _, kind := range AllSweepKinds {
		if kind == SweepRead && !s.cfg.SweepReadEmails {
			continue
		}
		res, err := s.Run(ctx, kind)
		if err != nil {
			res.Errors++
		}
		report.Results = append(report.Results, res)
	}
	return report
}

func (s *RetentionService) maxAge() time.Duration {
	if s.cfg.EmailMaxAge > 0 {
		return s.cfg.EmailMaxAge
	}
	return 24 * time.Hour
}

func (s *RetentionService) sweepExpired(ctx context.Context, res *SweepResult) error {
	expired, err := s.store.ListExpiredMailboxes(ctx, s.now())
	if err != nil {
		return fmt.Errorf("list expired mailboxes: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	ids := make([]string, 0, len(expired))
	for _, mailbox := range expired {
		ids = append(ids, mailbox.ID)
	}

	emailIDs, err := s.store.ListEmailIDsByMailboxes(ctx, ids)
	if err != nil {
		return fmt.Errorf("list emails of expired mailboxes: %w", err)
	}
	res.Errors += s.attachments.deleteForEmails(ctx, emailIDs)

	deleted, err := s.store.DeleteMailboxes(ctx, ids)
	if err != nil {
		res.Errors++
		s.log.Warn("failed to delete expired mailboxes", zap.Int("count", len(ids)), zap.Error(err))
		return nil
	}
	res.Deleted = deleted
	s.metrics.RecordMailboxesDeleted(string(SweepExpired), deleted)
	s.metrics.RecordEmailsDeleted(string(SweepExpired), len(emailIDs))
	return nil
}

func (s *RetentionService) sweepEmails(ctx context.Context, res *SweepResult, selectIDs func(context.Context) ([]string, error)) error {
	emailIDs, err := selectIDs(ctx)
	if err != nil {
		return fmt.Errorf("select emails for %s sweep: %w", res.Kind, err)
	}
	if len(emailIDs) == 0 {
		return nil
	}

	res.Errors += s.attachments.deleteForEmails(ctx, emailIDs)

	deleted, err := s.store.DeleteEmails(ctx, emailIDs)
	if err != nil {
		res.Errors++
		s.log.Warn("failed to delete emails", zap.String("sweep", string(res.Kind)), zap.Int("count", len(emailIDs)), zap.Error(err))
		return nil
	}
	res.Deleted = deleted
	s.metrics.RecordEmailsDeleted(string(res.Kind), deleted)
	return nil
}
