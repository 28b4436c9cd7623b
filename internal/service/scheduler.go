package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempinbox/backend/internal/storage"
)

// Scheduler 定时执行清理任务。
//
// 每次执行前获取 sweep:<kind> 租约，多副本部署时同一时刻只有一个实例执行同类清理。
type Scheduler struct {
	retention *RetentionService
	leases    storage.LeaseRepository
	interval  time.Duration
	kinds     []SweepKind
	owner     string
	log       *zap.Logger
}

// NewScheduler 创建清理调度器，kinds 为空时调度全部任务。
func NewScheduler(retention *RetentionService, leases storage.LeaseRepository, interval time.Duration, kinds []SweepKind, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if len(kinds) == 0 {
		kinds = AllSweepKinds
	}
	return &Scheduler{
		retention: retention,
		leases:    leases,
		interval:  interval,
		kinds:     kinds,
		owner:     uuid.NewString(),
		log:       log,
	}
}

// Owner 返回本实例的租约持有者标识。
func (s *Scheduler) Owner() string { return s.owner }

// Run 按间隔循环执行，直到 ctx 被取消。启动时立即执行一轮。
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("sweep scheduler started",
		zap.Duration("interval", s.interval),
		zap.String("owner", s.owner),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runRound(ctx)

		select {
		case <-ctx.Done():
			s.log.Info("sweep scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runRound(ctx context.Context) {
	for _, kind := range s.kinds {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := s.RunOnce(ctx, kind); err != nil {
			s.log.Warn("scheduled sweep failed", zap.String("sweep", string(kind)), zap.Error(err))
		}
	}
}

// RunOnce 在持有租约的前提下执行一次清理。租约被其他实例持有时返回 ran=false。
func (s *Scheduler) RunOnce(ctx context.Context, kind SweepKind) (SweepResult, bool, error) {
	key := "sweep:" + string(kind)
	if s.leases != nil {
		acquired, err := s.leases.AcquireLease(ctx, key, s.owner, s.interval)
		if err != nil {
			return SweepResult{Kind: kind}, false, err
		}
		if !acquired {
			s.log.Debug("sweep lease held by another instance", zap.String("sweep", string(kind)))
			return SweepResult{Kind: kind}, false, nil
		}
		defer func() {
			// 使用独立 context，保证 ctx 取消后仍能释放租约
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.leases.ReleaseLease(releaseCtx, key, s.owner); err != nil {
				s.log.Warn("failed to release sweep lease", zap.String("sweep", string(kind)), zap.Error(err))
			}
		}()
	}

	res, err := s.retention.Run(ctx, kind)
	return res, true, err
}
