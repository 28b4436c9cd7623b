package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const (
	defaultPingTimeout = 2 * time.Second
	maxGoroutines      = 10000
)

// Pinger 是可探活的依赖，记录存储与 redis 客户端都满足该接口。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker 健康检查器
//
// 存活检查只看进程自身，就绪检查会探测存储与 redis。
type Checker struct {
	health  healthcheck.Handler
	timeout time.Duration
	logger  *zap.Logger
}

// NewChecker 创建健康检查器
func NewChecker(logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Checker{
		health:  healthcheck.NewHandler(),
		timeout: defaultPingTimeout,
		logger:  logger,
	}
	c.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	return c
}

// AddDependency 注册一个就绪检查依赖。
func (c *Checker) AddDependency(name string, dep Pinger) {
	if dep == nil {
		return
	}
	c.health.AddReadinessCheck(name, c.pingCheck(name, dep))
}

func (c *Checker) pingCheck(name string, dep Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		if err := dep.Ping(ctx); err != nil {
			c.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			return err
		}
		return nil
	}
}

// LiveHandler 返回存活检查处理器
func (c *Checker) LiveHandler() http.HandlerFunc {
	return c.health.LiveEndpoint
}

// ReadyHandler 返回就绪检查处理器
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return c.health.ReadyEndpoint
}
