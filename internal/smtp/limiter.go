package smtp

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	errTooManyConnections = errors.New("too many concurrent connections")
	errConnectionRate     = errors.New("connection rate exceeded")
)

const visitorIdleTimeout = 10 * time.Minute

// ConnectionLimiter SMTP 连接限流器：全局并发上限加单 IP 新建连接速率。
type ConnectionLimiter struct {
	mu        sync.Mutex
	maxConns  int
	current   int
	perSecond rate.Limit
	burst     int
	visitors  map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 最大并发连接数，0 表示不限制
//   - perSecond: 单个 IP 每秒新建连接数，0 表示不限制
//   - burst: 单个 IP 的突发连接数
func NewConnectionLimiter(maxConns int, perSecond float64, burst int) *ConnectionLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ConnectionLimiter{
		maxConns:  maxConns,
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		visitors:  make(map[string]*visitor),
		lastSweep: time.Now(),
	}
}

// Acquire 为来自 ip 的新连接申请许可，成功后必须调用 Release。
func (l *ConnectionLimiter) Acquire(ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxConns > 0 && l.current >= l.maxConns {
		return errTooManyConnections
	}

	if l.perSecond > 0 {
		now := time.Now()
		l.sweepLocked(now)

		v, ok := l.visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
			l.visitors[ip] = v
		}
		v.lastSeen = now
		if !v.limiter.AllowN(now, 1) {
			return errConnectionRate
		}
	}

	l.current++
	return nil
}

// Release 释放连接
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current > 0 {
		l.current--
	}
}

// Current 当前连接数
func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *ConnectionLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < visitorIdleTimeout {
		return
	}
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) >= visitorIdleTimeout {
			delete(l.visitors, ip)
		}
	}
	l.lastSweep = now
}
