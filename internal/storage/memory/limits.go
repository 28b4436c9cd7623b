package memory

import (
	"context"
	"errors"
	"time"
)

var errChunkExists = errors.New("chunk already written")

// rateLimitEntry 速率限制条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// leaseEntry 租约条目
type leaseEntry struct {
	Owner     string
	ExpiresAt time.Time
}

// IncrementRateLimit 固定窗口计数，窗口过期后重新开始。
func (s *Store) IncrementRateLimit(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, v := range s.rateLimits {
		if !now.Before(v.ExpiresAt) {
			delete(s.rateLimits, k)
		}
	}

	entry, exists := s.rateLimits[key]
	if !exists {
		entry = &rateLimitEntry{ExpiresAt: now.Add(window)}
		s.rateLimits[key] = entry
	}
	entry.Count++
	return entry.Count, nil
}

// AcquireLease 获取租约；租约被其他持有者占用且未过期时返回 false。
func (s *Store) AcquireLease(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if lease, ok := s.leases[key]; ok && lease.Owner != owner && now.Before(lease.ExpiresAt) {
		return false, nil
	}
	s.leases[key] = &leaseEntry{Owner: owner, ExpiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseLease 释放自己持有的租约。
func (s *Store) ReleaseLease(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lease, ok := s.leases[key]; ok && lease.Owner == owner {
		delete(s.leases, key)
	}
	return nil
}
