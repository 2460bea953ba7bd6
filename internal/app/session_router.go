package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL is how long a chat identity stays bound to the tenant it last picked.
const DefaultSessionTTL = 24 * time.Hour

// SessionRouter remembers which tenant a chat identity is currently talking to. One phone
// number can be a customer of several businesses sharing the same chat number.
type SessionRouter interface {
	SetActiveTenant(ctx context.Context, identity string, tenantID uuid.UUID) error
	// ActiveTenant returns domain.ErrNoActiveTenant when no selection is live.
	ActiveTenant(ctx context.Context, identity string) (uuid.UUID, error)
}

// RedisSessionRouter keeps sessions in Redis so every replica sees the same selection.
type RedisSessionRouter struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisSessionRouter(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisSessionRouter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "loyalty:session"
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionRouter{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisSessionRouter) key(identity string) string {
	return r.prefix + ":" + identity
}

func (r *RedisSessionRouter) SetActiveTenant(ctx context.Context, identity string, tenantID uuid.UUID) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.Invalid("identity", "is required")
	}
	return r.client.Set(ctx, r.key(identity), tenantID.String(), r.ttl).Err()
}

func (r *RedisSessionRouter) ActiveTenant(ctx context.Context, identity string) (uuid.UUID, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return uuid.Nil, domain.ErrNoActiveTenant
	}
	raw, err := r.client.Get(ctx, r.key(identity)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, domain.ErrNoActiveTenant
	}
	if err != nil {
		return uuid.Nil, err
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.ErrNoActiveTenant
	}
	return tenantID, nil
}

type sessionEntry struct {
	tenantID  uuid.UUID
	expiresAt time.Time
}

// MemorySessionRouter is the single-process session store.
type MemorySessionRouter struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]sessionEntry
}

func NewMemorySessionRouter(ttl time.Duration, now func() time.Time) *MemorySessionRouter {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemorySessionRouter{ttl: ttl, now: now, sessions: make(map[string]sessionEntry)}
}

func (m *MemorySessionRouter) SetActiveTenant(ctx context.Context, identity string, tenantID uuid.UUID) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.Invalid("identity", "is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[identity] = sessionEntry{tenantID: tenantID, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemorySessionRouter) ActiveTenant(ctx context.Context, identity string) (uuid.UUID, error) {
	identity = strings.TrimSpace(identity)
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[identity]
	if !ok {
		return uuid.Nil, domain.ErrNoActiveTenant
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.sessions, identity)
		return uuid.Nil, domain.ErrNoActiveTenant
	}
	return entry.tenantID, nil
}

// SelectTenant binds a chat identity to a tenant after checking the tenant exists.
func (s *Service) SelectTenant(ctx context.Context, identity string, tenantID uuid.UUID) error {
	if _, err := s.repo.GetTenant(ctx, tenantID); err != nil {
		return err
	}
	if err := s.sessions.SetActiveTenant(ctx, identity, tenantID); err != nil {
		return err
	}
	s.logger.Info("chat session routed", "tenant_id", tenantID)
	return nil
}
