package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker is the single-process Locker used when Redis is disabled.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry), now: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, ErrLeaseHeld
	}
	token := uuid.NewString()
	l.held[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return &memoryLease{locker: l, key: key, token: token}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (l *memoryLease) Key() string { return l.key }

func (l *memoryLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if e, ok := l.locker.held[l.key]; ok && e.token == l.token {
		delete(l.locker.held, l.key)
	}
	return nil
}
