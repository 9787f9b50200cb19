package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

type heldLock struct {
	token   string
	expires time.Time
}

// LockManager implements domain.LockManager for a single process. Locks
// expire after their TTL like their Redis counterparts.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]heldLock
	now   func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]heldLock), now: time.Now}
}

// Acquire obtains key for ttl or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if h, ok := lm.locks[key]; ok && now.Before(h.expires) {
		return nil, domain.ErrLockHeld
	}
	token := uuid.NewString()
	lm.locks[key] = heldLock{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if h, ok := lm.locks[key]; ok && h.token == token {
				delete(lm.locks, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
