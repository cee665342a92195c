package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gogotex/gogotex/backend/auth-sessions/internal/models"
)

// tokenKey is the storage key for a token. Raw bearer strings are never
// written to the blacklist stores.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MemoryBlacklist is a process-local BlacklistRepository for development and tests.
type MemoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]models.BlacklistEntry
	now     func() time.Time
}

func NewMemoryBlacklist(now func() time.Time) *MemoryBlacklist {
	if now == nil {
		now = time.Now
	}
	return &MemoryBlacklist{entries: make(map[string]models.BlacklistEntry), now: now}
}

func (m *MemoryBlacklist) live(e models.BlacklistEntry, ok bool) bool {
	return ok && m.now().Before(e.ExpiresAt)
}

func (m *MemoryBlacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[tokenKey(token)]
	return m.live(e, ok), nil
}

func (m *MemoryBlacklist) Blacklist(ctx context.Context, e models.BlacklistEntry) error {
	k := tokenKey(e.Token)
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[k]; m.live(cur, ok) {
		return ErrAlreadyBlacklisted
	}
	e.Token = ""
	m.entries[k] = e
	return nil
}

func (m *MemoryBlacklist) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.ExpiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryBlacklist) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
