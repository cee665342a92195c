package users

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gogotex/gogotex/backend/auth-sessions/internal/models"
)

// MemoryRepository is an in-memory UserRepository used for local development
// and unit tests. Returned users are copies; mutate through the repository.
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[string]*models.User
	bySub map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*models.User), bySub: make(map[string]string)}
}

func (m *MemoryRepository) UpsertBySub(ctx context.Context, u *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if id, ok := m.bySub[u.Sub]; ok {
		cur := m.byID[id]
		cur.Email = u.Email
		cur.Name = u.Name
		cur.UpdatedAt = now
		cp := *cur
		return &cp, nil
	}
	nu := &models.User{
		ID:        u.ID,
		Sub:       u.Sub,
		Email:     u.Email,
		Name:      u.Name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if nu.ID == "" {
		nu.ID = uuid.NewString()
	}
	m.byID[nu.ID] = nu
	m.bySub[nu.Sub] = nu.ID
	cp := *nu
	return &cp, nil
}

func (m *MemoryRepository) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySub[sub]
	if !ok {
		return nil, nil
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryRepository) GetByRefreshToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.byID {
		if u.RefreshToken == token {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) UpdateRefreshToken(ctx context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.RefreshToken = token
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) ClearRefreshTokenIf(ctx context.Context, id, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok || token == "" || u.RefreshToken != token {
		return false, nil
	}
	u.RefreshToken = ""
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryRepository) FindAll(ctx context.Context) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.User, 0, len(m.byID))
	for _, u := range m.byID {
		if u.RefreshToken == "" {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryRepository) SetActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.IsActive = active
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	u.DeletedAt = &t
	u.UpdatedAt = time.Now().UTC()
	return nil
}
