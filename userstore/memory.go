package userstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/ids"
)

// Memory is a goroutine-safe in-process user store.
type Memory struct {
	mu      sync.RWMutex
	byID    map[ids.UserID]authcore.UserRecord
	byEmail map[ids.Email]ids.UserID
	now     func() time.Time
}

// NewMemory returns an empty store. A nil now uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		byID:    make(map[ids.UserID]authcore.UserRecord),
		byEmail: make(map[ids.Email]ids.UserID),
		now:     now,
	}
}

func (m *Memory) FindByEmail(ctx context.Context, email ids.Email) (*authcore.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	u := m.byID[id]
	return &u, nil
}

func (m *Memory) Get(ctx context.Context, id ids.UserID) (*authcore.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	return &u, nil
}

// Create stores a new user with a random UUID id. Emails are unique.
func (m *Memory) Create(ctx context.Context, in authcore.NewUser) (*authcore.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[in.Email]; ok {
		return nil, authcore.ErrUserExists
	}

	u := authcore.UserRecord{
		ID:             ids.UserID(uuid.NewString()),
		Email:          in.Email,
		HashedPassword: in.HashedPassword,
		DisplayName:    in.DisplayName,
		CreatedAt:      m.now().UTC(),
	}
	m.byID[u.ID] = u
	m.byEmail[u.Email] = u.ID
	return &u, nil
}

// Len reports the number of stored users.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
