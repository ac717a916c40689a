package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tendant/simple-accounts/pkg/domain"
)

// MemoryIdentities is an in-process IdentityRepository.
type MemoryIdentities struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]domain.Identity
}

// NewMemoryIdentities creates an empty repository.
func NewMemoryIdentities() *MemoryIdentities {
	return &MemoryIdentities{byID: make(map[uuid.UUID]domain.Identity)}
}

func (m *MemoryIdentities) Create(_ context.Context, identity *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTaken(identity.Email, uuid.Nil) {
		return domain.ErrDuplicateEmail
	}
	m.byID[identity.ID] = *identity
	return nil
}

func (m *MemoryIdentities) GetByID(_ context.Context, id uuid.UUID) (*domain.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &identity, nil
}

func (m *MemoryIdentities) GetByEmail(_ context.Context, email string) (*domain.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, identity := range m.byID {
		if identity.Email == email {
			return &identity, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *MemoryIdentities) Update(_ context.Context, identity *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[identity.ID]; !ok {
		return domain.ErrUserNotFound
	}
	if m.emailTaken(identity.Email, identity.ID) {
		return domain.ErrDuplicateEmail
	}
	m.byID[identity.ID] = *identity
	return nil
}

func (m *MemoryIdentities) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *MemoryIdentities) emailTaken(email string, except uuid.UUID) bool {
	for id, identity := range m.byID {
		if id != except && identity.Email == email {
			return true
		}
	}
	return false
}
