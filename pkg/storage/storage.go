// Package storage persists the account record set and the current session
// pointer in two named slots of a key-value substrate.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tendant/simple-accounts/pkg/domain"
)

// DefaultPrefix is prepended to the slot names.
const DefaultPrefix = "ilovexxh_"

const (
	usersSlot   = "users"
	sessionSlot = "current_user"
)

// Store loads and saves the full record set and the session pointer.
type Store interface {
	Load(ctx context.Context) ([]domain.Account, error)
	Save(ctx context.Context, accounts []domain.Account) error
	LoadSession(ctx context.Context) (*domain.Account, error)
	// SaveSession replaces the session pointer. A nil account clears it.
	SaveSession(ctx context.Context, account *domain.Account) error
}

// KV is a byte-oriented key-value substrate. Get returns nil, nil for a
// missing key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// SlotStore implements Store over a KV, encoding each slot as JSON.
type SlotStore struct {
	kv      KV
	prefix  string
	session string
}

// NewSlotStore creates a Store over kv. An empty prefix selects DefaultPrefix.
func NewSlotStore(kv KV, prefix string) *SlotStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SlotStore{kv: kv, prefix: prefix}
}

// ForSession returns a store sharing s's record set but keeping its session
// pointer in a slot of its own, named after key. It lets several visitors
// hold independent sessions over one substrate.
func (s *SlotStore) ForSession(key string) *SlotStore {
	return &SlotStore{kv: s.kv, prefix: s.prefix, session: key}
}

// UsersKey returns the key of the record set slot.
func (s *SlotStore) UsersKey() string { return s.prefix + usersSlot }

// SessionKey returns the key of the session slot.
func (s *SlotStore) SessionKey() string {
	if s.session != "" {
		return s.prefix + sessionSlot + ":" + s.session
	}
	return s.prefix + sessionSlot
}

// Load returns the persisted record set, or an empty set if none is stored.
func (s *SlotStore) Load(ctx context.Context) ([]domain.Account, error) {
	raw, err := s.kv.Get(ctx, s.UsersKey())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.UsersKey(), err)
	}
	if len(raw) == 0 {
		return []domain.Account{}, nil
	}

	var accounts []domain.Account
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.UsersKey(), err)
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	return accounts, nil
}

// Save overwrites the record set.
func (s *SlotStore) Save(ctx context.Context, accounts []domain.Account) error {
	if accounts == nil {
		accounts = []domain.Account{}
	}
	raw, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.UsersKey(), err)
	}
	if err := s.kv.Set(ctx, s.UsersKey(), raw); err != nil {
		return fmt.Errorf("save %s: %w", s.UsersKey(), err)
	}
	return nil
}

// LoadSession returns the session pointer, or nil when logged out.
func (s *SlotStore) LoadSession(ctx context.Context) (*domain.Account, error) {
	raw, err := s.kv.Get(ctx, s.SessionKey())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.SessionKey(), err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var account domain.Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.SessionKey(), err)
	}
	return account.Public(), nil
}

// SaveSession stores account without its password checksum, or clears the
// slot when account is nil.
func (s *SlotStore) SaveSession(ctx context.Context, account *domain.Account) error {
	if account == nil {
		if err := s.kv.Delete(ctx, s.SessionKey()); err != nil {
			return fmt.Errorf("clear %s: %w", s.SessionKey(), err)
		}
		return nil
	}

	raw, err := json.Marshal(account.Public())
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.SessionKey(), err)
	}
	if err := s.kv.Set(ctx, s.SessionKey(), raw); err != nil {
		return fmt.Errorf("save %s: %w", s.SessionKey(), err)
	}
	return nil
}
