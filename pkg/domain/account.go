package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
	"unicode/utf16"
)

// Account record keys as they appear in the persisted users slot.
const (
	FieldID          = "id"
	FieldEmail       = "email"
	FieldPassword    = "password"
	FieldUsername    = "username"
	FieldCreatedAt   = "createdAt"
	FieldUpdatedAt   = "updatedAt"
	FieldProvider    = "provider"
	FieldDisplayName = "displayName"
)

// TimestampLayout renders times the way the site stores them: UTC with
// millisecond precision and a literal Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t with TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// TextLength counts s in UTF-16 code units, the unit the site's pages measure
// field lengths in. Characters outside the Basic Multilingual Plane count twice.
func TextLength(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// ProviderGoogle tags accounts created through the federated login.
const ProviderGoogle = "google"

// Account represents a stored user record.
//
// Password holds the checksum of the password, never the password itself, and is
// empty for federated accounts. Extra carries caller-supplied fields without a
// dedicated slot; they are encoded flat, next to the known fields.
type Account struct {
	ID          string
	Email       string
	Password    string
	Username    string
	CreatedAt   string
	UpdatedAt   string
	Provider    string
	DisplayName string
	Extra       map[string]any
}

// Public returns a copy of the account without the password checksum.
// This is the only shape handed to callers or stored as the session.
func (a *Account) Public() *Account {
	c := a.Clone()
	c.Password = ""
	return &c
}

// Clone returns a copy whose Extra map can be mutated independently.
func (a *Account) Clone() Account {
	c := *a
	if a.Extra != nil {
		c.Extra = maps.Clone(a.Extra)
	}
	return c
}

// IsFederated reports whether the account was created by a provider login.
func (a *Account) IsFederated() bool {
	return a.Provider != ""
}

// Fields returns the flat key/value view of the account, the same shape it
// has in storage.
func (a *Account) Fields() map[string]any {
	m := make(map[string]any, len(a.Extra)+8)
	for k, v := range a.Extra {
		m[k] = v
	}
	m[FieldID] = a.ID
	m[FieldEmail] = a.Email
	m[FieldUsername] = a.Username
	m[FieldCreatedAt] = a.CreatedAt
	if a.Password != "" {
		m[FieldPassword] = a.Password
	}
	if a.UpdatedAt != "" {
		m[FieldUpdatedAt] = a.UpdatedAt
	}
	if a.Provider != "" {
		m[FieldProvider] = a.Provider
	}
	if a.DisplayName != "" {
		m[FieldDisplayName] = a.DisplayName
	}
	return m
}

// MarshalJSON encodes the account as a single flat object.
func (a Account) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Fields())
}

// UnmarshalJSON decodes a flat object, routing unknown keys into Extra.
func (a *Account) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	known := map[string]*string{
		FieldID:          &a.ID,
		FieldEmail:       &a.Email,
		FieldPassword:    &a.Password,
		FieldUsername:    &a.Username,
		FieldCreatedAt:   &a.CreatedAt,
		FieldUpdatedAt:   &a.UpdatedAt,
		FieldProvider:    &a.Provider,
		FieldDisplayName: &a.DisplayName,
	}

	a.Extra = nil
	for key, value := range raw {
		if dst, ok := known[key]; ok {
			if string(value) == "null" {
				continue
			}
			if err := json.Unmarshal(value, dst); err != nil {
				return fmt.Errorf("account field %q: %w", key, err)
			}
			continue
		}

		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("account field %q: %w", key, err)
		}
		if a.Extra == nil {
			a.Extra = make(map[string]any)
		}
		a.Extra[key] = v
	}
	return nil
}
