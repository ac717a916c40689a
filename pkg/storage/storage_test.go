package storage

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-accounts/pkg/domain"
)

func sampleAccounts() []domain.Account {
	return []domain.Account{
		{
			ID:        "u1",
			Email:     "a@x.com",
			Password:  "247689c0",
			Username:  "alice",
			CreatedAt: "2025-01-02T03:04:05.000Z",
			Extra:     map[string]any{"city": "Paris"},
		},
		{
			ID:          "u2",
			Email:       "user_abcde@gmail.com",
			Username:    "user_abcde",
			CreatedAt:   "2025-01-02T03:04:06.000Z",
			Provider:    domain.ProviderGoogle,
			DisplayName: "Google user user_abcde",
		},
	}
}

func TestSlotStore_RoundTrip(t *testing.T) {
	for name, open := range kvDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewSlotStore(open(t), "test_")

			got, err := s.Load(ctx)
			require.NoError(t, err)
			require.Empty(t, got)
			require.NotNil(t, got)

			want := sampleAccounts()
			require.NoError(t, s.Save(ctx, want))

			got, err = s.Load(ctx)
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}

			sess, err := s.LoadSession(ctx)
			require.NoError(t, err)
			require.Nil(t, sess)

			require.NoError(t, s.SaveSession(ctx, &want[0]))
			sess, err = s.LoadSession(ctx)
			require.NoError(t, err)
			require.NotNil(t, sess)
			require.Equal(t, "u1", sess.ID)
			require.Empty(t, sess.Password)
			require.Equal(t, "Paris", sess.Extra["city"])

			require.NoError(t, s.SaveSession(ctx, nil))
			sess, err = s.LoadSession(ctx)
			require.NoError(t, err)
			require.Nil(t, sess)
		})
	}
}

func TestSlotStore_SessionNeverStoresChecksum(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	s := NewSlotStore(kv, "")

	acc := sampleAccounts()[0]
	require.NoError(t, s.SaveSession(ctx, &acc))

	raw, err := kv.Get(ctx, DefaultPrefix+"current_user")
	require.NoError(t, err)
	require.NotContains(t, string(raw), `"password"`)

	// The caller's value is untouched.
	require.Equal(t, "247689c0", acc.Password)
}

func TestSlotStore_Keys(t *testing.T) {
	s := NewSlotStore(NewMemory(), "")
	require.Equal(t, "ilovexxh_users", s.UsersKey())
	require.Equal(t, "ilovexxh_current_user", s.SessionKey())

	s = NewSlotStore(NewMemory(), "site_")
	require.Equal(t, "site_users", s.UsersKey())
}

func TestSlotStore_ForSession(t *testing.T) {
	ctx := context.Background()
	base := NewSlotStore(NewMemory(), "")
	a := base.ForSession("visitor-a")
	b := base.ForSession("visitor-b")

	require.Equal(t, "ilovexxh_users", a.UsersKey())
	require.Equal(t, "ilovexxh_current_user:visitor-a", a.SessionKey())

	accounts := sampleAccounts()
	require.NoError(t, a.Save(ctx, accounts))
	require.NoError(t, a.SaveSession(ctx, &accounts[0]))

	got, err := b.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	session, err := b.LoadSession(ctx)
	require.NoError(t, err)
	require.Nil(t, session)

	session, err = a.LoadSession(ctx)
	require.NoError(t, err)
	require.Equal(t, "u1", session.ID)
}

func TestSlotStore_FlatEncoding(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	s := NewSlotStore(kv, "")

	require.NoError(t, s.Save(ctx, sampleAccounts()[:1]))

	raw, err := kv.Get(ctx, s.UsersKey())
	require.NoError(t, err)
	require.JSONEq(t, `[{
		"id": "u1",
		"email": "a@x.com",
		"password": "247689c0",
		"username": "alice",
		"createdAt": "2025-01-02T03:04:05.000Z",
		"city": "Paris"
	}]`, string(raw))
}

func TestSlotStore_CorruptSlot(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	s := NewSlotStore(kv, "")
	require.NoError(t, kv.Set(ctx, s.UsersKey(), []byte(`{"not":"an array"}`)))

	_, err := s.Load(ctx)
	require.Error(t, err)
}
