package migrations

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
)

func TestFS_ContainsMigrations(t *testing.T) {
	entries, err := fs.ReadDir(FS, "sql")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2)

	for _, e := range entries {
		body, err := fs.ReadFile(FS, "sql/"+e.Name())
		require.NoError(t, err)
		require.Contains(t, string(body), "-- +goose Up", e.Name())
		require.Contains(t, string(body), "-- +goose Down", e.Name())
	}
}

func TestFS_Tables(t *testing.T) {
	var all strings.Builder
	entries, err := fs.ReadDir(FS, "sql")
	require.NoError(t, err)
	for _, e := range entries {
		body, err := fs.ReadFile(FS, "sql/"+e.Name())
		require.NoError(t, err)
		all.Write(body)
	}
	require.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS identities")
	require.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS kv_slots")
}

func TestUp_UsesEmbeddedDir(t *testing.T) {
	orig := gooseUp
	t.Cleanup(func() { gooseUp = orig })

	var gotDir string
	gooseUp = func(_ context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, Up(context.Background(), nil))
	require.Equal(t, "sql", gotDir)
}

func TestUp_PropagatesError(t *testing.T) {
	orig := gooseUp
	t.Cleanup(func() { gooseUp = orig })

	boom := errors.New("boom")
	gooseUp = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error { return boom }

	require.ErrorIs(t, Up(context.Background(), nil), boom)
}
