package user

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deskhook/internal/storage"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteStore(db)
}

func TestSQLiteStoreCreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	created, err := s.Create(ctx, " Ann@Example.com ", " Ann ")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "ann@example.com", created.Email)
	assert.Equal(t, "Ann", created.Name)

	found, err := s.FindByEmail(ctx, "ANN@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "Ann", found.Name)
	assert.WithinDuration(t, created.CreatedAt, found.CreatedAt, 0)
}

func TestSQLiteStoreFindMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.FindByEmail(context.Background(), "missing@example.com")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.FindByEmail(context.Background(), "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteStoreDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Create(ctx, "bob@example.com", "")
	require.NoError(t, err)
	_, err = s.Create(ctx, "BOB@example.com", "Bob again")
	assert.ErrorIs(t, err, ErrExists)

	_, err = s.Create(ctx, "  ", "blank")
	assert.Error(t, err)
}

func TestSQLiteStoreList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	users, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	for _, e := range []string{"carol@example.com", "alice@example.com", "bob@example.com"} {
		_, err := s.Create(ctx, e, "")
		require.NoError(t, err)
	}

	users, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "alice@example.com", users[0].Email)
	assert.Equal(t, "carol@example.com", users[2].Email)
}
