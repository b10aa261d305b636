package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/PhilHem/go-file-vault/backend/apperr"
	"github.com/PhilHem/go-file-vault/backend/config"
	"github.com/PhilHem/go-file-vault/backend/database"
	"github.com/PhilHem/go-file-vault/backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	return db
}

func newUsers(t *testing.T) (*Users, *gorm.DB) {
	db := setupTestDB(t)
	return NewUsers(db).WithCost(bcrypt.MinCost), db
}

func TestUsers_RegisterStoresHash(t *testing.T) {
	users, _ := newUsers(t)
	ctx := context.Background()

	u, err := users.Register(ctx, "alice", "alice@example.com", "Password1!")
	require.NoError(t, err)

	assert.NotZero(t, u.ID)
	assert.NotEqual(t, "Password1!", u.PasswordHash)
	assert.True(t, CheckPassword(u, "Password1!"))
	assert.Nil(t, u.OTPCode)
	assert.Nil(t, u.OTPExpiry)
}

func TestUsers_RegisterDuplicateEmail(t *testing.T) {
	users, _ := newUsers(t)
	ctx := context.Background()

	_, err := users.Register(ctx, "alice", "alice@example.com", "Password1!")
	require.NoError(t, err)

	_, err = users.Register(ctx, "alice2", "alice@example.com", "Password1!")
	assert.ErrorIs(t, err, apperr.DuplicateIdentity)
}

func TestUsers_RegisterDuplicateUsername(t *testing.T) {
	users, _ := newUsers(t)
	ctx := context.Background()

	_, err := users.Register(ctx, "alice", "alice@example.com", "Password1!")
	require.NoError(t, err)

	_, err = users.Register(ctx, "alice", "other@example.com", "Password1!")
	assert.ErrorIs(t, err, apperr.DuplicateIdentity)
}

func TestUsers_Verify(t *testing.T) {
	users, _ := newUsers(t)
	ctx := context.Background()

	registered, err := users.Register(ctx, "alice", "alice@example.com", "Password1!")
	require.NoError(t, err)

	u, ok, err := users.Verify(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, registered.ID, u.ID)

	u, ok, err = users.Verify(ctx, "alice@example.com", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, u)

	u, ok, err = users.Verify(ctx, "nobody@example.com", "Password1!")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, u)
}

func TestUsers_SetPasswordInvalidatesOld(t *testing.T) {
	users, _ := newUsers(t)
	ctx := context.Background()

	u, err := users.Register(ctx, "alice", "alice@example.com", "Password1!")
	require.NoError(t, err)

	require.NoError(t, users.SetPassword(ctx, u, "NewPassword2@"))

	_, ok, err := users.Verify(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)
	assert.False(t, ok, "old password must stop working immediately")

	_, ok, err = users.Verify(ctx, "alice@example.com", "NewPassword2@")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUsers_OTPLifecycle(t *testing.T) {
	users, _ := newUsers(t)
	ctx := context.Background()

	u, err := users.Register(ctx, "alice", "alice@example.com", "Password1!")
	require.NoError(t, err)

	expiry := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, users.SetOTP(ctx, u, "123456", expiry))

	stored, err := users.ByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, stored.HasOTP())
	assert.Equal(t, "123456", *stored.OTPCode)
	assert.True(t, expiry.Equal(*stored.OTPExpiry))

	require.NoError(t, users.ResetPassword(ctx, stored, "NewPassword2@"))

	stored, err = users.ByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.OTPCode)
	assert.Nil(t, stored.OTPExpiry)
	assert.True(t, CheckPassword(stored, "NewPassword2@"))
}

func TestUsers_ByEmailNotFound(t *testing.T) {
	users, _ := newUsers(t)

	_, err := users.ByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, apperr.NotFound)
}

func registerPair(t *testing.T, users *Users) (*models.User, *models.User) {
	t.Helper()
	ctx := context.Background()
	alice, err := users.Register(ctx, "alice", "alice@example.com", "Password1!")
	require.NoError(t, err)
	bob, err := users.Register(ctx, "bob", "bob@example.com", "Password1!")
	require.NoError(t, err)
	return alice, bob
}

func TestFiles_ListOnlyOwn(t *testing.T) {
	users, db := newUsers(t)
	files := NewFiles(db)
	ctx := context.Background()
	alice, bob := registerPair(t, users)

	_, err := files.Create(ctx, alice, "a1.png", "https://cdn/a1.png", "vault/a1", "image")
	require.NoError(t, err)
	_, err = files.Create(ctx, bob, "b1.mp4", "https://cdn/b1.mp4", "vault/b1", "video")
	require.NoError(t, err)
	_, err = files.Create(ctx, alice, "a2.txt", "https://cdn/a2.txt", "vault/a2", "raw")
	require.NoError(t, err)

	list, err := files.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a1.png", list[0].Filename)
	assert.Equal(t, "a2.txt", list[1].Filename)
	for _, f := range list {
		assert.Equal(t, alice.ID, f.UserID)
	}

	list, err = files.List(ctx, bob)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "video", list[0].FileType)
}

func TestFiles_GetNotFound(t *testing.T) {
	_, db := newUsers(t)

	_, err := NewFiles(db).Get(context.Background(), 42)
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestFiles_DeleteOwned(t *testing.T) {
	users, db := newUsers(t)
	files := NewFiles(db)
	ctx := context.Background()
	alice, bob := registerPair(t, users)

	f, err := files.Create(ctx, alice, "a1.png", "https://cdn/a1.png", "vault/a1", "image")
	require.NoError(t, err)

	err = files.DeleteOwned(ctx, f.ID, bob)
	assert.ErrorIs(t, err, apperr.Forbidden)

	_, err = files.Get(ctx, f.ID)
	require.NoError(t, err, "forbidden delete must leave the record")

	require.NoError(t, files.DeleteOwned(ctx, f.ID, alice))

	_, err = files.Get(ctx, f.ID)
	assert.ErrorIs(t, err, apperr.NotFound)

	err = files.DeleteOwned(ctx, f.ID, alice)
	assert.ErrorIs(t, err, apperr.NotFound, "second delete reports the row as gone")
}

func TestFiles_GetOwned(t *testing.T) {
	users, db := newUsers(t)
	files := NewFiles(db)
	ctx := context.Background()
	alice, bob := registerPair(t, users)

	f, err := files.Create(ctx, alice, "a1.png", "https://cdn/a1.png", "vault/a1", "image")
	require.NoError(t, err)

	got, err := files.GetOwned(ctx, f.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, "vault/a1", got.PublicID)

	_, err = files.GetOwned(ctx, f.ID, bob)
	assert.ErrorIs(t, err, apperr.Forbidden)
}
