package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUserStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	logger := zap.NewNop().Sugar()

	store, err := NewUserStore(path, nil, logger)
	require.NoError(t, err)

	user, err := store.AddUser("alice", "s3cret", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, user.Role)

	_, err = store.AddUser("alice", "other", RoleUser)
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	verified, err := store.VerifyCredentials("alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, verified.ID)

	_, err = store.VerifyCredentials("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = store.VerifyCredentials("nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// A second store over the same file sees the persisted user.
	reopened, err := NewUserStore(path, nil, logger)
	require.NoError(t, err)
	_, err = reopened.VerifyCredentials("alice", "s3cret")
	require.NoError(t, err)
}

func TestUserStoreEncryption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	logger := zap.NewNop().Sugar()
	key := []byte("0123456789abcdef0123456789abcdef")

	store, err := NewUserStore(path, key, logger)
	require.NoError(t, err)
	_, err = store.AddUser("alice", "s3cret", RoleUser)
	require.NoError(t, err)

	// The file on disk must not contain plaintext usernames.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "alice")

	reopened, err := NewUserStore(path, key, logger)
	require.NoError(t, err)
	_, err = reopened.VerifyCredentials("alice", "s3cret")
	require.NoError(t, err)

	// A wrong key cannot open the store.
	_, err = NewUserStore(path, []byte("ffffffffffffffffffffffffffffffff"), logger)
	require.Error(t, err)
}

func TestUserStoreRejectsBadKeyLength(t *testing.T) {
	_, err := NewUserStore(filepath.Join(t.TempDir(), "users.json"), []byte("short"), zap.NewNop().Sugar())
	require.Error(t, err)
}

func TestTokenLifecycle(t *testing.T) {
	tokens := NewTokenStore(time.Hour)
	user := &User{Username: "alice", Role: RoleAdmin}

	token := tokens.Issue(user)
	require.NotEmpty(t, token.Value)

	resolved, err := tokens.Validate(token.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", resolved.Username)
	assert.Equal(t, RoleAdmin, resolved.Role)

	tokens.Revoke(token.Value)
	_, err = tokens.Validate(token.Value)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpiry(t *testing.T) {
	tokens := NewTokenStore(time.Nanosecond)
	token := tokens.Issue(&User{Username: "alice", Role: RoleUser})

	time.Sleep(time.Millisecond)

	_, err := tokens.Validate(token.Value)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestPasswordHashVerify(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	assert.True(t, hash.Verify("hunter2"))
	assert.False(t, hash.Verify("hunter3"))
	assert.Equal(t, "argon2id", hash.Method)
}
