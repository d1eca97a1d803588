package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lumendb/src/helpers"

	"go.uber.org/zap"
)

// UserStore manages secure storage of user credentials. When an encryption
// key is configured the file is sealed with AES-GCM; without one it is plain
// JSON.
type UserStore struct {
	encryptionKey []byte       // Key used to encrypt the storage file
	filePath      string       // Path to the storage file
	users         []User       // In-memory cache of users
	mu            sync.RWMutex // Mutex for thread safety
	logger        *zap.SugaredLogger
}

// NewUserStore opens (or initializes) the user store at filePath.
func NewUserStore(filePath string, encryptionKey []byte, logger *zap.SugaredLogger) (*UserStore, error) {
	if len(encryptionKey) != 0 && len(encryptionKey) != 16 && len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be 16 or 32 bytes, got %d", len(encryptionKey))
	}

	store := &UserStore{
		encryptionKey: encryptionKey,
		filePath:      filePath,
		logger:        logger,
	}

	if err := store.load(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *UserStore) load() error {
	if !helpers.FileExists(s.filePath, s.logger) {
		s.users = []User{}
		return nil
	}

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return fmt.Errorf("failed to read user store: %w", err)
	}

	if len(s.encryptionKey) > 0 {
		data, err = decrypt(data, s.encryptionKey)
		if err != nil {
			return fmt.Errorf("failed to decrypt user store: %w", err)
		}
	}

	if err := json.Unmarshal(data, &s.users); err != nil {
		return fmt.Errorf("failed to decode user store: %w", err)
	}

	return nil
}

// save persists the user list. Called with the write lock held.
func (s *UserStore) save() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode user store: %w", err)
	}

	if len(s.encryptionKey) > 0 {
		data, err = encrypt(data, s.encryptionKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt user store: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create user store directory: %w", err)
	}

	if err := os.WriteFile(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write user store: %w", err)
	}

	return nil
}

// AddUser creates a user with a hashed password.
func (s *UserStore) AddUser(username, password string, role Role) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Username == username {
			return nil, ErrUserAlreadyExists
		}
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := User{
		ID:             helpers.GenerateUUID(),
		Username:       username,
		Role:           role,
		PasswordHash:   hash,
		CreatedAt:      now,
		LastModifiedAt: now,
	}

	s.users = append(s.users, user)
	if err := s.save(); err != nil {
		return nil, err
	}

	return &user, nil
}

// GetUser retrieves a user by username
func (s *UserStore) GetUser(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.users {
		if s.users[i].Username == username {
			user := s.users[i]
			return &user, nil
		}
	}

	return nil, ErrUserNotFound
}

// VerifyCredentials checks if the provided credentials are valid
func (s *UserStore) VerifyCredentials(username, password string) (*User, error) {
	user, err := s.GetUser(username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !user.PasswordHash.Verify(password) {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// Count returns the number of stored users.
func (s *UserStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
