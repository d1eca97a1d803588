package auth

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/argon2"
)

// Role is the authorization level of a user. Admins additionally manage
// backups.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type PasswordHash struct {
	Hash    []byte `json:"hash"`
	Salt    []byte `json:"salt"`
	Method  string `json:"method"`  // "argon2id"
	Time    uint32 `json:"time"`    // time parameter for Argon2
	Memory  uint32 `json:"memory"`  // memory parameter in KiB
	Threads uint8  `json:"threads"` // threads parameter
	KeyLen  uint32 `json:"keylen"`  // length of the hash in bytes
}

type User struct {
	ID             string       `json:"id"`
	Username       string       `json:"username"`
	Role           Role         `json:"role"`
	PasswordHash   PasswordHash `json:"passwordHash"`
	CreatedAt      time.Time    `json:"createdAt"`
	LastModifiedAt time.Time    `json:"lastModifiedAt"`
}

// Default Argon2id parameters.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// HashPassword derives an Argon2id hash with a fresh random salt.
func HashPassword(password string) (PasswordHash, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return PasswordHash{}, fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return PasswordHash{
		Hash:    hash,
		Salt:    salt,
		Method:  "argon2id",
		Time:    argonTime,
		Memory:  argonMemory,
		Threads: argonThreads,
		KeyLen:  argonKeyLen,
	}, nil
}

// Verify re-derives the hash with the stored parameters and compares in
// constant time.
func (h PasswordHash) Verify(password string) bool {
	if h.Method != "argon2id" {
		return false
	}

	derived := argon2.IDKey([]byte(password), h.Salt, h.Time, h.Memory, h.Threads, h.KeyLen)
	return SlowEqual(derived, h.Hash)
}
