package password

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrPolicy is returned when a plaintext violates the length policy.
	ErrPolicy = errors.New("password policy violation")
	// ErrMalformedHash is returned for stored hashes that cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrUnsupportedHash is returned for hash algorithms the Hasher cannot verify.
	ErrUnsupportedHash = errors.New("unsupported password hash")
)

// delegatingBcryptPrefix marks hashes written by a delegating encoder that
// tags every hash with its algorithm id.
const delegatingBcryptPrefix = "{bcrypt}"

// Hasher hashes new passwords with Argon2id and verifies both Argon2id hashes
// and the bcrypt hashes left behind by earlier deployments. Any bcrypt hash
// reports NeedsRehash so callers can migrate it after a successful login.
type Hasher struct {
	argon *Argon2
}

// NewHasher returns a Hasher using cfg for Argon2id.
func NewHasher(cfg Config) (*Hasher, error) {
	argon, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: argon}, nil
}

// Hash returns a new Argon2id PHC hash for password.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify reports whether password matches encodedHash.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, argon2Prefix):
		return h.argon.Verify(password, encodedHash)
	case isBcrypt(encodedHash):
		return verifyBcrypt(password, strings.TrimPrefix(encodedHash, delegatingBcryptPrefix))
	case encodedHash == "":
		return false, fmt.Errorf("%w: empty", ErrMalformedHash)
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsRehash reports whether encodedHash should be replaced with a fresh
// Argon2id hash on the next successful verification.
func (h *Hasher) NeedsRehash(encodedHash string) bool {
	if isBcrypt(encodedHash) {
		return true
	}
	upgrade, err := h.argon.NeedsUpgrade(encodedHash)
	return err != nil || upgrade
}

func isBcrypt(encodedHash string) bool {
	s := strings.TrimPrefix(encodedHash, delegatingBcryptPrefix)
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func verifyBcrypt(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, fmt.Errorf("%w: %v", ErrPolicy, err)
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}
