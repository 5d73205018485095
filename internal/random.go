package internal

import (
	"crypto/rand"
	"encoding/base64"
)

// RefreshTokenBytes is the entropy of an opaque refresh token.
const RefreshTokenBytes = 32

// NewRefreshToken returns 256 random bits encoded as unpadded base64url.
func NewRefreshToken() (string, error) {
	var raw [RefreshTokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// LooksLikeRefreshToken reports whether token has the shape produced by
// [NewRefreshToken]. Used only to skip store round trips for obvious junk;
// stores still accept tokens of any shape.
func LooksLikeRefreshToken(token string) bool {
	if len(token) != base64.RawURLEncoding.EncodedLen(RefreshTokenBytes) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) == RefreshTokenBytes
}
