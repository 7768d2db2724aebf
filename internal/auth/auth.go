// Package auth hashes and verifies player passwords (spec §3's two-field
// PasswordHash/PasswordSalt Player model).
//
// golang.org/x/crypto/pbkdf2 is used rather than a self-contained scheme
// like bcrypt because the Player record stores salt as an explicit field
// (spec §3) rather than embedding it in an opaque hash string; pbkdf2 is
// the pack's donor for exactly that shape (required by the erigon
// example's go.mod for its own key-derivation needs).
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keyLength  = 32
	iterations = 100000
)

// HashPassword derives a new random salt and the corresponding hash for
// password.
func HashPassword(password string) (hash, salt []byte, err error) {
	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, err
	}
	return derive(password, salt), salt, nil
}

// VerifyPassword reports whether password matches the stored hash/salt
// pair, using a constant-time comparison.
func VerifyPassword(password string, hash, salt []byte) bool {
	candidate := derive(password, salt)
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}

func derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha256.New)
}
