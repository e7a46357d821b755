// Package auth hashes and verifies the admin API key.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownHashType is returned for stored hashes in an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// Hash types reported by DetectHashType.
const (
	HashTypeArgon2id = "argon2id"
	HashTypeSHA256   = "sha256"
	HashTypeUnknown  = "unknown"
)

// sha256Prefix marks a SHA-256 hex hash.
const sha256Prefix = "sha256:"

// HashKey returns the SHA-256 hex hash of the raw key.
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// HashKeySHA256 returns the prefixed SHA-256 form accepted in configuration.
func HashKeySHA256(rawKey string) string {
	return sha256Prefix + HashKey(rawKey)
}

// argon2idParams defines OWASP minimum parameters for Argon2id.
// Memory: 46 MiB, Iterations: 1, Parallelism: 1
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns an Argon2id hash of the raw key in PHC format.
// Format: $argon2id$v=19$m=48128,t=1,p=1$<salt>$<hash>
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType identifies the hash algorithm used for a stored hash.
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return HashTypeArgon2id
	}
	if strings.HasPrefix(storedHash, sha256Prefix) {
		return HashTypeSHA256
	}
	// Bare SHA-256 hex is exactly 64 hex characters.
	if len(storedHash) == 64 && isHexString(storedHash) {
		return HashTypeSHA256
	}
	return HashTypeUnknown
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyKey verifies a raw key against a stored hash.
// Returns (false, ErrUnknownHashType) for unrecognized hash formats.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case HashTypeArgon2id:
		return safeArgon2idCompare(rawKey, storedHash)
	case HashTypeSHA256:
		expected := strings.ToLower(strings.TrimPrefix(storedHash, sha256Prefix))
		return subtle.ConstantTimeCompare([]byte(HashKey(rawKey)), []byte(expected)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare converts panics from malformed Argon2id parameters
// (e.g. t=0 or p=0) into errors.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}

// KeyVerifier checks bearer keys against one stored hash. Keys that verified
// once are remembered by their SHA-256 so Argon2id runs once per key.
type KeyVerifier struct {
	storedHash string

	mu       sync.Mutex
	verified map[string]struct{}
}

// NewKeyVerifier validates storedHash and returns a verifier for it.
func NewKeyVerifier(storedHash string) (*KeyVerifier, error) {
	if DetectHashType(storedHash) == HashTypeUnknown {
		return nil, ErrUnknownHashType
	}
	return &KeyVerifier{storedHash: storedHash, verified: make(map[string]struct{})}, nil
}

// Verify reports whether rawKey matches.
func (v *KeyVerifier) Verify(rawKey string) bool {
	if rawKey == "" {
		return false
	}
	digest := HashKey(rawKey)

	v.mu.Lock()
	_, ok := v.verified[digest]
	v.mu.Unlock()
	if ok {
		return true
	}

	match, err := VerifyKey(rawKey, v.storedHash)
	if err != nil || !match {
		return false
	}
	v.mu.Lock()
	v.verified[digest] = struct{}{}
	v.mu.Unlock()
	return true
}
