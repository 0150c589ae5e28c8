// Package auth - password.go implements credential hashing with Argon2id.
// A server-held pepper is appended to every password before hashing, so a
// stolen database alone is not enough to mount an offline attack; the
// pepper lives only in configuration. Hashes are stored in PHC string
// format ($argon2id$v=19$m=...,t=...,p=...$salt$hash) so parameters can be
// raised later without invalidating existing hashes.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params are the cost parameters for new hashes.
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params matches a 64 MiB / 3-pass profile.
func DefaultArgon2Params() Argon2Params {
	p := uint8(runtime.NumCPU())
	if p > 4 {
		p = 4
	}
	if p == 0 {
		p = 1
	}
	return Argon2Params{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: p,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// ErrMalformedHash indicates a stored hash that is not a valid argon2id PHC
// string; verification treats it as a failed match, never as a panic.
var ErrMalformedHash = errors.New("auth: malformed password hash")

// Hasher hashes and verifies passwords with a fixed pepper.
type Hasher struct {
	pepper string
	params Argon2Params
}

// NewHasher creates a password hasher. The pepper must be non-empty in
// production; config validation enforces that upstream.
func NewHasher(pepper string, params Argon2Params) *Hasher {
	return &Hasher{pepper: pepper, params: params}
}

// Hash derives an argon2id hash of password+pepper under a fresh random
// salt and encodes it as a PHC string.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: empty password", ErrInvalidInput)
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password+h.pepper), salt,
		h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the stored parameters and salt and
// compares in constant time. It returns nil on match, ErrInvalidCredentials
// on mismatch, and ErrMalformedHash when the stored value cannot be parsed.
func (h *Hasher) Verify(password, encoded string) error {
	params, salt, key, err := decodeHash(encoded)
	if err != nil {
		return err
	}

	candidate := argon2.IDKey([]byte(password+h.pepper), salt,
		params.Iterations, params.MemoryKiB, params.Parallelism, uint32(len(key)))

	if subtle.ConstantTimeCompare(candidate, key) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// dummyHash is a throwaway hash of a random value, verified against unknown
// accounts so a login attempt burns the same argon2 work whether or not the
// email exists.
var dummyHash = func() string {
	h := NewHasher("", DefaultArgon2Params())
	s, err := h.Hash("credential-timing-equalizer")
	if err != nil {
		// rand.Read failing at init means the process has no entropy
		// source at all; nothing sensible can run.
		panic(err)
	}
	return s
}()

// VerifyDummy performs a full verification against a fixed throwaway hash
// and always reports a mismatch. Used to keep unknown-account timing
// indistinguishable from wrong-password timing.
func (h *Hasher) VerifyDummy(password string) error {
	_ = h.Verify(password, dummyHash)
	return ErrInvalidCredentials
}

func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, ErrMalformedHash
	}

	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.MemoryKiB, &params.Iterations, &params.Parallelism); err != nil {
		return Argon2Params{}, nil, nil, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Argon2Params{}, nil, nil, ErrMalformedHash
	}
	return params, salt, key, nil
}
