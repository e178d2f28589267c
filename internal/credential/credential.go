// Package credential derives, encodes and verifies password credentials.
//
// A credential is a self-describing binary blob:
//
//	offset 0..4              salt length (uint32, big-endian)
//	offset 4..8              iteration count (uint32, big-endian)
//	offset 8..8+saltLength   salt
//	offset 8+saltLength..    derived hash
//
// The hash length is not stored; it is whatever remains after the salt.
// Records written with a different iteration count or salt length keep
// verifying after the configuration changes.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"math"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultSaltBytes  = 16
	DefaultHashBytes  = 32
	DefaultIterations = 743243
	DefaultPRF        = "sha512"

	// MinPasswordLength is the shortest plaintext SetPassword accepts.
	MinPasswordLength = 8

	headerSize = 8
)

// ErrMalformedCredential reports a stored blob that cannot be parsed.
// It is distinct from a failed verification.
var ErrMalformedCredential = errors.New("malformed credential")

// Config holds the derivation parameters used for new credentials.
type Config struct {
	SaltBytes  int
	HashBytes  int
	Iterations int
	PRF        string
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{
		SaltBytes:  DefaultSaltBytes,
		HashBytes:  DefaultHashBytes,
		Iterations: DefaultIterations,
		PRF:        DefaultPRF,
	}
}

// Validate checks the configuration and returns an error if invalid.
func (c Config) Validate() error {
	if c.SaltBytes < 1 || uint64(c.SaltBytes) > math.MaxUint32 {
		return fmt.Errorf("invalid salt length %d", c.SaltBytes)
	}
	if c.HashBytes < 1 {
		return fmt.Errorf("invalid hash length %d", c.HashBytes)
	}
	if c.Iterations < 1 || uint64(c.Iterations) > math.MaxUint32 {
		return fmt.Errorf("invalid iteration count %d", c.Iterations)
	}
	if c.PRF != "" && c.PRF != DefaultPRF {
		return fmt.Errorf("unsupported prf %q: only %q is accepted", c.PRF, DefaultPRF)
	}
	return nil
}

// Credential is the decoded form of a stored blob.
type Credential struct {
	Iterations uint32
	Salt       []byte
	Hash       []byte
}

// Marshal serializes the credential into its binary layout.
func (c Credential) Marshal() []byte {
	out := make([]byte, headerSize+len(c.Salt)+len(c.Hash))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(c.Salt)))
	binary.BigEndian.PutUint32(out[4:8], c.Iterations)
	copy(out[headerSize:], c.Salt)
	copy(out[headerSize+len(c.Salt):], c.Hash)
	return out
}

// Decode parses a stored blob. The returned slices alias blob.
func Decode(blob []byte) (Credential, error) {
	if len(blob) < headerSize {
		return Credential{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedCredential, len(blob))
	}

	saltLength := uint64(binary.BigEndian.Uint32(blob[0:4]))
	iterations := binary.BigEndian.Uint32(blob[4:8])

	body := uint64(len(blob) - headerSize)
	if saltLength > body {
		return Credential{}, fmt.Errorf("%w: declared salt length %d exceeds %d available bytes", ErrMalformedCredential, saltLength, body)
	}
	// An empty hash would verify any password.
	if saltLength == body {
		return Credential{}, fmt.Errorf("%w: no hash bytes after salt", ErrMalformedCredential)
	}
	if iterations == 0 {
		return Credential{}, fmt.Errorf("%w: zero iteration count", ErrMalformedCredential)
	}

	end := headerSize + int(saltLength)
	return Credential{
		Iterations: iterations,
		Salt:       blob[headerSize:end],
		Hash:       blob[end:],
	}, nil
}

// Hasher encodes and verifies credentials. It holds no mutable state and is
// safe for concurrent use.
type Hasher struct {
	cfg  Config
	prf  func() hash.Hash
	rand io.Reader
}

// New creates a Hasher from cfg. An empty PRF defaults to sha512.
func New(cfg Config) (*Hasher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PRF == "" {
		cfg.PRF = DefaultPRF
	}
	return &Hasher{cfg: cfg, prf: sha512.New, rand: rand.Reader}, nil
}

// Config returns the parameters used for new credentials.
func (h *Hasher) Config() Config {
	return h.cfg
}

// Encode derives a credential for password with a fresh random salt.
func (h *Hasher) Encode(password string) ([]byte, error) {
	salt := make([]byte, h.cfg.SaltBytes)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	return Credential{
		Iterations: uint32(h.cfg.Iterations),
		Salt:       salt,
		Hash:       h.derive(password, salt, h.cfg.Iterations, h.cfg.HashBytes),
	}.Marshal(), nil
}

// EncodeContext is Encode with cooperative cancellation. When ctx ends
// before the derivation finishes the result is discarded and ctx.Err()
// is returned.
func (h *Hasher) EncodeContext(ctx context.Context, password string) ([]byte, error) {
	return runContext(ctx, func() ([]byte, error) { return h.Encode(password) })
}

// Verify reports whether password matches blob. A blob that cannot be
// parsed yields ErrMalformedCredential rather than false.
func (h *Hasher) Verify(password string, blob []byte) (bool, error) {
	c, err := Decode(blob)
	if err != nil {
		return false, err
	}

	computed := h.derive(password, c.Salt, int(c.Iterations), len(c.Hash))
	return subtle.ConstantTimeCompare(computed, c.Hash) == 1, nil
}

// VerifyContext is Verify with cooperative cancellation.
func (h *Hasher) VerifyContext(ctx context.Context, password string, blob []byte) (bool, error) {
	var ok bool
	_, err := runContext(ctx, func() ([]byte, error) {
		var err error
		ok, err = h.Verify(password, blob)
		return nil, err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// SetPassword validates a password and its confirmation and encodes it.
// Checks run in order: both present, identical, long enough. Length is
// counted in characters.
func (h *Hasher) SetPassword(password, confirmation string) ([]byte, error) {
	switch {
	case password == "":
		return nil, &ValidationError{Field: FieldPassword, Reason: ReasonRequired}
	case confirmation == "":
		return nil, &ValidationError{Field: FieldConfirmation, Reason: ReasonRequired}
	case password != confirmation:
		return nil, &ValidationError{Field: FieldPassword, Reason: ReasonMismatch}
	case utf8.RuneCountInString(password) < MinPasswordLength:
		return nil, &ValidationError{Field: FieldPassword, Reason: ReasonTooShort}
	}
	return h.Encode(password)
}

// NeedsRehash reports whether blob was derived with weaker or different
// parameters than the current configuration.
func (h *Hasher) NeedsRehash(blob []byte) (bool, error) {
	c, err := Decode(blob)
	if err != nil {
		return false, err
	}
	return int(c.Iterations) < h.cfg.Iterations ||
		len(c.Salt) != h.cfg.SaltBytes ||
		len(c.Hash) != h.cfg.HashBytes, nil
}

func (h *Hasher) derive(password string, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLen, h.prf)
}

// runContext runs fn on its own goroutine so the caller can stop waiting.
// The goroutine still finishes its derivation; its output is dropped.
func runContext(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn()
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.out, r.err
	}
}
