// Package key implements the topic-key lifecycle: generation, the
// human-facing display encoding, and derivation of the AEAD key used by
// pkg/aead. All operations are pure and stateless.
package key

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/mjvec/hyperstream/pkg/errs"
	"golang.org/x/crypto/hkdf"
	"io"

	"crypto/sha256"
)

const (
	// TopicKeySize is the fixed length of a topic key in bytes.
	TopicKeySize = 32

	// AeadKeySize is the fixed length of a derived AEAD key in bytes.
	AeadKeySize = 32

	// DisplaySize is the fixed length, in characters, of a topic key's
	// base64url display form.
	DisplaySize = 43

	// hkdfSalt and hkdfInfo domain-separate the AEAD key derivation from
	// any other use of the topic key. They are fixed ASCII constants,
	// never secrets.
	hkdfSalt = "hyperstream-v1"
	hkdfInfo = "aes-256-gcm"
)

// TopicKey is the 32-byte secret shared out-of-band between sender and
// receiver.
type TopicKey [TopicKeySize]byte

// AeadKey is the 32-byte key actually fed to AES-256-GCM. It is always
// derived from a TopicKey via Derive, never used as a TopicKey directly.
type AeadKey [AeadKeySize]byte

// Generate produces a fresh, cryptographically random topic key and its
// base64url display form.
func Generate() (TopicKey, string, error) {
	var t TopicKey
	if _, err := io.ReadFull(rand.Reader, t[:]); err != nil {
		return TopicKey{}, "", &errs.IoError{Cause: err}
	}
	return t, Display(t), nil
}

// Display encodes a topic key as the 43-character base64url form users
// copy and paste.
func Display(t TopicKey) string {
	return base64.RawURLEncoding.EncodeToString(t[:])
}

// Parse decodes a user-supplied share key back into a TopicKey, failing
// with errs.ErrInvalidKeyLength on anything that does not decode to
// exactly 32 bytes.
func Parse(displayKey string) (TopicKey, error) {
	b, err := base64.RawURLEncoding.DecodeString(displayKey)
	if err != nil || len(b) != TopicKeySize {
		return TopicKey{}, errs.ErrInvalidKeyLength
	}
	var t TopicKey
	copy(t[:], b)
	return t, nil
}

// Derive turns a topic key into the AEAD key via HKDF-SHA256 with fixed
// domain-separation salt/info. Deterministic: Derive(t) == Derive(t).
func Derive(t TopicKey) AeadKey {
	reader := hkdf.New(sha256.New, t[:], []byte(hkdfSalt), []byte(hkdfInfo))
	var out AeadKey
	// hkdf.New's Reader never returns an error for a request this small
	// relative to SHA-256's output limit; ignoring it would hide a
	// genuine bug, so we still check and panic rather than returning a
	// half-written key.
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		panic("hyperstream: hkdf expand failed: " + err.Error())
	}
	return out
}
