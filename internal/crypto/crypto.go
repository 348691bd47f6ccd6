// Package crypto provides the key material primitives of the profile
// subsystem: the 256-bit profile key, the unidentified-access key derived
// from it with HKDF-SHA256, the XOR composite key used for multi-recipient
// sends, and AES-256-GCM encryption of profile name fields.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// ProfileKeySize is the byte length of a profile key (256 bits).
	ProfileKeySize = 32
	// AccessKeySize is the byte length of a derived access key.
	AccessKeySize = 16
	// NonceSize is the byte length of the GCM nonce (96 bits).
	NonceSize = 12
	// MasterKeySize is the byte length of the operator master key used
	// to wrap key material for export.
	MasterKeySize = 32
)

var (
	ErrInvalidKey        = errors.New("crypto: invalid key")
	ErrDecryptionFailed  = errors.New("crypto: decryption failed")
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")
	ErrNoAccessKeys      = errors.New("crypto: no access keys to combine")
)

// hkdf info strings bound into derived access keys. The uuid-only variant
// yields a distinct key so a full-certificate key can never be replayed as
// a uuid-only one.
var (
	accessKeyInfo         = []byte("kestrel-ud-access-v1")
	accessKeyInfoUUIDOnly = []byte("kestrel-ud-access-uuid-v1")
)

// ProfileKey is the symmetric key protecting a user's profile name and
// avatar and anchoring unidentified-access derivation.
type ProfileKey [ProfileKeySize]byte

// GenerateProfileKey creates a new random profile key from crypto/rand.
func GenerateProfileKey() (ProfileKey, error) {
	var key ProfileKey
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return ProfileKey{}, fmt.Errorf("generate profile key: %w", err)
	}
	return key, nil
}

// ProfileKeyFromBytes validates and copies raw profile key bytes.
func ProfileKeyFromBytes(b []byte) (ProfileKey, error) {
	if len(b) != ProfileKeySize {
		return ProfileKey{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(b), ProfileKeySize)
	}
	var key ProfileKey
	copy(key[:], b)
	return key, nil
}

// ProfileKeyFromBase64 decodes a base64-encoded profile key.
func ProfileKeyFromBase64(encoded string) (ProfileKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ProfileKey{}, fmt.Errorf("%w: base64 decode: %v", ErrInvalidKey, err)
	}
	return ProfileKeyFromBytes(raw)
}

// Base64 encodes the key as standard base64.
func (k ProfileKey) Base64() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Bytes returns a copy of the raw key bytes.
func (k ProfileKey) Bytes() []byte {
	out := make([]byte, ProfileKeySize)
	copy(out, k[:])
	return out
}

// IsZero reports whether the key is all zero bytes.
func (k ProfileKey) IsZero() bool {
	return k == ProfileKey{}
}

// AccessKey proves eligibility to reach a recipient without identifying the
// sender. It is derived on demand and never persisted.
type AccessKey [AccessKeySize]byte

// DeriveAccessKey derives the unidentified-access key for a profile key.
// The uuidOnly flag binds the uuid-only certificate variant into the
// derivation so the two keys are unrelated.
func DeriveAccessKey(key ProfileKey, uuidOnly bool) (AccessKey, error) {
	if key.IsZero() {
		return AccessKey{}, fmt.Errorf("%w: zero profile key", ErrInvalidKey)
	}
	info := accessKeyInfo
	if uuidOnly {
		info = accessKeyInfoUUIDOnly
	}
	reader := hkdf.New(sha256.New, key[:], nil, info)
	var out AccessKey
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		return AccessKey{}, fmt.Errorf("derive access key: %w", err)
	}
	return out, nil
}

// CombineAccessKeys folds per-recipient access keys into the composite key
// carried by a multi-recipient send. Combination is XOR and therefore
// order-independent and self-inverse.
func CombineAccessKeys(keys []AccessKey) (AccessKey, error) {
	if len(keys) == 0 {
		return AccessKey{}, ErrNoAccessKeys
	}
	var out AccessKey
	for _, key := range keys {
		for i := range out {
			out[i] ^= key[i]
		}
	}
	return out, nil
}

// IsZero reports whether the access key is all zero bytes.
func (k AccessKey) IsZero() bool {
	return k == AccessKey{}
}

// Base64 encodes the access key as standard base64.
func (k AccessKey) Base64() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// EncryptName seals a profile name component under the profile key with
// AES-256-GCM. The nonce is prepended to the ciphertext.
func EncryptName(key ProfileKey, name string) ([]byte, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("%w: zero profile key", ErrInvalidKey)
	}
	if name == "" {
		return nil, nil
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, []byte(name), nil), nil
}

// DecryptName opens a sealed profile name component.
func DecryptName(key ProfileKey, sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	if key.IsZero() {
		return "", fmt.Errorf("%w: zero profile key", ErrInvalidKey)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	nonce := sealed[:gcm.NonceSize()]
	pt, err := gcm.Open(nil, nonce, sealed[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(pt), nil
}

// WrapKey seals a profile key under the operator master key, for export
// and at-rest copies that must not hold the key in the clear. The nonce
// is prepended to the ciphertext.
func WrapKey(master []byte, key ProfileKey) ([]byte, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("%w: zero profile key", ErrInvalidKey)
	}
	gcm, err := masterGCM(master)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, key[:], nil), nil
}

// UnwrapKey opens a wrapped profile key.
func UnwrapKey(master []byte, wrapped []byte) (ProfileKey, error) {
	gcm, err := masterGCM(master)
	if err != nil {
		return ProfileKey{}, err
	}
	if len(wrapped) < gcm.NonceSize() {
		return ProfileKey{}, ErrInvalidCiphertext
	}
	nonce := wrapped[:gcm.NonceSize()]
	pt, err := gcm.Open(nil, nonce, wrapped[gcm.NonceSize():], nil)
	if err != nil {
		return ProfileKey{}, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	defer Wipe(pt)
	return ProfileKeyFromBytes(pt)
}

func masterGCM(master []byte) (cipher.AEAD, error) {
	if len(master) != MasterKeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes", ErrInvalidKey, MasterKeySize)
	}
	block, err := aes.NewCipher(master)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return gcm, nil
}

func newGCM(key ProfileKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return gcm, nil
}

// Wipe zeroes key material in place before its buffer is released.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
