package kas

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	dErrors "accord/pkg/domain-errors"
)

// Unwrapper recovers a content key from its wrapped form. Implementations
// must reject tampered or foreign key material with an error; callers treat
// any error as a denial, never as grounds for returning partial material.
type Unwrapper interface {
	Unwrap(kaoID string, wrapped []byte) ([]byte, error)
}

// kekSize is the required key-encryption-key length. AES-256 only.
const kekSize = 32

// gcmNonceSize matches cipher.NewGCM's standard nonce length.
const gcmNonceSize = 12

// AESGCMUnwrapper unwraps content keys sealed with AES-256-GCM under a
// per-KAO key derived from the broker's KEK.
//
// Derivation is HKDF-SHA256 with the KAO identifier as the info parameter,
// so key material wrapped for one KAO never opens under another even with
// the same KEK. Wire format is nonce || ciphertext. KEK provisioning is out
// of band (environment or secret mount); rotation means re-wrapping.
type AESGCMUnwrapper struct {
	kek []byte
}

// NewAESGCMUnwrapper validates the KEK and builds the unwrapper.
func NewAESGCMUnwrapper(kek []byte) (*AESGCMUnwrapper, error) {
	if len(kek) != kekSize {
		return nil, fmt.Errorf("key encryption key must be %d bytes, got %d", kekSize, len(kek))
	}
	return &AESGCMUnwrapper{kek: append([]byte(nil), kek...)}, nil
}

// Unwrap opens the sealed content key for the given KAO.
func (u *AESGCMUnwrapper) Unwrap(kaoID string, wrapped []byte) ([]byte, error) {
	if kaoID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "kao id is required")
	}
	if len(wrapped) <= gcmNonceSize {
		return nil, dErrors.New(dErrors.CodeBadRequest, "wrapped key too short")
	}

	gcm, err := u.aead(kaoID)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext := wrapped[:gcmNonceSize], wrapped[gcmNonceSize:]
	key, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// GCM authentication failure: tampered ciphertext or wrong KAO.
		return nil, dErrors.New(dErrors.CodeBadRequest, "wrapped key failed authentication")
	}
	return key, nil
}

// Wrap seals a content key for the given KAO. Used by resource creation
// paths and tests; the release path only ever unwraps.
func (u *AESGCMUnwrapper) Wrap(kaoID string, key []byte) ([]byte, error) {
	if kaoID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "kao id is required")
	}

	gcm, err := u.aead(kaoID)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, key, nil), nil
}

func (u *AESGCMUnwrapper) aead(kaoID string) (cipher.AEAD, error) {
	derived := make([]byte, kekSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, u.kek, nil, []byte(kaoID)), derived); err != nil {
		return nil, fmt.Errorf("deriving kao key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
