package state

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
)

// EncryptionKeyEnvVar holds the passphrase state content is sealed with.
const EncryptionKeyEnvVar = "FNSTACK_STATE_ENCRYPTION_KEY"

// encryptedHeader marks sealed content; the base64 payload follows on the
// next line.
var encryptedHeader = []byte("# FNSTACK_ENCRYPTED_STATE\n")

var errShortCiphertext = errors.New("encrypted state is truncated")

// EncryptState seals content with AES-256-GCM when a key is configured and
// returns it unchanged otherwise.
func EncryptState(content []byte) ([]byte, error) {
	key := encryptionKey()
	if key == nil {
		return content, nil
	}
	return seal(key, content)
}

// DecryptState opens sealed content. Plain content passes through, so
// state written before a key was set stays readable.
func DecryptState(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}
	key := encryptionKey()
	if key == nil {
		return nil, fmt.Errorf("state is encrypted but %s is not set", EncryptionKeyEnvVar)
	}
	return open(key, content)
}

// IsEncrypted reports whether content carries the sealed-state header.
func IsEncrypted(content []byte) bool {
	return bytes.HasPrefix(content, encryptedHeader)
}

func seal(key, content []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, content, encryptedHeader)

	out := make([]byte, 0, len(encryptedHeader)+base64.StdEncoding.EncodedLen(len(sealed))+1)
	out = append(out, encryptedHeader...)
	out = base64.StdEncoding.AppendEncode(out, sealed)
	return append(out, '\n'), nil
}

func open(key, content []byte) ([]byte, error) {
	payload := bytes.TrimSpace(bytes.TrimPrefix(content, encryptedHeader))
	sealed, err := base64.StdEncoding.AppendDecode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted state: %w", err)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	n := aead.NonceSize()
	if len(sealed) < n {
		return nil, errShortCiphertext
	}
	plain, err := aead.Open(nil, sealed[:n], sealed[n:], encryptedHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state (wrong key?): %w", err)
	}
	return plain, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// encryptionKey derives the 32-byte key from the passphrase, or returns nil
// when none is set.
func encryptionKey() []byte {
	pass := os.Getenv(EncryptionKeyEnvVar)
	if pass == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(pass))
	return sum[:]
}
