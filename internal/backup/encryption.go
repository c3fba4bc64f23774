package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Encryptor performs authenticated encryption of backup artifacts using
// AES-256-GCM. A fresh random nonce is generated per call and prepended to
// the ciphertext; decryption verifies the authentication tag and reports
// tampering as an integrity failure rather than returning garbage.
type Encryptor struct {
	key []byte
}

// NewEncryptor creates an Encryptor. The key must be exactly 32 bytes;
// anything else is rejected here so misconfiguration fails at startup.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, NewConfigurationError("encryption key must be exactly 32 bytes for AES-256", nil)
	}
	if err := checkWeakKey(key); err != nil {
		return nil, err
	}

	k := make([]byte, 32)
	copy(k, key)
	return &Encryptor{key: k}, nil
}

// Encrypt encrypts plaintext and returns nonce||ciphertext||tag
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := e.newGCM()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, NewEncryptionError("failed to generate nonce", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts a blob produced by Encrypt. A truncated blob, a wrong
// key, or any bit flip in the ciphertext yields an INTEGRITY_FAILURE.
func (e *Encryptor) Decrypt(blob []byte) ([]byte, error) {
	gcm, err := e.newGCM()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(blob) < nonceSize {
		return nil, NewIntegrityError("encrypted blob shorter than nonce", nil)
	}

	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewIntegrityError("authentication tag verification failed", err)
	}

	return plaintext, nil
}

// Algorithm returns the encryption algorithm identifier
func (e *Encryptor) Algorithm() string {
	return "AES-256-GCM"
}

func (e *Encryptor) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}

// DeriveKeyFromPassphrase derives a 32-byte key using PBKDF2 with SHA-256
// and 100,000 iterations
func DeriveKeyFromPassphrase(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)
}

// GenerateKey generates a new random 256-bit encryption key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, NewEncryptionError("failed to generate encryption key", err)
	}
	return key, nil
}

func checkWeakKey(key []byte) error {
	allZeros := true
	allOnes := true
	for _, b := range key {
		if b != 0 {
			allZeros = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}
	if allZeros {
		return NewConfigurationError("encryption key cannot be all zeros", nil)
	}
	if allOnes {
		return NewConfigurationError("encryption key cannot be all ones", nil)
	}
	return nil
}
