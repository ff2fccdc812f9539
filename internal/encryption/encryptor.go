// Package encryption seals vault content with age.
package encryption

import (
	"fmt"
	"io"

	"fop-go/internal/config"
)

// Encryptor seals content for the vault. Encryption only needs the public
// key. Decryption needs the passphrase that unlocks the private key.
type Encryptor interface {
	// Setup generates a key pair, stores the public key in plaintext and
	// the private key sealed with passphrase. Called by `fop vault init`.
	Setup(passphrase string) error

	// EncryptWriter returns a writer that encrypts into w. Close must be
	// called to flush the final chunk; it does not close w.
	EncryptWriter(w io.Writer) (io.WriteCloser, error)

	// Unlock opens the private key and returns a DecryptionContext for the
	// rest of the session.
	Unlock(passphrase string) (DecryptionContext, error)

	// PlaintextSize returns the content size of a sealed file of size
	// bytes whose beginning is readable from r.
	PlaintextSize(r io.Reader, size int64) (int64, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	// DecryptReader returns a reader yielding the plaintext of r.
	DecryptReader(r io.Reader) (io.Reader, error)
}

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
