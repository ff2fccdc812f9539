package encryption

import (
	"bytes"
	"fmt"
	"io"
)

// testHeader is prepended by TestEncryptor so sealed files differ from
// their plaintext while staying trivially reversible.
var testHeader = []byte("FOPENC\x00\x00")

// TestEncryptor is a deterministic Encryptor for tests. It needs no keys.
type TestEncryptor struct {
	setupCalled bool
}

var _ Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) EncryptWriter(w io.Writer) (io.WriteCloser, error) {
	return &headerWriter{w: w}, nil
}

func (e *TestEncryptor) Unlock(passphrase string) (DecryptionContext, error) {
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) PlaintextSize(r io.Reader, size int64) (int64, error) {
	if size < int64(len(testHeader)) {
		return 0, fmt.Errorf("file too short for test header")
	}
	return size - int64(len(testHeader)), nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// headerWriter writes testHeader before the first byte, or on Close for
// empty content.
type headerWriter struct {
	w       io.Writer
	started bool
}

func (h *headerWriter) start() error {
	if h.started {
		return nil
	}
	h.started = true
	if _, err := h.w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	return nil
}

func (h *headerWriter) Write(p []byte) (int, error) {
	if err := h.start(); err != nil {
		return 0, err
	}
	return h.w.Write(p)
}

func (h *headerWriter) Close() error { return h.start() }

// TestDecryptionContext strips the test header added by TestEncryptor.
type TestDecryptionContext struct{}

var _ DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) DecryptReader(r io.Reader) (io.Reader, error) {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return r, nil
}
