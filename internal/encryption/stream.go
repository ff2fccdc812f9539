package encryption

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// age payload framing: a 16 byte nonce, then chunks of up to 64 KiB of
// plaintext each followed by a 16 byte tag.
const (
	ageNonceSize = 16
	ageTagSize   = 16
	ageChunkSize = 64 << 10

	// maxHeaderSize bounds the scan for the end of the header.
	maxHeaderSize = 64 << 10
)

var errMalformed = errors.New("malformed age file")

func (e *AgeEncryptor) EncryptWriter(w io.Writer) (io.WriteCloser, error) {
	recipient, err := e.loadRecipient()
	if err != nil {
		return nil, fmt.Errorf("loading public key: %w", err)
	}
	enc, err := age.Encrypt(w, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	return enc, nil
}

// PlaintextSize derives the content size from the header length and the
// chunk framing without decrypting anything.
func (e *AgeEncryptor) PlaintextSize(r io.Reader, size int64) (int64, error) {
	header, err := headerLength(r)
	if err != nil {
		return 0, err
	}
	payload := size - header - ageNonceSize
	if payload < ageTagSize {
		return 0, fmt.Errorf("%w: truncated payload", errMalformed)
	}
	chunks := (payload + ageChunkSize + ageTagSize - 1) / (ageChunkSize + ageTagSize)
	return payload - chunks*ageTagSize, nil
}

// headerLength returns the size of the text header, which ends with the
// line starting with "--- ".
func headerLength(r io.Reader) (int64, error) {
	br := bufio.NewReader(io.LimitReader(r, maxHeaderSize))
	var n int64
	for {
		line, err := br.ReadString('\n')
		n += int64(len(line))
		if err != nil {
			return 0, fmt.Errorf("%w: reading header: %v", errMalformed, err)
		}
		if n == int64(len(line)) && !strings.HasPrefix(line, "age-encryption.org/") {
			return 0, fmt.Errorf("%w: unknown version line", errMalformed)
		}
		if strings.HasPrefix(line, "--- ") {
			return n, nil
		}
	}
}

// AgeDecryptionContext holds an unlocked age identity.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ DecryptionContext = (*AgeDecryptionContext)(nil)

func (c *AgeDecryptionContext) DecryptReader(r io.Reader) (io.Reader, error) {
	dec, err := age.Decrypt(r, c.identity)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	return dec, nil
}
