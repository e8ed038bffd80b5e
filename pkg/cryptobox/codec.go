// Package cryptobox provides transparent field-level encryption for PII
// extracted from scam conversations. Values are sealed with AES-256-CBC and
// a fresh random IV per call, serialized as a marked hex envelope.
//
// Decryption fails closed: a corrupt or wrong-key envelope comes back
// unchanged rather than erroring, so a single bad record can never take down
// the read path. Callers that care can inspect the returned status.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
)

// EnvelopeMarker prefixes every sealed value. The explicit marker makes
// sealed and plain values distinguishable without guessing from separators.
const EnvelopeMarker = "enc1:"

const ivLength = aes.BlockSize

// KeyLength is the AES-256 key size in bytes.
const KeyLength = 32

// DecryptStatus tells the caller what Decrypt actually did.
type DecryptStatus int

const (
	// StatusDecrypted means the value was a valid envelope and round-tripped.
	StatusDecrypted DecryptStatus = iota
	// StatusPassthrough means the value was never encrypted; returned as-is.
	StatusPassthrough
	// StatusFailedClosed means the value looked like an envelope but could
	// not be decrypted (corrupt data or wrong key); returned as-is.
	StatusFailedClosed
)

func (s DecryptStatus) String() string {
	switch s {
	case StatusDecrypted:
		return "decrypted"
	case StatusPassthrough:
		return "passthrough"
	case StatusFailedClosed:
		return "failed_closed"
	default:
		return "unknown"
	}
}

// Codec seals and opens individual text fields with a fixed symmetric key.
// Safe for concurrent use.
type Codec struct {
	key []byte
}

// New builds a Codec from the configured secret. The secret is clamped to
// exactly 32 bytes: longer input is truncated, shorter input is zero-padded.
func New(secret string) *Codec {
	key := make([]byte, KeyLength)
	copy(key, secret)
	return &Codec{key: key}
}

// Encrypt seals plaintext into an envelope. Empty input is a no-op and is
// returned unchanged; structured fields must not be passed here.
func (c *Codec) Encrypt(plaintext string) string {
	if plaintext == "" {
		return plaintext
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		// No usable entropy: storing plaintext beats corrupting data with a
		// predictable IV.
		return plaintext
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return plaintext
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return EnvelopeMarker + hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct)
}

// Decrypt opens an envelope produced by Encrypt. Values that are not
// envelopes pass through unchanged (StatusPassthrough), which lets records
// written before encryption was enabled load without a backfill. Corrupt or
// wrong-key envelopes also come back unchanged, tagged StatusFailedClosed.
func (c *Codec) Decrypt(value string) (string, DecryptStatus) {
	ivHex, ctHex, ok := splitEnvelope(value)
	if !ok {
		return value, StatusPassthrough
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != ivLength {
		return value, StatusFailedClosed
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return value, StatusFailedClosed
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return value, StatusFailedClosed
	}

	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)

	unpadded, err := pkcs7Unpad(pt, aes.BlockSize)
	if err != nil {
		return value, StatusFailedClosed
	}
	return string(unpadded), StatusDecrypted
}

// IsEnvelope reports whether value carries the envelope shape, marked or
// legacy.
func IsEnvelope(value string) bool {
	_, _, ok := splitEnvelope(value)
	return ok
}

// splitEnvelope recognizes "enc1:<hex iv>:<hex ct>" and, for records sealed
// before the marker existed, a bare "<hex iv>:<hex ct>" with a full-length
// hex IV. Anything else is plaintext.
func splitEnvelope(value string) (ivHex, ctHex string, ok bool) {
	if rest, found := strings.CutPrefix(value, EnvelopeMarker); found {
		ivHex, ctHex, ok = strings.Cut(rest, ":")
		return ivHex, ctHex, ok
	}

	ivHex, ctHex, found := strings.Cut(value, ":")
	if !found || len(ivHex) != ivLength*2 || ctHex == "" {
		return "", "", false
	}
	if !isHex(ivHex) || !isHex(ctHex) {
		return "", "", false
	}
	return ivHex, ctHex, true
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

var errBadPadding = errors.New("cryptobox: invalid padding")

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errBadPadding
		}
	}
	return data[:len(data)-n], nil
}
