package cryptoutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// ErrEnvelopeCorrupt is returned when an envelope cannot be opened with
// the given key.
var ErrEnvelopeCorrupt = errors.New("envelope corrupt or wrong key")

// envelopeKeySize is the AES-256 key length.
const envelopeKeySize = 32

// Envelope encrypts profile fields under a key derived from the account
// owner's plaintext email. The coordinator can open an envelope only
// while it holds the email supplied at login.
type Envelope struct {
	key []byte
}

// NewEnvelope derives an envelope from the plaintext email: the key is
// the first 32 bytes of SHAKE-256 over the email.
func NewEnvelope(email string) Envelope {
	key := make([]byte, envelopeKeySize)
	sha3.ShakeSum256(key, []byte(email))
	return Envelope{key: key}
}

// Seal encrypts plaintext with AES-256-CBC under a fresh random IV and
// returns base64(iv || ciphertext). The plaintext is PKCS7 padded.
func (e Envelope) Seal(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts an envelope produced by Seal.
func (e Envelope) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvelopeCorrupt, err)
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, ErrEnvelopeCorrupt
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrEnvelopeCorrupt
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrEnvelopeCorrupt
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrEnvelopeCorrupt
		}
	}
	return data[:len(data)-n], nil
}
