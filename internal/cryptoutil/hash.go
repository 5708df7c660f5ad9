package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// fileHashChunkSize is the read size used while hashing files.
const fileHashChunkSize = 4096

// EmailHash returns the lowercase-hex SHA-256 of a normalized email.
// This is the coordinator's primary key for an account; the plaintext
// email itself is never persisted.
func EmailHash(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}

// HashFile returns the lowercase-hex SHA-256 of a file, reading it in
// 4096-byte chunks.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, fileHashChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
