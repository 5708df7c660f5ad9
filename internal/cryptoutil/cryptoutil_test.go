package cryptoutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsVerify(t *testing.T) {
	creds, err := NewCredentials("password_v12")
	require.NoError(t, err)
	assert.Len(t, creds.Salt, SaltSize)
	assert.Len(t, creds.Key, KeySize)

	assert.True(t, creds.Verify("password_v12"))
	assert.False(t, creds.Verify("password_v13"))
	assert.False(t, creds.Verify(""))
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")
	assert.Equal(t, DeriveKey("secret", salt), DeriveKey("secret", salt))
	assert.NotEqual(t, DeriveKey("secret", salt), DeriveKey("Secret", salt))
}

func TestCredentialsSaltUnique(t *testing.T) {
	a, err := NewCredentials("password_v12")
	require.NoError(t, err)
	b, err := NewCredentials("password_v12")
	require.NoError(t, err)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Key, b.Key)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{"ascii", "Alice"},
		{"empty", ""},
		{"utf8", "Šárka Nováková"},
		{"block sized", "0123456789abcdef"},
		{"json contacts", `{"bob@example.com":"Bob"}`},
	}

	env := NewEnvelope("alice@example.com")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := env.Seal([]byte(tt.plaintext))
			require.NoError(t, err)

			opened, err := env.Open(sealed)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, string(opened))
		})
	}
}

func TestEnvelopeWrongKey(t *testing.T) {
	sealed, err := NewEnvelope("alice@example.com").Seal([]byte("Alice"))
	require.NoError(t, err)

	_, err = NewEnvelope("mallory@example.com").Open(sealed)
	assert.ErrorIs(t, err, ErrEnvelopeCorrupt)
}

func TestEnvelopeFreshIV(t *testing.T) {
	env := NewEnvelope("alice@example.com")
	a, err := env.Seal([]byte("Alice"))
	require.NoError(t, err)
	b, err := env.Seal([]byte("Alice"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEnvelopeOpenGarbage(t *testing.T) {
	env := NewEnvelope("alice@example.com")
	for _, sealed := range []string{"", "not base64!!!", "AAAA", ""} {
		_, err := env.Open(sealed)
		assert.Error(t, err, "sealed=%q", sealed)
	}
}

func TestEmailHash(t *testing.T) {
	assert.Equal(t,
		"ff8d9819fc0e12bf0d24892e45987e249a28dce836a85cad60e28eaaa8c6d976",
		EmailHash("alice@example.com"))
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\nworld"), 0o600))

	sum, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, "26c60a61d01db5836ca70fefd44a6a016620413c8ef5f259a6c5612d4f79d3b8", sum)
}

func TestHashFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	sum, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", sum)
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "alice@example.com", "alice@example.com", false},
		{"upper domain", "alice@EXAMPLE.COM", "alice@example.com", false},
		{"surrounding space", "  alice@example.com ", "alice@example.com", false},
		{"empty", "", "", true},
		{"no at", "alice.example.com", "", true},
		{"no domain", "alice@", "", true},
		{"display name", "Alice <alice@example.com>", "", true},
		{"two addresses", "a@example.com, b@example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeEmail(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEmail)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
