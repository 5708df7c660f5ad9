package cryptoutil

import (
	"errors"
	"net/mail"
	"strings"
)

// ErrInvalidEmail is returned for addresses that fail RFC 5322 parsing
// or that carry a display name or missing domain.
var ErrInvalidEmail = errors.New("invalid email address")

// NormalizeEmail validates an email address syntactically and returns
// its normalized form: whitespace trimmed and the domain lowercased.
// No deliverability check is performed.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return "", ErrInvalidEmail
	}
	local, domain := addr.Address[:at], addr.Address[at+1:]
	return local + "@" + strings.ToLower(domain), nil
}
