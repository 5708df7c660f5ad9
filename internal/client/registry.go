package client

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Registry is the local cache of emails registered from this machine.
// It only decides whether the shell offers registration or login; the
// coordinator remains the authority on accounts.
type Registry struct {
	path   string
	emails map[string]struct{}
}

// LoadRegistry reads the cache file, or starts empty if it does not
// exist. The file is a JSON array of email strings.
func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{path: path, emails: make(map[string]struct{})}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading account cache: %w", err)
	}
	var emails []string
	if err := json.Unmarshal(data, &emails); err != nil {
		return nil, fmt.Errorf("parsing account cache: %w", err)
	}
	for _, email := range emails {
		r.emails[email] = struct{}{}
	}
	return r, nil
}

// Empty reports whether no account has been registered locally.
func (r *Registry) Empty() bool {
	return len(r.emails) == 0
}

// Contains reports whether the email is already registered locally.
func (r *Registry) Contains(email string) bool {
	_, ok := r.emails[email]
	return ok
}

// Add records an email and persists the cache.
func (r *Registry) Add(email string) error {
	r.emails[email] = struct{}{}
	emails := make([]string, 0, len(r.emails))
	for e := range r.emails {
		emails = append(emails, e)
	}
	sort.Strings(emails)
	data, err := json.Marshal(emails)
	if err != nil {
		return fmt.Errorf("encoding account cache: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("writing account cache: %w", err)
	}
	return nil
}
