// Package store implements the coordinator's account registry: salted
// login credentials and envelope-encrypted profile fields, persisted as
// a single JSON file keyed by email hash.
//
// The plaintext email never reaches disk. Name and contacts are sealed
// under a key derived from the plaintext email, so they are only
// readable while the owner is logged in and the store holds the email
// supplied at login.
package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/securedrop-lan/securedrop/internal/cryptoutil"
)

// Protocol messages returned to clients. The authentication message is
// identical for unknown accounts and wrong passwords so the coordinator
// does not leak which one failed.
const (
	MsgInvalidEmail   = "Invalid Email Address."
	MsgUserExists     = "User already exists."
	MsgInvalidLogin   = "Email and Password Combination Invalid."
	MsgInvalidContact = "Invalid contact name."
	MsgUnknownAccount = "Unknown account."
)

// account is one registered user. The lower fields are populated only
// between a successful Authenticate and Forget.
type account struct {
	emailHash   string
	encName     string
	encContacts string
	creds       cryptoutil.Credentials

	email    string
	name     string
	contacts map[string]string
}

// Store is the in-memory account registry with JSON persistence. All
// methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	path     string
	accounts map[string]*account
}

// Open loads the store from path, or starts empty if the file does not
// exist.
func Open(path string) (*Store, error) {
	s := &Store{
		path:     path,
		accounts: make(map[string]*account),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading account store: %w", err)
	}
	var disk map[string]diskAccount
	if err := json.Unmarshal(data, &disk); err != nil {
		return nil, fmt.Errorf("parsing account store: %w", err)
	}
	for hash, da := range disk {
		acct, err := da.toAccount(hash)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", hash, err)
		}
		s.accounts[hash] = acct
	}
	return s, nil
}

// Register creates a new account. It returns a protocol message for
// validation failures ("" means success) and an error for internal
// failures such as persistence problems.
func (s *Store) Register(name, email, password string) (string, error) {
	validEmail, err := cryptoutil.NormalizeEmail(email)
	if err != nil {
		return MsgInvalidEmail, nil
	}
	hash := cryptoutil.EmailHash(validEmail)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[hash]; ok {
		return MsgUserExists, nil
	}

	creds, err := cryptoutil.NewCredentials(password)
	if err != nil {
		return "", fmt.Errorf("deriving credentials: %w", err)
	}
	env := cryptoutil.NewEnvelope(validEmail)
	encName, err := env.Seal([]byte(name))
	if err != nil {
		return "", fmt.Errorf("sealing name: %w", err)
	}
	contacts := make(map[string]string)
	encContacts, err := sealContacts(env, contacts)
	if err != nil {
		return "", err
	}

	s.accounts[hash] = &account{
		emailHash:   hash,
		encName:     encName,
		encContacts: encContacts,
		creds:       creds,
		email:       validEmail,
		name:        name,
		contacts:    contacts,
	}
	if err := s.persistLocked(); err != nil {
		delete(s.accounts, hash)
		return "", err
	}
	return "", nil
}

// Authenticate verifies credentials. On success the plaintext email is
// kept on the in-memory record and the profile envelopes are opened.
func (s *Store) Authenticate(email, password string) (string, error) {
	hash := cryptoutil.EmailHash(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[hash]
	if !ok {
		// Burn the same key derivation work as the success path so
		// unknown accounts are not distinguishable by timing.
		cryptoutil.DeriveKey(password, make([]byte, cryptoutil.SaltSize))
		return MsgInvalidLogin, nil
	}
	if !acct.creds.Verify(password) {
		return MsgInvalidLogin, nil
	}

	env := cryptoutil.NewEnvelope(email)
	name, err := env.Open(acct.encName)
	if err != nil {
		return "", fmt.Errorf("opening name envelope: %w", err)
	}
	contacts, err := openContacts(env, acct.encContacts)
	if err != nil {
		return "", err
	}
	acct.email = email
	acct.name = string(name)
	acct.contacts = contacts
	return "", nil
}

// AddContact inserts or replaces a contact in the owner's contact map
// and persists the re-encrypted record. The owner must be logged in.
func (s *Store) AddContact(ownerEmail, contactName, contactEmail string) (string, error) {
	validEmail, err := cryptoutil.NormalizeEmail(contactEmail)
	if err != nil {
		return MsgInvalidEmail, nil
	}
	if contactName == "" {
		return MsgInvalidContact, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[cryptoutil.EmailHash(ownerEmail)]
	if !ok || acct.contacts == nil {
		return MsgUnknownAccount, nil
	}

	prev, had := acct.contacts[validEmail]
	acct.contacts[validEmail] = contactName
	encContacts, err := sealContacts(cryptoutil.NewEnvelope(acct.email), acct.contacts)
	if err == nil {
		prevEnc := acct.encContacts
		acct.encContacts = encContacts
		if perr := s.persistLocked(); perr != nil {
			acct.encContacts = prevEnc
			err = perr
		}
	}
	if err != nil {
		if had {
			acct.contacts[validEmail] = prev
		} else {
			delete(acct.contacts, validEmail)
		}
		return "", err
	}
	return "", nil
}

// ContactsContain reports whether the owner's contacts include the
// other email. False when the owner is unknown or not logged in.
func (s *Store) ContactsContain(ownerEmail, otherEmail string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[cryptoutil.EmailHash(ownerEmail)]
	if !ok {
		return false
	}
	_, ok = acct.contacts[otherEmail]
	return ok
}

// Contacts returns a copy of the owner's decrypted contact map, empty
// when the owner is unknown or not logged in.
func (s *Store) Contacts(ownerEmail string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string)
	acct, ok := s.accounts[cryptoutil.EmailHash(ownerEmail)]
	if !ok {
		return out
	}
	for email, name := range acct.contacts {
		out[email] = name
	}
	return out
}

// Forget scrubs the plaintext email and decrypted profile fields from
// the in-memory record. Called on session teardown.
func (s *Store) Forget(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[cryptoutil.EmailHash(email)]
	if !ok {
		return
	}
	acct.email = ""
	acct.name = ""
	acct.contacts = nil
}

// Len returns the number of registered accounts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// persistLocked writes the whole account set atomically. Callers must
// hold s.mu.
func (s *Store) persistLocked() error {
	disk := make(map[string]diskAccount, len(s.accounts))
	for hash, acct := range s.accounts {
		disk[hash] = acct.toDisk()
	}
	data, err := json.Marshal(disk)
	if err != nil {
		return fmt.Errorf("encoding account store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing account store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing account store: %w", err)
	}
	return nil
}

// diskAccount is the persisted shape of one account. The email field
// repeats the map key (the email hash), never the plaintext address.
type diskAccount struct {
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Contacts string   `json:"contacts"`
	Auth     diskAuth `json:"auth"`
}

type diskAuth struct {
	Salt string `json:"salt"`
	Key  string `json:"key"`
}

func (a *account) toDisk() diskAccount {
	return diskAccount{
		Email:    a.emailHash,
		Name:     a.encName,
		Contacts: a.encContacts,
		Auth: diskAuth{
			Salt: base64.StdEncoding.EncodeToString(a.creds.Salt),
			Key:  base64.StdEncoding.EncodeToString(a.creds.Key),
		},
	}
}

func (da diskAccount) toAccount(hash string) (*account, error) {
	salt, err := base64.StdEncoding.DecodeString(da.Auth.Salt)
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(da.Auth.Key)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	if len(salt) != cryptoutil.SaltSize || len(key) != cryptoutil.KeySize {
		return nil, errors.New("malformed credentials")
	}
	return &account{
		emailHash:   hash,
		encName:     da.Name,
		encContacts: da.Contacts,
		creds:       cryptoutil.Credentials{Salt: salt, Key: key},
	}, nil
}

func sealContacts(env cryptoutil.Envelope, contacts map[string]string) (string, error) {
	raw, err := json.Marshal(contacts)
	if err != nil {
		return "", fmt.Errorf("encoding contacts: %w", err)
	}
	sealed, err := env.Seal(raw)
	if err != nil {
		return "", fmt.Errorf("sealing contacts: %w", err)
	}
	return sealed, nil
}

func openContacts(env cryptoutil.Envelope, sealed string) (map[string]string, error) {
	raw, err := env.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("opening contacts envelope: %w", err)
	}
	contacts := make(map[string]string)
	if err := json.Unmarshal(raw, &contacts); err != nil {
		return nil, fmt.Errorf("decoding contacts: %w", err)
	}
	return contacts, nil
}
