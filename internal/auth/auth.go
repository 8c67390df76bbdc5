// Package auth verifies learner credentials against a JSON document that
// maps usernames to bcrypt hashes:
//
//	{"alice": "$2a$10$...", "bob": "$2a$10$..."}
//
// The document is loaded once at start and read-only afterwards.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrStoreMissing is returned by Load when the credential file does not
	// exist.
	ErrStoreMissing = errors.New("auth: credential store missing")

	// ErrAuthFailure is returned for an unknown user or a wrong password.
	// The two cases are indistinguishable.
	ErrAuthFailure = errors.New("auth: invalid username or password")
)

// dummyHash is compared against when the username is unknown, so the
// response time does not reveal which usernames exist.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("not-a-password"), bcrypt.DefaultCost)
	return h
})

// compareHash is swapped in tests to count comparisons.
var compareHash = bcrypt.CompareHashAndPassword

// Store holds the username → hash map.
type Store struct {
	mu     sync.RWMutex
	hashes map[string][]byte
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{hashes: make(map[string][]byte)}
}

// Load reads the credential document at path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrStoreMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load: %w", err)
	}
	var doc map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("auth: load %s: %w", path, err)
	}
	s := NewStore()
	for user, hash := range doc {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("auth: load %s: user %q: %w", path, user, err)
		}
		s.hashes[user] = []byte(hash)
	}
	return s, nil
}

// Verify reports whether password matches the stored hash for username.
// Unknown and empty usernames cost the same bcrypt comparison as known ones
// and never match.
func (s *Store) Verify(username, password string) bool {
	s.mu.RLock()
	hash, ok := s.hashes[username]
	s.mu.RUnlock()
	if !ok || username == "" {
		_ = compareHash(dummyHash(), []byte(password))
		return false
	}
	return compareHash(hash, []byte(password)) == nil
}

// Authenticate is Verify returning [ErrAuthFailure] on mismatch.
func (s *Store) Authenticate(username, password string) error {
	if !s.Verify(username, password) {
		return ErrAuthFailure
	}
	return nil
}

// Len returns the number of users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hashes)
}

// Users returns the usernames in sorted order.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.hashes))
	for u := range s.hashes {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Put sets username's password, hashing it with the default cost.
func (s *Store) Put(username, password string) error {
	if username == "" {
		return errors.New("auth: put: empty username")
	}
	hash, err := Hash(password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.hashes[username] = []byte(hash)
	s.mu.Unlock()
	return nil
}

// Delete removes username. It reports whether the user existed.
func (s *Store) Delete(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hashes[username]
	delete(s.hashes, username)
	return ok
}

// Save writes the document to path atomically with mode 0600.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	doc := make(map[string]string, len(s.hashes))
	for u, h := range s.hashes {
		doc[u] = string(h)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: save: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("auth: save: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: save: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("auth: save: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("auth: save: %w", err)
	}
	return nil
}

// Hash returns the bcrypt hash of password.
func Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: hash: empty password")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash: %w", err)
	}
	return string(h), nil
}
