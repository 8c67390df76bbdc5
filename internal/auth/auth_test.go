package auth

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func mustHash(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, ErrStoreMissing) {
		t.Errorf("err = %v, want ErrStoreMissing", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":    "{",
		"not a hash":  `{"alice": "plaintext"}`,
		"wrong shape": `["alice"]`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeDoc(t, doc))
			if err == nil || errors.Is(err, ErrStoreMissing) {
				t.Errorf("err = %v, want a parse error", err)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	path := writeDoc(t, `{"alice": "`+mustHash(t, "wonderland")+`"}`)
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		user, pw string
		want     bool
	}{
		{"alice", "wonderland", true},
		{"alice", "Wonderland", false},
		{"alice", "", false},
		{"bob", "wonderland", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := s.Verify(tt.user, tt.pw); got != tt.want {
			t.Errorf("Verify(%q, %q) = %v, want %v", tt.user, tt.pw, got, tt.want)
		}
	}
	if err := s.Authenticate("bob", "x"); !errors.Is(err, ErrAuthFailure) {
		t.Errorf("Authenticate unknown = %v", err)
	}
	if err := s.Authenticate("alice", "wonderland"); err != nil {
		t.Errorf("Authenticate = %v", err)
	}
}

func TestAuthenticate_EveryFailureCostsOneComparison(t *testing.T) {
	// An empty key can only come from a hand-edited document.
	path := writeDoc(t, `{"alice": "`+mustHash(t, "wonderland")+`", "": "`+mustHash(t, "blank")+`"}`)
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	var calls int
	orig := compareHash
	compareHash = func(hash, pw []byte) error {
		calls++
		return orig(hash, pw)
	}
	t.Cleanup(func() { compareHash = orig })

	tests := []struct{ user, pw string }{
		{"alice", "wrong"},
		{"bob", "wonderland"},
		{"", ""},
		{"", "blank"},
	}
	for _, tt := range tests {
		calls = 0
		if err := s.Authenticate(tt.user, tt.pw); !errors.Is(err, ErrAuthFailure) {
			t.Errorf("Authenticate(%q, %q) = %v, want ErrAuthFailure", tt.user, tt.pw, err)
		}
		if calls != 1 {
			t.Errorf("Authenticate(%q, %q) ran %d comparisons, want 1", tt.user, tt.pw, calls)
		}
	}
}

func TestPutSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewStore()
	if err := s.Put("alice", "pw-a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("bob", "pw-b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("", "pw"); err == nil {
		t.Error("empty username accepted")
	}
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(loaded.Users(), []string{"alice", "bob"}) {
		t.Errorf("users = %v", loaded.Users())
	}
	if !loaded.Verify("bob", "pw-b") {
		t.Error("saved password does not verify")
	}

	if !loaded.Delete("bob") || loaded.Delete("bob") {
		t.Error("Delete did not report existence correctly")
	}
	if loaded.Len() != 1 {
		t.Errorf("Len = %d", loaded.Len())
	}
}

func TestHash(t *testing.T) {
	if _, err := Hash(""); err == nil {
		t.Error("empty password hashed")
	}
	h, err := Hash("secret")
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(h), []byte("secret")) != nil {
		t.Error("hash does not match")
	}
}
