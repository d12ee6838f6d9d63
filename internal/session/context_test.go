package session

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestContextLifecycle(t *testing.T) {
	ctx := NewContext()

	if ctx.Authenticated() {
		t.Error("fresh context must be unauthenticated")
	}
	if _, err := ctx.Token(); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Token() error = %v, want ErrNotAuthenticated", err)
	}

	ctx.SetIdentity("u1", "tok-abc")
	if !ctx.Authenticated() || ctx.UserID() != "u1" {
		t.Errorf("after login: authenticated=%v user=%q", ctx.Authenticated(), ctx.UserID())
	}
	tok, err := ctx.Token()
	if err != nil || tok != "tok-abc" {
		t.Errorf("Token() = %q, %v", tok, err)
	}

	ctx.Clear()
	if ctx.Authenticated() || ctx.UserID() != "" {
		t.Error("logout must clear identity")
	}
}

func TestTokenPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")

	ctx := NewContext()
	ctx.SetIdentity("u1", "tok-abc")
	if err := ctx.SaveToken(path); err != nil {
		t.Fatal(err)
	}

	restored := NewContext()
	if err := restored.LoadToken(path); err != nil {
		t.Fatal(err)
	}
	if restored.UserID() != "u1" {
		t.Errorf("restored user = %q, want u1", restored.UserID())
	}
	tok, err := restored.Token()
	if err != nil || tok != "tok-abc" {
		t.Errorf("restored token = %q, %v", tok, err)
	}
}

func TestLoadTokenMissingFile(t *testing.T) {
	ctx := NewContext()
	if err := ctx.LoadToken(filepath.Join(t.TempDir(), "absent")); err != nil {
		t.Fatalf("missing token file should not error, got %v", err)
	}
	if ctx.Authenticated() {
		t.Error("context must stay unauthenticated")
	}
}
