package session

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrNotAuthenticated is returned when a remote call is attempted before
// login or after logout.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// Context carries the authenticated identity for one login. It is passed
// explicitly to every remote-call site and to the outbox worker instead of
// living in process-global state, and is cleared on logout.
type Context struct {
	mu     sync.RWMutex
	userID string
	token  string
}

// NewContext creates an unauthenticated session context.
func NewContext() *Context {
	return &Context{}
}

// SetIdentity installs the identity obtained from login.
func (c *Context) SetIdentity(userID, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.token = token
}

// Clear drops the identity on logout.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = ""
	c.token = ""
}

// UserID returns the logged-in user id, or "" when unauthenticated.
func (c *Context) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Token returns the auth token, or ErrNotAuthenticated when absent.
func (c *Context) Token() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", ErrNotAuthenticated
	}
	return c.token, nil
}

// Authenticated reports whether an identity is installed.
func (c *Context) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// LoadToken restores a cached "userID token" pair written by SaveToken.
// A missing file leaves the context unauthenticated without error.
func (c *Context) LoadToken(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return nil // unreadable cache, treat as logged out
	}
	c.SetIdentity(fields[0], fields[1])
	return nil
}

// SaveToken persists the identity for daemon restarts; Clear callers should
// also remove the file via os.Remove.
func (c *Context) SaveToken(path string) error {
	c.mu.RLock()
	userID, token := c.userID, c.token
	c.mu.RUnlock()
	if token == "" {
		return ErrNotAuthenticated
	}
	return os.WriteFile(path, []byte(userID+" "+token+"\n"), 0600)
}
