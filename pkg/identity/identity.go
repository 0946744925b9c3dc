// Package identity supplies the stable user id that namespaces a user's
// transcript in the store. Nothing else interprets it.
package identity

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNoUser is returned when no user id is configured.
	ErrNoUser = errors.New("identity: no user id")

	// ErrNotAuthenticated is returned before a sign-in has completed.
	ErrNotAuthenticated = errors.New("identity: not authenticated")
)

// Provider resolves the current user.
type Provider interface {
	UserID(ctx context.Context) (string, error)
}

// Static is a fixed user id, typically from configuration.
type Static string

// UserID returns s.
func (s Static) UserID(context.Context) (string, error) {
	id := strings.TrimSpace(string(s))
	if id == "" {
		return "", ErrNoUser
	}
	return id, nil
}

// Namespace turns a user id into a conversation key safe for stream names
// and database columns.
func Namespace(userID string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(userID) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.', r == '@':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

var _ Provider = Static("")
