package api

import (
	"context"
	"fmt"
	"net/http"

	"taskboard/task-api/domain"
)

// TokenVerifier turns a raw bearer token into a subject id.
type TokenVerifier interface {
	Subject(token []byte) (string, error)
}

// Gate resolves request credentials to known users.
type Gate struct {
	verifier TokenVerifier
	users    domain.UserDirectory
}

func NewGate(verifier TokenVerifier, users domain.UserDirectory) *Gate {
	return &Gate{verifier: verifier, users: users}
}

// Identify verifies the request credential and loads the user it names.
// Errors wrap ErrUnauthenticated, ErrInvalidCredential or ErrUnknownSubject.
func (g *Gate) Identify(ctx context.Context, header http.Header) (domain.User, error) {
	token, err := bearerTokenFromHeader(header)
	if err != nil {
		return domain.User{}, err
	}
	sub, err := g.verifier.Subject(token)
	if err != nil {
		return domain.User{}, err
	}
	u, err := g.users.GetUser(ctx, sub)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user %s: %w", sub, err)
	}
	if u == nil {
		return domain.User{}, fmt.Errorf("%w: %s", domain.ErrUnknownSubject, sub)
	}
	return *u, nil
}

// Attribution returns the id of the authenticated user, or "" when the request
// is anonymous or its credential does not resolve.
func (g *Gate) Attribution(ctx context.Context, header http.Header) string {
	u, err := g.Identify(ctx, header)
	if err != nil {
		return ""
	}
	return u.ID
}
