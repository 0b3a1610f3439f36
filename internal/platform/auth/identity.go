package auth

import (
	"context"
	"net/http"
)

// Identity is the caller an Authenticator resolved for a request.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
	// Mode records which authenticator produced the identity.
	Mode Mode
}

// Actor is the name recorded against registry and audit rows.
func (i Identity) Actor() string {
	if i.Subject == "" {
		return "anonymous"
	}
	return i.Subject
}

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type identityKey struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

// Subject is the actor of the request carried by ctx. Requests that never
// went through the middleware are "anonymous".
func Subject(ctx context.Context) string {
	identity, _ := IdentityFromContext(ctx)
	return identity.Actor()
}
