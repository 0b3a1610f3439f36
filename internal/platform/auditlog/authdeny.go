package auditlog

import (
	"context"
	"time"

	"github.com/animus-labs/animus-inspect/internal/platform/auth"
)

const (
	ActionAuthDenied = "auth.denied"
	ResourceHTTP     = "http"
)

// denyWriteTimeout bounds the audit insert so a slow database cannot hold
// a rejected request open.
const denyWriteTimeout = 750 * time.Millisecond

// AuthDenyAuditor returns an auth.AuditFunc recording every rejected request.
func AuthDenyAuditor(q QueryRower, service string) auth.AuditFunc {
	return func(ctx context.Context, event auth.DenyEvent) error {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), denyWriteTimeout)
		defer cancel()
		_, err := Insert(ctx, q, DenyEvent(service, event))
		return err
	}
}

// DenyEvent converts an authentication or authorization failure into an
// audit event against the requested route.
func DenyEvent(service string, deny auth.DenyEvent) Event {
	actor := auth.Identity{Subject: deny.Subject}.Actor()
	return Event{
		OccurredAt:   deny.Time,
		Actor:        actor,
		Action:       ActionAuthDenied,
		ResourceType: ResourceHTTP,
		ResourceID:   deny.Method + " " + deny.Path,
		RequestID:    deny.RequestID,
		RemoteAddr:   deny.RemoteAddr,
		Payload: map[string]any{
			"service":    service,
			"status":     deny.Status,
			"reason":     deny.Reason,
			"error":      deny.Error,
			"email":      deny.Email,
			"roles":      deny.Roles,
			"user_agent": deny.UserAgent,
		},
	}
}
