package internal

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// GetSentryHubFromContextOrDefault is a version of sentry.GetHubFromContext which
// automatically falls back to sentry.CurrentHub if the given context has not been
// attached a hub.
//
// The returned pointer is always nonnil.
func GetSentryHubFromContextOrDefault(ctx context.Context) *sentry.Hub {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return hub
}

// SessionSentryContext attaches a hub scoped to one upload session. Websocket sessions outlive
// the HTTP request that upgraded them, so they cannot share the request's hub.
func SessionSentryContext(ctx context.Context, sessionID, remote string) context.Context {
	hub := GetSentryHubFromContextOrDefault(ctx).Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("session", sessionID)
		scope.SetContext("wsdrop", map[string]interface{}{
			"remote": remote,
		})
	})
	return sentry.SetHubOnContext(ctx, hub)
}
