package internal

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type ctx string

var (
	ctxData ctx = "wsdrop_data"
)

// logging metadata for a single upload session. Updated by the session goroutine, read by
// whoever logs with the context, hence the atomics.
type data struct {
	sessionID     string
	remote        string
	numFiles      atomic.Int64
	bytesReceived atomic.Int64
	numPending    atomic.Int64
}

// prepare a session context so it can contain wsdrop info
func SessionContext(ctx context.Context, sessionID, remote string) context.Context {
	d := &data{
		sessionID: sessionID,
		remote:    remote,
	}
	return context.WithValue(ctx, ctxData, d)
}

func SetSessionProgress(ctx context.Context, numFiles, bytesReceived int64, numPending int) {
	d, ok := ctx.Value(ctxData).(*data)
	if !ok {
		return
	}
	d.numFiles.Store(numFiles)
	d.bytesReceived.Store(bytesReceived)
	d.numPending.Store(int64(numPending))
}

func DecorateLogger(ctx context.Context, l *zerolog.Event) *zerolog.Event {
	d, ok := ctx.Value(ctxData).(*data)
	if !ok {
		return l
	}
	if d.sessionID != "" {
		l = l.Str("id", d.sessionID)
	}
	if d.remote != "" {
		l = l.Str("remote", d.remote)
	}
	if n := d.numFiles.Load(); n > 0 {
		l = l.Int64("f", n)
	}
	if n := d.bytesReceived.Load(); n > 0 {
		l = l.Int64("b", n)
	}
	if n := d.numPending.Load(); n > 0 {
		l = l.Int64("q", n)
	}
	return l
}
