package internal

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDecorateLogger(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	// no session context: nothing added
	DecorateLogger(context.Background(), l.Info()).Msg("plain")
	assert.JSONEq(t, `{"level":"info","message":"plain"}`, buf.String())
	buf.Reset()

	ctx := SessionContext(context.Background(), "ABCDE", "10.0.0.1:5555")
	DecorateLogger(ctx, l.Info()).Msg("fresh")
	assert.JSONEq(t, `{"level":"info","id":"ABCDE","remote":"10.0.0.1:5555","message":"fresh"}`, buf.String())
	buf.Reset()

	SetSessionProgress(ctx, 2, 1024, 1)
	DecorateLogger(ctx, l.Info()).Msg("busy")
	assert.JSONEq(t, `{"level":"info","id":"ABCDE","remote":"10.0.0.1:5555","f":2,"b":1024,"q":1,"message":"busy"}`, buf.String())
}

func TestSetSessionProgressWithoutSession(t *testing.T) {
	assert.NotPanics(t, func() {
		SetSessionProgress(context.Background(), 1, 1, 1)
	})
}
