package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// ErrAccessDenied is the only error the download endpoint ever reports. Which check failed is
// never disclosed to the caller.
var ErrAccessDenied = errors.New("access denied")

type HandlerError struct {
	StatusCode int
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("HTTP %d : %s", e.StatusCode, e.Err.Error())
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

type jsonError struct {
	Err string `json:"error"`
}

// JSON returns the response body for this error. Only the wrapped error's message is exposed.
func (e HandlerError) JSON() []byte {
	je := jsonError{e.Err.Error()}
	b, _ := json.Marshal(je)
	return b
}

// DeniedError is the uniform 403 returned for every failed lookup.
func DeniedError() *HandlerError {
	return &HandlerError{
		StatusCode: 403,
		Err:        ErrAccessDenied,
	}
}

// Assert that the expression is true, similar to assert() in C. If expr is false, print or panic.
//
// If expr is false and WSDROP_DEBUG=1 then the program panics.
// If expr is false and WSDROP_DEBUG is unset or not '1' then the program logs an error along with
// a field which contains the file/line number of the caller/assertion of Assert.
// Use it for invariants of the transfer state machine, not for network or disk errors.
//
// The msg provided should be the expectation of the assert e.g:
//
//	Assert("written bytes never exceed the announced size", w.written <= w.expected)
func Assert(msg string, expr bool) {
	if expr {
		return
	}
	if os.Getenv("WSDROP_DEBUG") == "1" {
		panic(fmt.Sprintf("assert: %s", msg))
	}
	l := logger.Error()
	_, file, line, ok := runtime.Caller(1)
	if ok {
		l = l.Str("assertion", fmt.Sprintf("%s:%d", file, line))
	}
	_, file, line, ok = runtime.Caller(2)
	if ok {
		l = l.Str("caller", fmt.Sprintf("%s:%d", file, line))
	}
	l.Msg("assertion failed: " + msg)
}
