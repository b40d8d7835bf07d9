package handler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentDisposition(t *testing.T) {
	testCases := []struct {
		name string
		want string
	}{
		{name: "notes.txt", want: "inline; filename=notes.txt"},
		{name: "cat.png", want: "inline; filename=cat.png"},
		{name: "clip.mp4", want: "inline; filename=clip.mp4"},
		{name: "archive.zip", want: "attachment; filename=archive.zip"},
		{name: "noext", want: "attachment; filename=noext"},
		{name: "with space.txt", want: `inline; filename="with space.txt"`},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, contentDisposition(tc.name), tc.name)
	}
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	h, err := NewHandler(Config{WorkspaceDir: filepath.Join(t.TempDir(), "ws")})
	require.NoError(t, err)
	t.Cleanup(h.Teardown)
	return h
}

func download(h *Handler, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/d/"+id, nil)
	req = mux.SetURLVars(req, map[string]string{"id": id})
	rec := httptest.NewRecorder()
	h.Download(rec, req)
	return rec
}

func TestDownload(t *testing.T) {
	h := newTestHandler(t)
	f, err := h.Store.Create("ABCDE", "hello.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rec := download(h, "ABCDE")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "inline; filename=hello.txt", rec.Header().Get("Content-Disposition"))
}

func TestDownloadDeniedIsUniform(t *testing.T) {
	h := newTestHandler(t)
	_, err := h.Store.Ensure("EMPTY")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(h.Store.Path("DIRSS"), "sub"), 0o755))

	for _, id := range []string{"", "ab", "a.bcd", "ZZZZZ", "EMPTY", "DIRSS", "../.."} {
		rec := download(h, id)
		assert.Equal(t, http.StatusForbidden, rec.Code, id)
		assert.JSONEq(t, `{"error":"access denied"}`, rec.Body.String(), id)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), id)
	}
}

func TestServeHTTPRejectsPlainRequests(t *testing.T) {
	h := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/connect", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"expected a websocket upgrade"}`, rec.Body.String())
}
