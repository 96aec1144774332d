// Package testutil provides shared test helpers for HTTP handlers.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// Serve runs one request through h and returns the recorded response.
func Serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

// DecodeJSON decodes the recorded body into v, failing the test on error.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"), "body: %s", rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

// GetJSON serves a GET, requires 200 and decodes the body into v.
func GetJSON(t *testing.T, h http.Handler, path string, v interface{}) {
	t.Helper()
	rec := Serve(t, h, http.MethodGet, path)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	DecodeJSON(t, rec, v)
}
