// Package testutil provides shared helpers for driving the deployment
// API through httptest recorders.
package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

// RequireStatus fails the test when the recorded status differs from
// want, quoting the response body so the failure names its cause.
func RequireStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("Expected status %d, got %d. Body: %s", want, w.Code, w.Body.String())
	}
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// DecodeJSON decodes a recorded JSON response body into dst.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}
