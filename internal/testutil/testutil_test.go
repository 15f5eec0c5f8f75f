package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// The fatal helpers cannot have their failure paths driven through a
// fake T without terminating the goroutine, so those paths are covered
// by the API tests that use them; only the passing paths run here.

func TestRequireStatus_Matching(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	w.WriteHeader(http.StatusConflict)

	fakeT := &testing.T{}
	RequireStatus(fakeT, w, http.StatusConflict)
	if fakeT.Failed() {
		t.Error("expected no failure for matching status")
	}
}

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()

	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusOK)
	if fakeT.Failed() {
		t.Error("expected no failure for matching status codes")
	}

	AssertStatusCode(fakeT, http.StatusOK, http.StatusBadRequest)
	if !fakeT.Failed() {
		t.Error("expected failure for mismatched status codes")
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	w.Body.WriteString(`{"outcome":"deployed","attempts":2}`)

	var resp struct {
		Outcome  string `json:"outcome"`
		Attempts int    `json:"attempts"`
	}
	DecodeJSON(t, w, &resp)
	if resp.Outcome != "deployed" {
		t.Errorf("outcome = %q, want deployed", resp.Outcome)
	}
	if resp.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", resp.Attempts)
	}
}
