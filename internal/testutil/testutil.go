// Package testutil provides shared helpers for NutriPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/NutriPipe/internal/models"
	"github.com/BTreeMap/NutriPipe/internal/store"
)

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeAPIResponse decodes the recorder body as an APIResponse and checks its status field.
func DecodeAPIResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
		return resp
	}
	if resp.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, resp.Status)
	}
	return resp
}

// DecodeResult re-decodes the loosely typed Result of an APIResponse into target.
func DecodeResult(t testing.TB, resp models.APIResponse, target interface{}) {
	t.Helper()
	MustUnmarshalJSON(t, MustMarshalJSON(t, resp.Result), target)
}

// NewJSONRequest creates an HTTP request with an optional JSON body. A string
// body is sent as is so tests can post malformed JSON.
func NewJSONRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var data []byte
	switch b := body.(type) {
	case nil:
	case string:
		data = []byte(b)
	default:
		data = MustMarshalJSON(t, b)
	}
	req := httptest.NewRequest(method, url, bytes.NewReader(data))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// AssertSessionState fails the test unless userID's stored session is in want.
func AssertSessionState(t testing.TB, st store.Store, userID string, want models.StateType) {
	t.Helper()
	sess, err := st.GetSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to load session for %s: %v", userID, err)
		return
	}
	if sess == nil {
		t.Errorf("expected a stored session for %s, found none", userID)
		return
	}
	if sess.State != want {
		t.Errorf("session %s: expected state %s, got %s", userID, want, sess.State)
	}
}

// SeedSessions stores a session per entry of states, all updated at updatedAt.
func SeedSessions(t testing.TB, st store.Store, states map[string]models.StateType, updatedAt time.Time) {
	t.Helper()
	for userID, state := range states {
		sess := models.NewSession(userID, updatedAt)
		sess.State = state
		if err := st.SaveSession(context.Background(), sess); err != nil {
			t.Fatalf("failed to seed session %s: %v", userID, err)
		}
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
