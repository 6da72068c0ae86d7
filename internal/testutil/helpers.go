package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"hivechat/internal/protocol"
)

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertEqual fails the test if got != want
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertTrue fails the test if condition is false
func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Errorf("expected true: %s", msg)
	}
}

// AssertContains fails if s does not contain substring
func AssertContains(t *testing.T, s, substring string) {
	t.Helper()
	if !strings.Contains(s, substring) {
		t.Errorf("expected %q to contain %q", s, substring)
	}
}

// AssertStatusCode fails if the recorded status differs from want
func AssertStatusCode(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Errorf("got status %d, want %d", w.Code, want)
	}
}

// AssertHeader fails if the recorded header differs from want
func AssertHeader(t *testing.T, w *httptest.ResponseRecorder, key, want string) {
	t.Helper()
	if got := w.Header().Get(key); got != want {
		t.Errorf("got header %s=%q, want %q", key, got, want)
	}
}

// DecodeFrame parses a wire frame into an envelope.
func DecodeFrame(t *testing.T, frame []byte) protocol.Envelope {
	t.Helper()
	var env protocol.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("malformed frame: %v", err)
	}
	return env
}

// DecodePayload parses an envelope payload into a typed value.
func DecodePayload[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("malformed %s payload: %v", env.Type, err)
	}
	return payload
}

// EventTypes lists the event types of a frame sequence, in order.
func EventTypes(t *testing.T, frames [][]byte) []string {
	t.Helper()
	types := make([]string, 0, len(frames))
	for _, frame := range frames {
		types = append(types, DecodeFrame(t, frame).Type)
	}
	return types
}

// FindEvent returns the first envelope of the given type, failing the
// test if none exists.
func FindEvent(t *testing.T, frames [][]byte, eventType string) protocol.Envelope {
	t.Helper()
	for _, frame := range frames {
		if env := DecodeFrame(t, frame); env.Type == eventType {
			return env
		}
	}
	t.Fatalf("no %s event found in %d frames", eventType, len(frames))
	return protocol.Envelope{}
}
