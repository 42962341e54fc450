package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestEnvelopes(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:6379: connection refused")
	tests := []struct {
		name     string
		err      error
		status   int
		textCode string
		auth     bool
	}{
		{"unauthorized", Unauthorized("missing HMAC signature"), http.StatusUnauthorized, TextCodeUnauthorized, true},
		{"misconfigured", Misconfigured("server configuration error"), http.StatusInternalServerError, TextCodeMisconfigured, false},
		{"bad input", BadInput(cause, "invalid JSON payload"), http.StatusBadRequest, TextCodeBadInput, false},
		{"not found", NotFound("customer not found", map[string]any{"email": "a@x.com"}), http.StatusNotFound, TextCodeNotFound, false},
		{"storage", Storage(cause, "enqueue failed"), http.StatusInternalServerError, TextCodeStorageFailure, false},
		{"plain", cause, http.StatusInternalServerError, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.status {
				t.Errorf("StatusCode = %d, want %d", got, tt.status)
			}
			if got := TextCode(tt.err); got != tt.textCode {
				t.Errorf("TextCode = %q, want %q", got, tt.textCode)
			}
			if got := IsAuth(tt.err); got != tt.auth {
				t.Errorf("IsAuth = %v, want %v", got, tt.auth)
			}
		})
	}
}

func TestEnvelopeSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("accept webhook: %w", Unauthorized("invalid HMAC signature"))
	if !HasTextCode(err, TextCodeUnauthorized) {
		t.Fatal("text code lost through fmt.Errorf wrapping")
	}
	if Message(err) != "invalid HMAC signature" {
		t.Fatalf("Message = %q", Message(err))
	}
}
