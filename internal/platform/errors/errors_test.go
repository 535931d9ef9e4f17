package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("run job: %w", Wrap(CodeIndexUnavailable, "open index", stderrors.New("offline")))

	if !HasCode(err, CodeIndexUnavailable) {
		t.Fatal("expected wrapped code to match")
	}
	if HasCode(err, CodeMalformedQuery) {
		t.Fatal("expected other code not to match")
	}
	if got := CodeOf(err); got != CodeIndexUnavailable {
		t.Fatalf("CodeOf = %s", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %s", got)
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(CodeWriteFailed, "write item", stderrors.New("read-only"))
	if err.Error() != "write item: read-only" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !stderrors.Is(err, err.Cause) {
		t.Fatal("expected cause to unwrap")
	}
	if New(CodeNotFound, "missing").Error() != "missing" {
		t.Fatal("expected bare message")
	}
}

func TestCodeMappings(t *testing.T) {
	tests := []struct {
		code Code
		http int
	}{
		{CodeMalformedQuery, http.StatusBadRequest},
		{CodeIndexUnavailable, http.StatusServiceUnavailable},
		{CodePermissionDenied, http.StatusForbidden},
		{CodeResolutionFailed, http.StatusNotFound},
		{CodeContinuationNotFound, http.StatusGone},
		{CodeBulkApplyInProgress, http.StatusConflict},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := tc.code.HTTPStatus(); got != tc.http {
			t.Errorf("%s http = %d, want %d", tc.code, got, tc.http)
		}
	}
	if !CodeMalformedQuery.RunLevel() || !CodeIndexUnavailable.RunLevel() || CodeWriteFailed.RunLevel() {
		t.Fatal("unexpected run-level classification")
	}
}

func TestUserMessage(t *testing.T) {
	err := WithMetadata(CodeResolutionFailed, "anchor gone", map[string]string{"item_id": "abc"})
	if got := UserMessage(err, "en-US"); got != "Item abc no longer exists or was moved" {
		t.Fatalf("UserMessage = %q", got)
	}
	if got := UserMessage(stderrors.New("boom"), "en-US"); got != "An unexpected error occurred" {
		t.Fatalf("UserMessage(plain) = %q", got)
	}
}
