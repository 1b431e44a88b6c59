package errors

import (
	"bytes"
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestWrapKeepsCodeThroughChain(t *testing.T) {
	cause := context.DeadlineExceeded
	err := fmt.Errorf("outer: %w", Wrap(CodeStorageFailure, cause, "写入失败"))

	if got := CodeOf(err); got != CodeStorageFailure {
		t.Fatalf("unexpected code: got %s want %s", got, CodeStorageFailure)
	}
	if !HasCode(err, CodeStorageFailure) {
		t.Fatalf("expected HasCode to find %s", CodeStorageFailure)
	}
	if HasCode(err, CodeNotFound) {
		t.Fatalf("unexpected match for %s", CodeNotFound)
	}
	if !RetryableError(err) {
		t.Fatalf("storage failures should be retryable by default")
	}
}

func TestOptionsOverrideRegistry(t *testing.T) {
	err := New(CodeStorageFailure, "", WithRetryable(false), WithAlert(false), WithSeverity(SeverityInfo))
	if err.Retryable() || err.ShouldAlert() {
		t.Fatalf("options should override registry defaults: %+v", err)
	}
	if err.Severity() != SeverityInfo {
		t.Fatalf("unexpected severity %s", err.Severity())
	}
	if err.Message() != "storage failure" {
		t.Fatalf("empty message should fall back to registry message, got %q", err.Message())
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityWarning, Retryable: true})

	err := New(code, "", WithMetadata("k", "v"))
	if !err.Retryable() {
		t.Fatalf("expected retryable from registry")
	}
	if err.Metadata()["k"] != "v" {
		t.Fatalf("metadata lost: %+v", err.Metadata())
	}
	if AttributesOf("MISSING").Message != "unknown error" {
		t.Fatalf("unregistered code should fall back to UNKNOWN")
	}
}

func TestContextErrorsAreClassified(t *testing.T) {
	if got := CodeOf(fmt.Errorf("query: %w", context.DeadlineExceeded)); got != CodeTimeout {
		t.Fatalf("deadline should map to %s, got %s", CodeTimeout, got)
	}
	if !RetryableError(context.DeadlineExceeded) {
		t.Fatalf("timeouts should be retryable")
	}
	if got := CodeOf(context.Canceled); got != CodeCanceled {
		t.Fatalf("cancel should map to %s, got %s", CodeCanceled, got)
	}
	if RetryableError(stdErrors.New("plain")) {
		t.Fatalf("uncoded errors must not be retried")
	}
	if RetryableError(nil) || CodeOf(nil) != CodeUnknown {
		t.Fatalf("nil error should be unknown and not retryable")
	}
}

func TestLogValueRendersCodeAndMetadata(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	err := Wrap(CodeStorageFailure, stdErrors.New("disk full"), "保存失败", WithMetadata("table", "meals"))
	log.Error("failed", slog.Any("error", err))

	out := buf.String()
	for _, want := range []string{"error.code=STORAGE_FAILURE", "error.cause=\"disk full\"", "error.table=meals"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q: %s", want, out)
		}
	}
}

func TestSeverityRank(t *testing.T) {
	if !(SeverityInfo.Rank() < SeverityWarning.Rank() && SeverityWarning.Rank() < SeverityCritical.Rank()) {
		t.Fatalf("unexpected ordering")
	}
	if Severity("").Rank() != SeverityInfo.Rank() {
		t.Fatalf("empty severity should rank as info")
	}
}
