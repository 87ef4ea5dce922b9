package errs

import (
	"errors"
	"testing"
)

func TestKindStringCoversAllConstants(t *testing.T) {
	kinds := []Kind{
		KindTransport, KindProtocolFraming, KindProtocolSemantic,
		KindBackendSpawn, KindBackendInitialize, KindBackendRead, KindResolverIO,
	}
	for _, k := range kinds {
		if k.String() == "Unknown" {
			t.Fatalf("Kind %d has no String() case", k)
		}
	}
	if Kind(999).String() != "Unknown" {
		t.Fatal("expected an out-of-range Kind to stringify as Unknown")
	}
}

func TestErrorMessageIncludesCauseWhenWrapped(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindTransport, cause, "backend read failed")
	if got := err.Error(); got != "Transport: backend read failed: connection reset" {
		t.Fatalf("got %q", got)
	}
}

func TestErrorMessageOmitsCauseWhenBare(t *testing.T) {
	err := New(KindResolverIO, "stat failed")
	if got := err.Error(); got != "ResolverIO: stat failed" {
		t.Fatalf("got %q", got)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindBackendSpawn, cause, "exec failed")
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause via Unwrap")
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := New(KindProtocolSemantic, "missing uri")
	if !Is(err, KindProtocolSemantic) {
		t.Fatal("expected Is to match the error's own Kind")
	}
	if Is(err, KindTransport) {
		t.Fatal("expected Is to reject a mismatched Kind")
	}
}

func TestIsRejectsPlainErrors(t *testing.T) {
	if Is(errors.New("plain"), KindTransport) {
		t.Fatal("expected Is to reject a non-*Error value")
	}
}
