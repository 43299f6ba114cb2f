package wmerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(Validation, "bad range")
	if k, ok := KindOf(err); !ok || k != Validation {
		t.Fatalf("KindOf = %v, %v", k, ok)
	}

	wrapped := fmt.Errorf("running fetch: %w", err)
	if !IsKind(wrapped, Validation) {
		t.Fatalf("kind must survive wrapping")
	}
	if IsKind(wrapped, API) {
		t.Fatalf("wrong kind matched")
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatalf("plain errors have no kind")
	}
}

func TestHTTPStatusError(t *testing.T) {
	err := HTTPStatus(API, 503, `{"error":"unavailable"}`, "snapshot create rejected")
	if err.Status != 503 || err.Body == "" {
		t.Fatalf("status/body not carried: %+v", err)
	}
	msg := err.Error()
	if msg != "api: snapshot create rejected (HTTP 503)" {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestWrapUnwraps(t *testing.T) {
	inner := errors.New("connection refused")
	err := Wrap(Auth, inner, "token exchange")
	if !errors.Is(err, inner) {
		t.Fatalf("wrapped cause must unwrap")
	}
}
