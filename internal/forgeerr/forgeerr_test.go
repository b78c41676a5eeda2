package forgeerr

import (
	"errors"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{Validation, "validation"},
		{NotFound, "not_found"},
		{Backend, "backend"},
		{CommandFailure, "command_failure"},
		{Integration, "integration"},
		{Invariant, "invariant"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestNewAndError(t *testing.T) {
	err := New(Validation, "bad input")
	if err.Error() != "bad input" {
		t.Errorf("Error() = %q, want %q", err.Error(), "bad input")
	}
	if err.Cause != nil {
		t.Errorf("Cause = %v, want nil", err.Cause)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Backend, cause, "could not reach docker")

	if !errors.Is(err, cause) {
		t.Error("Wrap() did not preserve the cause for errors.Is")
	}
	want := "could not reach docker: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNewfAndWrapf(t *testing.T) {
	err := Newf(NotFound, "no workspace with id %q", "abc123")
	if err.Error() != `no workspace with id "abc123"` {
		t.Errorf("Newf() = %q", err.Error())
	}

	cause := errors.New("boom")
	werr := Wrapf(Backend, cause, "could not commit image %q", "tag1")
	if werr.Cause != cause {
		t.Error("Wrapf() did not set Cause")
	}
}

func TestWithOutput(t *testing.T) {
	err := Newf(CommandFailure, "command exited 1").WithOutput([]byte("stderr text"))
	if string(err.Output) != "stderr text" {
		t.Errorf("Output = %q", err.Output)
	}
}

func TestKindOf(t *testing.T) {
	err := New(Integration, "github unreachable")

	kind, ok := KindOf(err)
	if !ok || kind != Integration {
		t.Errorf("KindOf() = (%v, %v), want (Integration, true)", kind, ok)
	}

	wrapped := errors.Join(errors.New("context"), err)
	kind, ok = KindOf(wrapped)
	if !ok || kind != Integration {
		t.Errorf("KindOf(wrapped) = (%v, %v), want (Integration, true)", kind, ok)
	}

	_, ok = KindOf(errors.New("plain error"))
	if ok {
		t.Error("KindOf() on a plain error should report ok=false")
	}
}

func TestIs(t *testing.T) {
	err := New(CommandFailure, "exited 1")
	if !Is(err, CommandFailure) {
		t.Error("Is() should report true for a matching kind")
	}
	if Is(err, Backend) {
		t.Error("Is() should report false for a mismatched kind")
	}
	if Is(errors.New("plain"), Backend) {
		t.Error("Is() on a non-forgeerr error should report false")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(Backend, cause, "wrapped")
	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
}
