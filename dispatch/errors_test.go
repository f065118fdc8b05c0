package dispatch

import (
	"errors"
	"strings"
	"testing"
)

func TestTaskErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &TaskError{NodeID: 3, Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to see through TaskError to its cause")
	}
	if err.Error() == "" {
		t.Error("expected non-empty error message")
	}
}

func TestDependencyErrorUnwrap(t *testing.T) {
	cause := errors.New("missing parent")
	err := &DependencyError{NodeID: 1, Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to see through DependencyError to its cause")
	}
}

func TestStoreErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &StoreError{DispatchID: "d1", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to see through StoreError to its cause")
	}
}

func TestInputErrorMessage(t *testing.T) {
	err := &InputError{Msg: "bad graph"}
	if !strings.Contains(err.Error(), "bad graph") {
		t.Errorf("expected error message to mention %q, got %q", "bad graph", err.Error())
	}
}
