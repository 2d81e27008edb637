package xerrors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"
)

var errKind = errors.New("kind")

func stackContains(pcs []uintptr, substr string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, substr) {
			return true
		}
		if !more {
			return false
		}
	}
}

func TestNew_CapturesCaller(t *testing.T) {
	err := New("boom")
	if err.Error() != "boom" {
		t.Fatalf("Error() = %q", err.Error())
	}

	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) {
		t.Fatal("New error should carry StackPCs")
	}
	if !stackContains(hs.StackPCs(), "TestNew_CapturesCaller") {
		t.Fatal("stack should contain calling function")
	}
}

func TestNewf_FormatsMessage(t *testing.T) {
	err := Newf("invalid port %d for %s", 99999, "server")
	if got, want := err.Error(), "invalid port 99999 for server"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}

	inner := errors.New("disk full")
	err := Wrap(inner, "write bundle")
	if got, want := err.Error(), "write bundle: disk full"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, inner) {
		t.Fatal("Wrap should unwrap to inner")
	}

	var hp interface{ PC() uintptr }
	if !errors.As(err, &hp) || hp.PC() == 0 {
		t.Fatal("Wrap should record caller PC")
	}
}

func TestWrapf_FormatsMessage(t *testing.T) {
	err := Wrapf(errors.New("refused"), "dial %s:%d", "localhost", 8080)
	if got, want := err.Error(), "dial localhost:8080: refused"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}
}

func TestEnsureTrace(t *testing.T) {
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}

	plain := errors.New("plain")
	traced := EnsureTrace(plain)
	var hs interface{ StackPCs() []uintptr }
	if !errors.As(traced, &hs) {
		t.Fatal("EnsureTrace should add a stack to a plain error")
	}
	if !errors.Is(traced, plain) {
		t.Fatal("EnsureTrace should keep the chain")
	}

	// already stacked: returned unchanged
	stacked := New("stacked")
	if EnsureTrace(stacked) != stacked {
		t.Fatal("EnsureTrace should not re-wrap a stacked error")
	}
	wrapped := fmt.Errorf("outer: %w", stacked)
	if EnsureTrace(wrapped) != wrapped {
		t.Fatal("EnsureTrace should see a stack deeper in the chain")
	}
}

func TestWithStack(t *testing.T) {
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should be nil")
	}
	inner := errors.New("inner")
	err := WithStack(inner)
	if err.Error() != "inner" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if errors.Unwrap(err) != inner {
		t.Fatal("WithStack should unwrap to inner")
	}
}

func TestMark(t *testing.T) {
	inner := errors.New("missing host")
	err := Mark(inner, errKind)

	if err.Error() != "missing host" {
		t.Fatalf("Mark changed the message: %q", err.Error())
	}
	if !errors.Is(err, errKind) {
		t.Fatal("errors.Is(err, kind) = false")
	}
	if !errors.Is(err, inner) {
		t.Fatal("errors.Is(err, inner) = false")
	}

	// kind survives further wrapping
	if !errors.Is(Wrap(err, "load config"), errKind) {
		t.Fatal("kind lost after Wrap")
	}
}

func TestMark_NilPassthrough(t *testing.T) {
	if Mark(nil, errKind) != nil {
		t.Fatal("Mark(nil, kind) should be nil")
	}
	inner := errors.New("x")
	if Mark(inner, nil) != inner {
		t.Fatal("Mark(err, nil) should return err")
	}
}
