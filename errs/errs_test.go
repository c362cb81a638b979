package errs

import (
	"errors"
	"testing"

	"github.com/sysmaster-go/sysmaster/types"
)

func TestErrorIsMatchesBareSentinel(t *testing.T) {
	err := New(KindNoent, "unit.Start", "foo.service")
	if !errors.Is(err, ErrNoent) {
		t.Fatal("expected errors.Is to match ErrNoent")
	}
	if errors.Is(err, ErrBusy) {
		t.Fatal("should not match a different kind")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindIO, "journal.Append", "foo.service", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected Unwrap chain to reach cause")
	}
}

func TestLoadErrorFormatsState(t *testing.T) {
	err := LoadError("unit.Load", "foo.service", types.LoadStateNotFound)
	if err.Kind != KindLoad {
		t.Fatalf("expected KindLoad, got %s", err.Kind)
	}
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty message")
	}
}

func TestClassifySyscallErrorNoent(t *testing.T) {
	err := ClassifySyscallError("spawn.Exec", "foo.service", errors.New("open /bin/foo: no such file or directory"))
	if err.Kind != KindNoent {
		t.Fatalf("expected KindNoent, got %s", err.Kind)
	}
}

func TestClassifySyscallErrorFallsBackToUtil(t *testing.T) {
	err := ClassifySyscallError("spawn.Exec", "foo.service", errors.New("something unrecognized happened"))
	if err.Kind != KindUtil {
		t.Fatalf("expected KindUtil fallback, got %s", err.Kind)
	}
}

func TestAsExtractsError(t *testing.T) {
	var err error = New(KindBusy, "job.Enqueue", "foo.service")
	got, ok := As(err)
	if !ok || got.Kind != KindBusy {
		t.Fatalf("As failed to extract: %v %v", got, ok)
	}
}
