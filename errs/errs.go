// Package errs defines the sysmaster error taxonomy. Every public
// operation returns *Error rather than panicking or returning a bare
// string.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sysmaster-go/sysmaster/types"
)

// Kind is a sentinel classifying the nature of a failure. Use errors.Is
// against the package-level Err* values, or Error.Kind directly.
type Kind int

const (
	KindNone Kind = iota
	KindNoent
	KindAlready
	KindAgain
	KindInval
	KindBusy
	KindNoExec
	KindBadR
	KindOpNotSupp
	KindRefuseManualStart
	KindRefuseManualStop
	KindTxn
	KindSpawn
	KindLoad
	KindIO
	KindNix
	KindCgroup
	KindUtil
)

func (k Kind) String() string {
	switch k {
	case KindNoent:
		return "ENOENT"
	case KindAlready:
		return "EALREADY"
	case KindAgain:
		return "EAGAIN"
	case KindInval:
		return "EINVAL"
	case KindBusy:
		return "EBUSY"
	case KindNoExec:
		return "ENOEXEC"
	case KindBadR:
		return "EBADR"
	case KindOpNotSupp:
		return "EOPNOTSUPP"
	case KindRefuseManualStart:
		return "EREFUSEMANUALSTART"
	case KindRefuseManualStop:
		return "EREFUSEMANUALSTOP"
	case KindTxn:
		return "ETXN"
	case KindSpawn:
		return "ESPAWN"
	case KindLoad:
		return "ELOAD"
	case KindIO:
		return "EIO"
	case KindNix:
		return "ENIX"
	case KindCgroup:
		return "ECGROUP"
	case KindUtil:
		return "EUTIL"
	default:
		return "ENONE"
	}
}

// Error is the concrete error type returned by sysmaster operations.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "unit.Start".
	Op string
	// Unit is the unit id involved, if any.
	Unit string
	// LoadState is set when Kind == KindLoad, naming the cause.
	LoadState types.LoadState
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Unit != "" {
		fmt.Fprintf(&b, " (%s)", e.Unit)
	}
	if e.Kind == KindLoad {
		fmt.Fprintf(&b, " [%s]", e.LoadState)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target matches e's Kind, supporting errors.Is(err, ErrXxx).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Op == "" && other.Unit == "" && other.Err == nil && other.Kind == e.Kind
}

// Sentinel values for errors.Is comparisons against a bare Kind.
var (
	ErrNoent              = &Error{Kind: KindNoent}
	ErrAlready            = &Error{Kind: KindAlready}
	ErrAgain              = &Error{Kind: KindAgain}
	ErrInval              = &Error{Kind: KindInval}
	ErrBusy               = &Error{Kind: KindBusy}
	ErrNoExec             = &Error{Kind: KindNoExec}
	ErrBadR               = &Error{Kind: KindBadR}
	ErrOpNotSupp          = &Error{Kind: KindOpNotSupp}
	ErrRefuseManualStart  = &Error{Kind: KindRefuseManualStart}
	ErrRefuseManualStop   = &Error{Kind: KindRefuseManualStop}
	ErrTxn                = &Error{Kind: KindTxn}
	ErrSpawn              = &Error{Kind: KindSpawn}
)

// New builds an Error for the given op/unit with no wrapped cause.
func New(kind Kind, op, unit string) *Error {
	return &Error{Kind: kind, Op: op, Unit: unit}
}

// Wrap builds an Error of the given kind carrying err as its cause, or
// returns nil when err is nil. It does no classification of its own;
// ClassifySyscallError picks the kind from a pattern table.
func Wrap(kind Kind, op, unit string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Unit: unit, Err: err}
}

// LoadError builds a KindLoad error naming the load-state cause.
func LoadError(op, unit string, state types.LoadState) *Error {
	return &Error{Kind: KindLoad, Op: op, Unit: unit, LoadState: state}
}

type classPattern struct {
	patterns []string
	kind     Kind
}

// classifierTable mirrors lode's errorPattern table: order matters, first
// match wins, more specific patterns appear first.
var classifierTable = []classPattern{
	{[]string{"no such file", "does not exist", "ENOENT"}, KindNoent},
	{[]string{"permission denied", "EACCES", "operation not permitted", "EPERM"}, KindNix},
	{[]string{"no space left", "ENOSPC"}, KindIO},
	{[]string{"cgroup"}, KindCgroup},
}

// ClassifySyscallError wraps a raw syscall/OS error into the closest
// taxonomy kind, falling back to KindUtil when nothing matches.
func ClassifySyscallError(op, unit string, err error) *Error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, entry := range classifierTable {
		for _, p := range entry.patterns {
			if strings.Contains(msg, strings.ToLower(p)) {
				return Wrap(entry.kind, op, unit, err)
			}
		}
	}
	return Wrap(KindUtil, op, unit, err)
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
