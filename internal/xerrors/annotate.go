package xerrors

import (
	"fmt"
	"runtime"
)

// annotated adds a message prefix or a sentinel kind to an error, along
// with the frame that added it.
type annotated struct {
	err  error
	msg  string
	kind error
	pc   uintptr
}

func (a *annotated) Error() string {
	if a.msg == "" {
		return a.err.Error()
	}
	return a.msg + ": " + a.err.Error()
}

func (a *annotated) Unwrap() error { return a.err }
func (a *annotated) PC() uintptr   { return a.pc }

func (a *annotated) Is(target error) bool {
	return a.kind != nil && target == a.kind
}

// caller returns the pc of the function calling the exported helper.
func caller() uintptr {
	var pcs [1]uintptr
	if runtime.Callers(3, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// Wrap prefixes err with msg.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: msg, pc: caller()}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: fmt.Sprintf(format, args...), pc: caller()}
}

// Mark makes errors.Is(err, kind) true without changing err's text. A nil
// err or kind returns err unchanged.
func Mark(err, kind error) error {
	if err == nil || kind == nil {
		return err
	}
	return &annotated{err: err, kind: kind, pc: caller()}
}
