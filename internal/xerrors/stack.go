package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }

// stack skips runtime.Callers, itself and skip further frames.
func stack(err error, skip int) error {
	if err == nil {
		return nil
	}
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pcs)
	return &stacked{err: err, pcs: pcs[:n:n]}
}

func New(msg string) error { return stack(errors.New(msg), 1) }

func Newf(format string, args ...any) error { return stack(fmt.Errorf(format, args...), 1) }

// WithStack attaches the caller's stack to err.
func WithStack(err error) error { return stack(err, 1) }

// EnsureTrace attaches a stack unless some error in the chain already
// carries one.
func EnsureTrace(err error) error {
	var s interface{ StackPCs() []uintptr }
	if err == nil || (errors.As(err, &s) && len(s.StackPCs()) > 0) {
		return err
	}
	return stack(err, 1)
}
