// Package kernelerr defines the stable error-code surface the kernel core
// hands back across the syscall boundary, while still letting internal code
// wrap and inspect errors the normal Go way.
package kernelerr

import "fmt"

// Code is a closed, stable error enumeration. Its numeric value is part of
// the syscall ABI: user space sees Code, never the wrapped Go error.
type Code int

const (
	OK Code = iota
	EPERM
	ENOENT
	ESRCH
	EINTR
	EIO
	EBADF
	ENOMEM
	EACCES
	EFAULT
	EBUSY
	EEXIST
	ENOTDIR
	EISDIR
	EINVAL
	ENFILE
	EMFILE
	ENOSPC
	EPIPE
	ENOSYS
	ENOTEMPTY
	ERANGE
	EAGAIN
)

var names = map[Code]string{
	OK:        "success",
	EPERM:     "operation not permitted",
	ENOENT:    "no such file or directory",
	ESRCH:     "no such process",
	EINTR:     "interrupted system call",
	EIO:       "I/O error",
	EBADF:     "bad file descriptor",
	ENOMEM:    "cannot allocate memory",
	EACCES:    "permission denied",
	EFAULT:    "bad address",
	EBUSY:     "device or resource busy",
	EEXIST:    "file exists",
	ENOTDIR:   "not a directory",
	EISDIR:    "is a directory",
	EINVAL:    "invalid argument",
	ENFILE:    "too many open files in system",
	EMFILE:    "too many open files",
	ENOSPC:    "no space left on device",
	EPIPE:     "broken pipe",
	ENOSYS:    "function not implemented",
	ENOTEMPTY: "directory not empty",
	ERANGE:    "result too large",
	EAGAIN:    "resource temporarily unavailable",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("kernelerr.Code(%d)", int(c))
}

// Error wraps a Code with an optional underlying cause, so diagnostics keep
// using errors.Is/errors.As/fmt.Errorf("%w", ...) while the syscall
// dispatcher only ever reads Code.
type Error struct {
	Code  Code
	Cause error
}

func New(code Code) *Error {
	return &Error{Code: code}
}

// Wrap attaches code to an underlying cause for richer internal diagnostics.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, kernelerr.ENOENT) work by comparing codes, not
// wrapping identity — two independently constructed Errors with the same
// Code are considered equal.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// Sentinel returns an *Error carrying code and no cause, for use with
// errors.Is.
func Sentinel(code Code) error {
	return &Error{Code: code}
}

// CodeOf extracts the Code from err if it is (or wraps) a *Error, otherwise
// returns EIO for an opaque failure.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var kerr *Error
	if as(err, &kerr) {
		return kerr.Code
	}
	return EIO
}

func as(err error, target **Error) bool {
	for err != nil {
		if kerr, ok := err.(*Error); ok {
			*target = kerr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
