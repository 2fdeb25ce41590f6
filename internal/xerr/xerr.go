// Package xerr provides the error-handling conventions shared by every
// layer of lonet: operation-context wrapping, cause unwrapping, and a
// "well-defined error" classification that decides whether a wrapped
// error needs a debug stack attached to be interpretable.
//
// This is modelled after the equally-named xerr package the original
// implementation imports from lab.nexedi.com/kirr/go123/xerr, adapted
// to Go's errors.Unwrap/errors.Is/errors.As conventions instead of
// Python exception chaining.
package xerr

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"
)

// Errno is a BSD/Linux-style error number, used to tag the handful of
// network errors lonet reports the same way a real socket layer would.
type Errno int

// Errno values lonet reports, matching the Linux numbers the original
// Python implementation obtained from the errno module.
const (
	EBADFD        Errno = 77
	EADDRINUSE    Errno = 98
	EADDRNOTAVAIL Errno = 99
	ECONNREFUSED  Errno = 111
)

// NetError is a well-defined network-level error: a short message
// optionally tagged with an errno, rendered the way a socket error
// renders in the original implementation ("[Errno N] message").
type NetError struct {
	Errno Errno
	Msg   string
}

func (e *NetError) Error() string {
	if e.Errno == 0 {
		return e.Msg
	}
	return fmt.Sprintf("[Errno %d] %s", int(e.Errno), e.Msg)
}

// newNetError builds and registers a NetError as well-defined.
func newNetError(errno Errno, msg string) *NetError {
	e := &NetError{Errno: errno, Msg: msg}
	RegisterWellDefined(e)
	return e
}

// Sentinel errors named in spec §6's error-code mapping, plus the two
// errno-less domain errors from §3/§4.
var (
	ErrNetDown         = newNetError(EBADFD, "network is down")
	ErrHostDown        = newNetError(EBADFD, "host is down")
	ErrSockDown        = newNetError(EBADFD, "socket is down")
	ErrAddrInUse       = newNetError(EADDRINUSE, "address already in use")
	ErrAddrNoListen    = newNetError(EADDRNOTAVAIL, "cannot listen on requested address")
	ErrConnRefused     = newNetError(ECONNREFUSED, "connection refused")
	ErrNoHost          = newNetError(0, "no such host")
	ErrHostAlreadyUsed = newNetError(0, "host already registered")
)

// ProtocolError represents a logical error in the lonet handshake
// exchange: a malformed line, an address that doesn't parse, a reply
// that doesn't match what was asked for.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

func NewProtocolError(reason string) *ProtocolError {
	return &ProtocolError{Reason: reason}
}

func init() {
	RegisterWellDefinedType(&ProtocolError{})
	RegisterWellDefinedType(&RemoteError{})
}

// RemoteError is an opaque error reported by a peer over the wire (an
// E reply whose reason does not match any well-known sentinel or a
// protocol error already rendered on the sending side). Its Error()
// is exactly the peer's message, unwrapped a second time.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string { return e.Msg }

func NewRemoteError(msg string) *RemoteError {
	return &RemoteError{Msg: msg}
}

// well-defined registry. An error is well-defined when its exact
// identity or its dynamic type has been registered: such an error
// carries all the information needed to interpret it without a stack
// trace, the same distinction the original draws with
// xerr.register_wde_object / xerr.register_wde_class.
var (
	wdeMu    sync.Mutex
	wdeErrs  = map[error]struct{}{}
	wdeTypes = map[reflect.Type]struct{}{}
)

// RegisterWellDefined marks a specific error value as well-defined.
func RegisterWellDefined(err error) {
	wdeMu.Lock()
	defer wdeMu.Unlock()
	wdeErrs[err] = struct{}{}
}

// RegisterWellDefinedType marks every error of sample's dynamic type
// as well-defined.
func RegisterWellDefinedType(sample error) {
	wdeMu.Lock()
	defer wdeMu.Unlock()
	wdeTypes[reflect.TypeOf(sample)] = struct{}{}
}

// WellDefined reports whether err is self-describing: either a
// registered sentinel, a registered type, or a *CtxError (context
// wrapping never hides information, so it is always well-defined in
// its own right — only its innermost Cause may be a bug).
func WellDefined(err error) bool {
	if err == nil {
		return true
	}
	wdeMu.Lock()
	_, isErr := wdeErrs[err]
	_, isType := wdeTypes[reflect.TypeOf(err)]
	wdeMu.Unlock()
	if isErr || isType {
		return true
	}
	var ce *CtxError
	return errors.As(err, &ce) && ce == err
}

// CtxError wraps an error with a description of the operation that
// failed, forming chains that render as "op1: op2: ...: leaf", exactly
// like the original's xerr.Error / xerr.context.
type CtxError struct {
	Op    string
	Err   error
	stack string // only set when Cause(Err) is not well-defined
}

func (e *CtxError) Error() string {
	s := e.Op + ": " + e.Err.Error()
	if e.stack != "" {
		s += "\n\ncause traceback:\n" + e.stack
	}
	return s
}

func (e *CtxError) Unwrap() error { return e.Err }

// Context wraps err with an operation-context prefix. It returns nil
// if err is nil, so it is safe to use as:
//
//	if err := do(); err != nil {
//		return xerr.Context("dial "+net, err)
//	}
//
// If the deepest cause of err is not a well-defined error (i.e. it is
// a bug, not an expected condition), a short stack trace is captured
// at wrap time and rendered by Error().
func Context(op string, err error) error {
	if err == nil {
		return nil
	}
	ce := &CtxError{Op: op, Err: err}
	if !WellDefined(Cause(err)) {
		buf := make([]byte, 8192)
		n := runtime.Stack(buf, false)
		ce.stack = string(buf[:n])
	}
	return ce
}

// Contextf is Context with a fmt.Sprintf-formatted operation label.
func Contextf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Context(fmt.Sprintf(format, args...), err)
}

// Cause returns the deepest non-wrapping cause of err, walking through
// any chain of errors.Unwrap-compatible wrappers.
func Cause(err error) error {
	for {
		u := errors.Unwrap(err)
		if u == nil {
			return err
		}
		err = u
	}
}
