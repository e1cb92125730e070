package failure

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime/debug"
	"syscall"
)

// StatusCoder is implemented by failures that declare the HTTP status the
// caller should receive.
type StatusCoder interface {
	StatusCode() int
}

// ClientError reports a request the gateway refuses to forward.
type ClientError struct {
	Status int    // HTTP status, 400 when zero.
	Param  string // Name of the offending query parameter.
	Value  string // Raw value as received.
	Reason string // Short machine-readable reason, e.g. "invalid_scheme".
	Msg    string // Human-readable message sent back to the caller.
}

// BadRequest builds a 400 ClientError.
//
// Parameters:
// - param: The query parameter that failed validation.
// - value: The raw value of the parameter.
// - reason: A short reason label used in logs and metrics.
// - format: A fmt format string for the caller-visible message.
//
// Returns:
// - *ClientError: The constructed error.
func BadRequest(param, value, reason, format string, args ...any) *ClientError {
	return &ClientError{
		Status: http.StatusBadRequest,
		Param:  param,
		Value:  value,
		Reason: reason,
		Msg:    fmt.Sprintf(format, args...),
	}
}

func (e *ClientError) Error() string { return e.Msg }

func (e *ClientError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusBadRequest
	}
	return e.Status
}

// UpstreamError wraps a failure reaching the target of a forwarded request.
type UpstreamError struct {
	Method string
	URL    string
	Status int // Upstream-reported status, zero when no response was received.
	Err    error
}

// Error names the method and URL once; a *url.Error cause contributes only
// its inner error.
func (e *UpstreamError) Error() string {
	cause := e.Err
	var urlErr *url.Error
	if errors.As(cause, &urlErr) && urlErr.Err != nil {
		cause = urlErr.Err
	}
	return fmt.Sprintf("upstream %s %s: %v", e.Method, e.URL, cause)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// ContractError is raised by the pipeline engine when a stage breaks the
// continuation contract. It always indicates a defect in a stage.
type ContractError struct {
	Stage  int
	Reason string
	Stack  []byte
}

// NewContractError captures the current stack along with the violation.
func NewContractError(stage int, reason string) *ContractError {
	return &ContractError{Stage: stage, Reason: reason, Stack: debug.Stack()}
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("pipeline stage %d: %s", e.Stage, e.Reason)
}

func (e *ContractError) StatusCode() int { return http.StatusInternalServerError }

// RefreshError reports a failed TLD list refresh. It is recovered locally by
// the validator and never reaches a caller directly.
type RefreshError struct {
	Source string
	Err    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh TLD list from %s: %v", e.Source, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// InternalError wraps a value recovered from a panic.
type InternalError struct {
	Value any
	Stack []byte
}

func (e *InternalError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

func (e *InternalError) StatusCode() int { return http.StatusInternalServerError }

// StatusCode returns the HTTP status declared by the first StatusCoder in
// err's chain, or 500.
func StatusCode(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code >= 400 && code <= 599 {
			return code
		}
	}
	return http.StatusInternalServerError
}

// Fields extracts the diagnostic fields present on err as slog attributes.
// Only fields that the error chain actually carries are included.
func Fields(err error) []slog.Attr {
	if err == nil {
		return nil
	}
	attrs := []slog.Attr{
		slog.String("name", fmt.Sprintf("%T", err)),
		slog.String("message", err.Error()),
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		attrs = append(attrs, slog.String("reason", clientErr.Reason))
		if clientErr.Param != "" {
			attrs = append(attrs, slog.Group("data", slog.String("param", clientErr.Param), slog.String("value", clientErr.Value)))
		}
	}

	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		attrs = append(attrs, slog.String("dest", upstreamErr.URL))
		if upstreamErr.Status != 0 {
			attrs = append(attrs, slog.Group("response", slog.Int("status", upstreamErr.Status)))
		}
	}

	var contractErr *ContractError
	if errors.As(err, &contractErr) {
		attrs = append(attrs,
			slog.String("reason", contractErr.Reason),
			slog.Group("info", slog.Int("stage", contractErr.Stage)),
			slog.String("stack", string(contractErr.Stack)),
		)
	}

	var internalErr *InternalError
	if errors.As(err, &internalErr) {
		attrs = append(attrs, slog.String("stack", string(internalErr.Stack)))
	}

	var refreshErr *RefreshError
	if errors.As(err, &refreshErr) {
		attrs = append(attrs, slog.String("dest", refreshErr.Source))
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		attrs = append(attrs, slog.Group("info", slog.String("op", urlErr.Op), slog.Bool("timeout", urlErr.Timeout())))
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Addr != nil {
		host, port, splitErr := net.SplitHostPort(opErr.Addr.String())
		if splitErr == nil {
			attrs = append(attrs, slog.String("address", host), slog.String("port", port))
		} else {
			attrs = append(attrs, slog.String("address", opErr.Addr.String()))
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		attrs = append(attrs, slog.String("address", dnsErr.Name))
		if dnsErr.IsNotFound {
			attrs = append(attrs, slog.String("code", "ENOTFOUND"))
		}
	}

	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		attrs = append(attrs, slog.String("syscall", sysErr.Syscall))
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		attrs = append(attrs, slog.String("path", pathErr.Path))
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		attrs = append(attrs, slog.Int("errno", int(errno)), slog.String("code", errnoCode(errno)))
	}

	if code := StatusCode(err); code != 0 {
		attrs = append(attrs,
			slog.Int("status", code),
			slog.Int("statusCode", code),
			slog.String("statusMessage", http.StatusText(code)),
		)
	}

	return attrs
}

// errnoCode returns the conventional symbolic name of common socket errnos.
func errnoCode(errno syscall.Errno) string {
	switch errno {
	case syscall.ECONNREFUSED:
		return "ECONNREFUSED"
	case syscall.ECONNRESET:
		return "ECONNRESET"
	case syscall.ETIMEDOUT:
		return "ETIMEDOUT"
	case syscall.EHOSTUNREACH:
		return "EHOSTUNREACH"
	case syscall.ENETUNREACH:
		return "ENETUNREACH"
	case syscall.EPIPE:
		return "EPIPE"
	default:
		return errno.Error()
	}
}
