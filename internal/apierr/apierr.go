// Package apierr defines the single tagged error type used to carry a
// JSON-RPC code/message/data triple together with a broad error-kind tag, so
// the HTTP boundary can pick a status code without switching on strings.
package apierr

import (
	"fmt"
	"net/http"

	"github.com/fernmcp/hostd/jsonrpc"
)

// Kind classifies the subsystem an Error originated from.
type Kind string

const (
	KindProtocol Kind = "protocol"
	KindAuth     Kind = "auth"
	KindOAuth    Kind = "oauth"
	KindStorage  Kind = "storage"
	KindInternal Kind = "internal"
)

// Error is the tagged error type propagated from every subsystem to the HTTP
// boundary.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Data    interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Kind, e.Message, e.Code)
}

// AsJSONRPCError converts the Error into the wire-format jsonrpc.Error
// envelope for the given request id.
func (e *Error) AsJSONRPCError(id jsonrpc.RequestId) *jsonrpc.Error {
	return jsonrpc.NewError(id, jsonrpc.NewInnerError(e.Code, e.Message, e.Data))
}

// HTTPStatus maps the error's Kind (and, for protocol errors, its JSON-RPC
// code) to an HTTP status code per spec.md §4.1/§6.3.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindOAuth:
		return http.StatusBadRequest
	case KindProtocol:
		switch e.Code {
		case jsonrpc.MethodNotFound:
			return http.StatusNotFound
		default:
			return http.StatusBadRequest
		}
	case KindStorage, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func newf(kind Kind, code int, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Protocol constructors, grounded on jsonrpc/error.go's code table.
func NewParseError(format string, args ...interface{}) *Error {
	return newf(KindProtocol, jsonrpc.ParseError, format, args...)
}

func NewInvalidRequest(format string, args ...interface{}) *Error {
	return newf(KindProtocol, jsonrpc.InvalidRequest, format, args...)
}

func NewMethodNotFound(format string, args ...interface{}) *Error {
	return newf(KindProtocol, jsonrpc.MethodNotFound, format, args...)
}

func NewInvalidParams(format string, args ...interface{}) *Error {
	return newf(KindProtocol, jsonrpc.InvalidParams, format, args...)
}

func NewInternalError(format string, args ...interface{}) *Error {
	return newf(KindInternal, jsonrpc.InternalError, format, args...)
}

// MCP-specific protocol codes from spec.md §6.3, outside the base JSON-RPC
// table.
const (
	CodeSessionRequired  = -32001
	CodeMethodNotAllowed = -32002
	CodeAuthRequired     = -32000
	CodeAuthGeneric      = -32004
)

func NewSessionError(format string, args ...interface{}) *Error {
	return newf(KindProtocol, CodeSessionRequired, format, args...)
}

func NewMethodNotAllowed(format string, args ...interface{}) *Error {
	return newf(KindProtocol, CodeMethodNotAllowed, format, args...)
}

// NewAuthError builds a KindAuth error carrying -32000, mirroring
// jsonrpc.UnauthorizedError's role but with the richer Kind/Data shape the
// discovery-401 envelope needs.
func NewAuthError(data interface{}, format string, args ...interface{}) *Error {
	e := newf(KindAuth, CodeAuthRequired, format, args...)
	e.Data = data
	return e
}

// NewOAuthError builds a KindOAuth error carrying an RFC 6749 §5.2 error code
// as Message (e.g. "invalid_grant") and an optional human description as Data.
func NewOAuthError(errorCode string, description string) *Error {
	return &Error{Kind: KindOAuth, Code: CodeAuthGeneric, Message: errorCode, Data: description}
}

// NewStorageError wraps a storage-layer failure as a generic internal error.
// err is dropped: its detail is never exposed to the client, and it is not
// logged here or by the callers in this module.
func NewStorageError(err error) *Error {
	return &Error{Kind: KindStorage, Code: jsonrpc.InternalError, Message: "storage failure", Data: nil}
}
