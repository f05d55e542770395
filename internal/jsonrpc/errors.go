package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeServerError is the first of the implementation-defined server
	// error codes, which run down to CodeServerErrorLast.
	CodeServerError     = -32000
	CodeServerErrorLast = -32099
)

var (
	// ErrConnectionLost is wrapped into the error every pending call
	// receives when the connection goes away.
	ErrConnectionLost = errors.New("jsonrpc: connection lost")

	// ErrEmptyMethod is returned when sending a request without method name.
	ErrEmptyMethod = errors.New("jsonrpc: empty method name")

	// ErrMissingID is returned by SendResult without a request id.
	ErrMissingID = errors.New("jsonrpc: missing request id")

	// ErrInvalidValue is returned for a json.RawMessage that is not valid JSON.
	ErrInvalidValue = errors.New("jsonrpc: invalid raw JSON value")
)

// Error is a JSON-RPC error object, sent to or received from the peer.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewError returns an Error with the default message when message is empty.
func NewError(code int, message string) *Error {
	if message == "" {
		message = DefaultErrorMessage(code)
	}
	return &Error{Code: code, Message: message}
}

// DefaultErrorMessage renders "Error code <n> (0x<hex>)", with the hex part
// showing the code as an unsigned 32-bit value.
func DefaultErrorMessage(code int) string {
	return fmt.Sprintf("Error code %d (0x%X)", code, uint32(int32(code)))
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// IsServerError reports whether code is in the implementation-defined range.
func IsServerError(code int) bool {
	return code <= CodeServerError && code >= CodeServerErrorLast
}
