package lsp

import (
	"errors"
	"fmt"
	"strings"
)

// Standard errors returned by the LSP client.
var (
	// ErrNoServer indicates no server configuration accepts the file type.
	ErrNoServer = errors.New("no server configured for file type")

	// ErrNotReady indicates the server has not answered initialize yet.
	ErrNotReady = errors.New("server not ready")

	// ErrServerTerminated indicates the server process is gone.
	ErrServerTerminated = errors.New("server terminated")

	// ErrSuperseded is delivered to a pending request replaced by a newer
	// request for the same document and method.
	ErrSuperseded = errors.New("request superseded")

	// ErrTransportClosed indicates a write on a shut down transport.
	ErrTransportClosed = errors.New("transport closed")
)

// RPCError represents a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound reports whether the server did not implement the method.
func (e *RPCError) IsMethodNotFound() bool {
	return e.Code == CodeMethodNotFound
}

// IsCancelled reports whether the server cancelled the request.
func (e *RPCError) IsCancelled() bool {
	return e.Code == CodeRequestCancelled || e.Code == CodeServerCancelled
}

// Standard JSON-RPC error codes.
const (
	// JSON-RPC standard errors
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)

// SpawnError reports a language server binary that could not be started.
type SpawnError struct {
	Argv []string
	Err  error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", strings.Join(e.Argv, " "), e.Err)
}

// Unwrap returns the underlying error.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a malformed frame on the wire. The transport that
// produced it is treated as crashed.
type ProtocolError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// MalformedResponseError reports a well-framed message whose JSON lacks a
// required field.
type MalformedResponseError struct {
	Method string
	Field  string
	Err    error
}

// Error implements the error interface.
func (e *MalformedResponseError) Error() string {
	msg := "malformed response"
	if e.Method != "" {
		msg += " to " + e.Method
	}
	if e.Field != "" {
		msg += ": missing " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// ServerError wraps a lifecycle failure of one configured server.
type ServerError struct {
	Server string
	Root   string
	Err    error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s (%s): %v", e.Server, e.Root, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}
