// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package agentwire

import (
	"encoding/json"
	"fmt"
)

// RPC method names.
const (
	MethodTasksSend                = "tasks/send"
	MethodTasksSendSubscribe       = "tasks/sendSubscribe"
	MethodTasksGet                 = "tasks/get"
	MethodTasksCancel              = "tasks/cancel"
	MethodTasksPushNotificationSet = "tasks/pushNotification/set"
	MethodTasksPushNotificationGet = "tasks/pushNotification/get"
)

// Request is a JSON-RPC 2.0 request envelope. Params stays raw until the
// dispatcher resolves the method's parameter schema.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitzero"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitzero"`
}

// Validate ensures the envelope itself is structurally sound. Method-level
// parameter validation happens after dispatch.
func (r *Request) Validate() error {
	if r.JSONRPC != "2.0" {
		return fmt.Errorf("jsonrpc version must be \"2.0\", got %q", r.JSONRPC)
	}
	if r.Method == "" {
		return fmt.Errorf("method cannot be empty")
	}
	return nil
}

// Response is a JSON-RPC 2.0 response envelope. Result and Error are
// mutually exclusive.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitzero"`
	Error   *Error `json:"error,omitzero"`
}

// NewResponse creates a success response for the given request id.
func NewResponse(id, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse creates an error response for the given request id.
func NewErrorResponse(id any, err *Error) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: err}
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Protocol-specific error codes.
const (
	CodeTaskNotFound                 = -32001
	CodeTaskNotCancelable            = -32002
	CodePushNotificationNotSupported = -32003
	CodeUnsupportedOperation         = -32004
	CodeContentTypeNotSupported      = -32005
)

// Error is a JSON-RPC error. It implements the error interface so handlers
// can raise protocol errors that pass through the dispatcher verbatim.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitzero"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// WithData returns a copy of the error carrying diagnostic data.
func (e *Error) WithData(data any) *Error {
	clone := *e
	clone.Data = data
	return &clone
}

// NewParseError reports malformed JSON.
func NewParseError() *Error {
	return &Error{Code: CodeParseError, Message: "Parse error"}
}

// NewInvalidRequestError reports an envelope that fails validation.
func NewInvalidRequestError() *Error {
	return &Error{Code: CodeInvalidRequest, Message: "Request payload validation error"}
}

// NewMethodNotFoundError reports an unknown method or a method with no
// registered handler.
func NewMethodNotFoundError() *Error {
	return &Error{Code: CodeMethodNotFound, Message: "Method not found"}
}

// NewInvalidParamsError reports method parameters that fail validation.
func NewInvalidParamsError() *Error {
	return &Error{Code: CodeInvalidParams, Message: "Invalid parameters"}
}

// NewInternalError reports an uncaught handler failure.
func NewInternalError() *Error {
	return &Error{Code: CodeInternalError, Message: "Internal error"}
}

// NewTaskNotFoundError reports an unknown task id.
func NewTaskNotFoundError() *Error {
	return &Error{Code: CodeTaskNotFound, Message: "Task not found"}
}

// NewTaskNotCancelableError reports a cancel attempt on a task that did not
// end in a cancelable state.
func NewTaskNotCancelableError() *Error {
	return &Error{Code: CodeTaskNotCancelable, Message: "Task cannot be canceled"}
}

// NewPushNotificationNotSupportedError reports that push notifications are
// not available.
func NewPushNotificationNotSupportedError() *Error {
	return &Error{Code: CodePushNotificationNotSupported, Message: "Push Notification is not supported"}
}

// NewUnsupportedOperationError reports an operation the engine does not
// support.
func NewUnsupportedOperationError() *Error {
	return &Error{Code: CodeUnsupportedOperation, Message: "This operation is not supported"}
}

// NewContentTypeNotSupportedError reports a content type mismatch.
func NewContentTypeNotSupportedError() *Error {
	return &Error{Code: CodeContentTypeNotSupported, Message: "Content type not supported"}
}

// AsError extracts a protocol error from err, wrapping anything else as an
// internal error with the original message as diagnostic data.
func AsError(err error) *Error {
	if rpcErr, ok := err.(*Error); ok {
		return rpcErr
	}
	return NewInternalError().WithData(err.Error())
}
