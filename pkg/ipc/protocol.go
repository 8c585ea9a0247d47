package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotRequest is returned by DecodeRequest for frames that parse as JSON but
// carry an acknowledgment instead of a request.
var ErrNotRequest = errors.New("frame is an acknowledgment, not a request")

// DecodeRequest parses a request frame. Malformed JSON yields a parse error.
func DecodeRequest(payload []byte) (Request, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Request{}, ParseError(err.Error())
	}
	if _, hasMethod := envelope["method"]; !hasMethod {
		if _, hasStatus := envelope["status"]; hasStatus {
			return Request{}, ErrNotRequest
		}
	}
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, ParseError(err.Error())
	}
	return req, nil
}

// EncodeRequest serializes a request frame payload.
func EncodeRequest(req Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeResponse parses a response frame.
func DecodeResponse(payload []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if bytes.Equal(resp.Result, []byte("null")) {
		resp.Result = nil
	}
	return resp, nil
}

// EncodeResponse serializes a response frame payload.
func EncodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeAck parses an acknowledgment frame.
func DecodeAck(payload []byte) (Acknowledgment, error) {
	var ack Acknowledgment
	if err := json.Unmarshal(payload, &ack); err != nil {
		return Acknowledgment{}, fmt.Errorf("decode ack: %w", err)
	}
	return ack, nil
}

// EncodeAck serializes an acknowledgment frame payload.
func EncodeAck(ack Acknowledgment) ([]byte, error) {
	return json.Marshal(ack)
}

// NewResult builds a success response, marshaling v into the result payload.
func NewResult(id int64, v any) (Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Response{}, fmt.Errorf("marshal result: %w", err)
	}
	return Response{ID: id, Result: raw}, nil
}

// NewErrorResponse builds a failure response.
func NewErrorResponse(id int64, rpcErr *Error) Response {
	return Response{ID: id, Error: rpcErr}
}

// NewHeartbeat builds the unsolicited liveness message sent to connected clients.
func NewHeartbeat(session string, seq uint64, now time.Time) Response {
	raw, _ := json.Marshal(map[string]any{
		"type":      HeartbeatType,
		"session":   session,
		"sequence":  seq,
		"timestamp": now.UTC().Format(time.RFC3339Nano),
	})
	return Response{ID: 0, Result: raw}
}

// Errorf helps build protocol errors.
func Errorf(code int, data any, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Data: data}
}

// ParseError reports a frame that is not valid JSON.
func ParseError(details string) *Error {
	return &Error{Code: CodeParseError, Message: "Parse error", Data: map[string]any{"details": details}}
}

// InvalidRequest reports a request without a usable method name.
func InvalidRequest(details string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: "Invalid Request", Data: map[string]any{"details": details}}
}

// MethodNotFound reports an unregistered method and lists the registered ones.
func MethodNotFound(method string, available []string) *Error {
	return &Error{
		Code:    CodeMethodNotFound,
		Message: fmt.Sprintf("Method '%s' not found", method),
		Data:    map[string]any{"availableMethods": available},
	}
}

// InvalidParams reports params that do not fit the method.
func InvalidParams(details string) *Error {
	return &Error{Code: CodeInvalidParams, Message: "Invalid params", Data: map[string]any{"details": details}}
}

// InternalError reports a failure raised inside a handler.
func InternalError(details string) *Error {
	return &Error{Code: CodeInternalError, Message: "Internal error", Data: map[string]any{"details": details}}
}

// OperationError reports a domain-level failure.
func OperationError(message string, data any) *Error {
	return &Error{Code: CodeOperationError, Message: message, Data: data}
}
