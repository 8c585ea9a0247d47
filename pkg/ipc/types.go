package ipc

import (
	"encoding/json"
	"fmt"
)

// Standard error codes carried in Error.Code.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeOperationError = -32000
)

// HeartbeatType is the result.type value of server-initiated heartbeats.
const HeartbeatType = "server_heartbeat"

// AckReceived is the status clients send after reading a response.
const AckReceived = "received"

// Request models RPC requests.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response models RPC responses. Exactly one of Result and Error is meaningful.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Acknowledgment is sent by the client once a response has been read.
type Acknowledgment struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// Error follows the API contract for structured failures.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Err returns the response error as a Go error, or nil on success.
func (r *Response) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return r.Error
}

// Decode unmarshals the result payload into v.
func (r *Response) Decode(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if len(r.Result) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(r.Result, v)
}

// IsHeartbeat reports whether r is an unsolicited server heartbeat.
func (r *Response) IsHeartbeat() bool {
	if r == nil || r.Error != nil || len(r.Result) == 0 {
		return false
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(r.Result, &probe); err != nil {
		return false
	}
	return probe.Type == HeartbeatType
}

// Bind unmarshals the request params into v. Absent params leave v untouched.
func (r *Request) Bind(v any) error {
	if len(r.Params) == 0 || string(r.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return InvalidParams(err.Error())
	}
	return nil
}
