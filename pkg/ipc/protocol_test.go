package ipc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []Request{
		{ID: 1, Method: "handshake"},
		{ID: 42, Method: "inspect_object", Params: json.RawMessage(`{"object_name":"Player","depth":3}`)},
		{ID: 9007199254740991, Method: "x", Params: json.RawMessage(`{"nested":{"list":[1,"two",null,true],"z":{}},"a":1.5}`)},
	}
	for _, want := range cases {
		payload, err := EncodeRequest(want)
		require.NoError(t, err)
		got, err := DecodeRequest(payload)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDecodeRequestParseError(t *testing.T) {
	_, err := DecodeRequest([]byte("{not json"))
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeParseError, rpcErr.Code)
}

func TestDecodeRequestRecognizesAck(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"id":3,"status":"received"}`))
	assert.ErrorIs(t, err, ErrNotRequest)
}

func TestResponseWireShape(t *testing.T) {
	ok, err := NewResult(7, map[string]any{"name": "Player"})
	require.NoError(t, err)
	payload, err := EncodeResponse(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"result":{"name":"Player"},"error":null}`, string(payload))

	failed := NewErrorResponse(1, MethodNotFound("ping", []string{"handshake"}))
	payload, err = EncodeResponse(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"result":null,"error":{"code":-32601,"message":"Method 'ping' not found","data":{"availableMethods":["handshake"]}}}`, string(payload))

	decoded, err := DecodeResponse(payload)
	require.NoError(t, err)
	assert.Nil(t, decoded.Result)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, CodeMethodNotFound, decoded.Error.Code)
	assert.Error(t, decoded.Err())
}

func TestHeartbeatDetection(t *testing.T) {
	hb := NewHeartbeat("01J0000000000000000000000", 3, time.Unix(0, 0))
	payload, err := EncodeResponse(hb)
	require.NoError(t, err)
	decoded, err := DecodeResponse(payload)
	require.NoError(t, err)
	assert.True(t, decoded.IsHeartbeat())
	assert.Equal(t, int64(0), decoded.ID)

	plain, err := NewResult(1, map[string]any{"type": "heartbeat"})
	require.NoError(t, err)
	assert.False(t, plain.IsHeartbeat())
}

func TestAckRoundTrip(t *testing.T) {
	payload, err := EncodeAck(Acknowledgment{ID: 5, Status: AckReceived})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":5,"status":"received"}`, string(payload))
	ack, err := DecodeAck(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(5), ack.ID)
}

func TestRequestBind(t *testing.T) {
	req := Request{ID: 1, Method: "m", Params: json.RawMessage(`{"limit":5}`)}
	var params struct {
		Limit int `json:"limit"`
	}
	require.NoError(t, req.Bind(&params))
	assert.Equal(t, 5, params.Limit)

	bad := Request{ID: 1, Method: "m", Params: json.RawMessage(`{"limit":"five"}`)}
	err := bad.Bind(&params)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
}
