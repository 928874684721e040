// Package jsonrpc implements the JSON-RPC 2.0 client used to talk to
// language servers over a transport.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const Version = "2.0"

// Standard JSON-RPC and LSP error codes.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrTimeout          = errors.New("request timed out")
	ErrDisposed         = errors.New("client disposed")
)

// Error is a JSON-RPC error object returned by the server.
type Error struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is any JSON-RPC message: request, notification or response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (m *Message) hasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, []byte("null"))
}

// IsResponse reports whether m answers one of our requests.
func (m *Message) IsResponse() bool {
	return m.hasID() && m.Method == ""
}

// IsRequest reports whether m is a server-to-client request expecting a reply.
func (m *Message) IsRequest() bool {
	return m.hasID() && m.Method != ""
}

// IsNotification reports whether m is a notification.
func (m *Message) IsNotification() bool {
	return !m.hasID() && m.Method != ""
}

func (m *Message) numericID() (int64, bool) {
	id, err := strconv.ParseInt(string(m.ID), 10, 64)
	return id, err == nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return data, nil
}
