package protocol

import (
	"context"
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is an inbound JSON-RPC 2.0 envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Response is the matching reply envelope. Exactly one of Result/Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

func newError(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

func newResult(id json.RawMessage, result interface{}) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// Dispatch decodes a raw JSON-RPC request, routes it to the engine method
// named by Method, and returns a framed Response. It never returns a Go
// error itself — transport failures are represented as JSON-RPC error
// objects so the wire contract stays uniform.
func (e *Engine) Dispatch(ctx context.Context, raw []byte) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return newError(nil, CodeParseError, "invalid JSON: "+err.Error())
	}
	if req.JSONRPC != "2.0" {
		return newError(req.ID, CodeInvalidRequest, "jsonrpc version must be \"2.0\"")
	}

	switch req.Method {
	case "sendMessage":
		return e.dispatchSendMessage(ctx, req)
	case "submitTask":
		return e.dispatchSubmitTask(req)
	case "getTask":
		return e.dispatchGetTask(req)
	case "cancelTask":
		return e.dispatchCancelTask(req)
	case "getCapabilities":
		return e.dispatchGetCapabilities(req)
	default:
		return newError(req.ID, CodeMethodNotFound, "unknown method "+req.Method)
	}
}

func (e *Engine) dispatchSendMessage(ctx context.Context, req Request) *Response {
	var msg Message
	if err := json.Unmarshal(req.Params, &msg); err != nil {
		return newError(req.ID, CodeInvalidParams, "invalid Message params: "+err.Error())
	}
	reply, err := e.SendMessage(ctx, &msg)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return newResult(req.ID, reply)
}

func (e *Engine) dispatchSubmitTask(req Request) *Response {
	var task Task
	if err := json.Unmarshal(req.Params, &task); err != nil {
		return newError(req.ID, CodeInvalidParams, "invalid Task params: "+err.Error())
	}
	taskID, err := e.SubmitTask(&task)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return newResult(req.ID, map[string]string{"taskId": taskID})
}

func (e *Engine) dispatchGetTask(req Request) *Response {
	var params struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newError(req.ID, CodeInvalidParams, "invalid params: "+err.Error())
	}
	task, err := e.GetTask(params.TaskID)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return newResult(req.ID, task)
}

func (e *Engine) dispatchCancelTask(req Request) *Response {
	var params struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newError(req.ID, CodeInvalidParams, "invalid params: "+err.Error())
	}
	if err := e.CancelTask(params.TaskID); err != nil {
		return errorResponse(req.ID, err)
	}
	return newResult(req.ID, struct{}{})
}

func (e *Engine) dispatchGetCapabilities(req Request) *Response {
	var params struct {
		AgentID string `json:"agentId"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newError(req.ID, CodeInvalidParams, "invalid params: "+err.Error())
	}
	caps := e.GetCapabilities(params.AgentID)
	return newResult(req.ID, caps)
}

func errorResponse(id json.RawMessage, err error) *Response {
	switch err.(type) {
	case *ValidationError:
		return newError(id, CodeInvalidParams, err.Error())
	case *NotFoundError:
		return newError(id, CodeInvalidParams, err.Error())
	default:
		return newError(id, CodeInternalError, err.Error())
	}
}
