// Package rpc exposes the lottery ledger via a JSON-RPC 2.0 HTTP endpoint.
package rpc

import (
	"encoding/json"

	"github.com/tolelom/lottochain/core"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
)

// Ledger rejection codes, one per error class.
const (
	CodeValidation = -32010
	CodeNotFound   = -32011
	CodeConflict   = -32012
	CodeState      = -32013
)

// codeFor maps an operation error onto its JSON-RPC code.
func codeFor(err error) int {
	switch core.Classify(err) {
	case "validation":
		return CodeValidation
	case "not_found":
		return CodeNotFound
	case "conflict":
		return CodeConflict
	case "state":
		return CodeState
	default:
		return CodeInternalError
	}
}

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

func failResponse(id any, err error) Response {
	return errResponse(id, codeFor(err), err.Error())
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
