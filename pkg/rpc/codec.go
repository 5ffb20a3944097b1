// Package rpc provides the JSON-RPC 2.0 message helpers used by the
// evaguard stdio server and its clients.
package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// EncodeMessage serializes a JSON-RPC message to its wire format.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes JSON-RPC wire format data into a Message.
// It returns either a *jsonrpc.Request or *jsonrpc.Response.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// NewRequest builds a call with a numeric id and JSON-encoded params.
// A nil params value produces a request without params.
func NewRequest(id int64, method string, params any) (*jsonrpc.Request, error) {
	rid, err := jsonrpc.MakeID(float64(id))
	if err != nil {
		return nil, err
	}
	req := &jsonrpc.Request{ID: rid, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		req.Params = raw
	}
	return req, nil
}

// NewResult builds a success response carrying result.
func NewResult(id jsonrpc.ID, result any) (*jsonrpc.Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &jsonrpc.Response{ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id jsonrpc.ID, err *Error) *jsonrpc.Response {
	return &jsonrpc.Response{
		ID:    id,
		Error: &jsonrpc.Error{Code: err.Code, Message: err.Message},
	}
}

// DecodeParams unmarshals request params into v, rejecting unknown fields.
// Missing params decode as an empty object.
func DecodeParams(req *jsonrpc.Request, v any) error {
	if len(req.Params) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return NewError(CodeInvalidParams, "Invalid params: "+err.Error())
	}
	return nil
}
