// Package jsonrpc implements the wire types for JSON-RPC 2.0 requests and
// responses, plus the "preserved request" representation that pairs the
// original request bytes with their parsed form so forwarding never
// re-serializes (and thereby risks drifting from) what the caller sent.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const JSONRPCVersion = "2.0"

const (
	CodeInvalidRequest = -32600
	CodeInternalError  = -32603
)

// ID preserves a JSON-RPC id's exact wire representation (number, string, or
// null) through decode/re-encode. A nil *ID means the id was absent
// (the call is a notification); an *ID pointing at the null literal is a
// present-but-null id, which is distinct.
type ID struct {
	raw json.RawMessage
}

func NewNumberID(n int64) *ID {
	return &ID{raw: json.RawMessage(fmt.Sprintf("%d", n))}
}

func NewStringID(s string) *ID {
	b, _ := json.Marshal(s)
	return &ID{raw: b}
}

func NewNullID() *ID {
	return &ID{raw: json.RawMessage("null")}
}

func (id *ID) UnmarshalJSON(data []byte) error {
	id.raw = append(id.raw[:0], data...)
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.raw == nil {
		return []byte("null"), nil
	}

	return id.raw, nil
}

func (id *ID) Equal(other *ID) bool {
	if id == nil || other == nil {
		return id == other
	}

	return bytes.Equal(id.raw, other.raw)
}

func (id *ID) String() string {
	if id == nil {
		return ""
	}

	return string(id.raw)
}

type RequestBody interface {
	Encode() ([]byte, error)
	GetMethod() string
	GetSubRequests() []SingleRequestBody
}

// See: https://www.jsonrpc.org/specification#request_object
type SingleRequestBody struct {
	ID             *ID             `json:"id,omitempty"`
	JSONRPCVersion string          `json:"jsonrpc,omitempty"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
}

func (b *SingleRequestBody) Encode() ([]byte, error) {
	return json.Marshal(b)
}

func (b *SingleRequestBody) GetMethod() string {
	return b.Method
}

func (b *SingleRequestBody) GetSubRequests() []SingleRequestBody {
	return []SingleRequestBody{*b}
}

// IsNotification reports whether this call carries no id and therefore
// expects no response.
func (b *SingleRequestBody) IsNotification() bool {
	return b.ID == nil
}

type BatchRequestBody struct {
	Requests []SingleRequestBody
}

func (b *BatchRequestBody) Encode() ([]byte, error) {
	return json.Marshal(b.Requests)
}

func (b *BatchRequestBody) GetMethod() string {
	return "batch"
}

func (b *BatchRequestBody) GetSubRequests() []SingleRequestBody {
	return append([]SingleRequestBody(nil), b.Requests...)
}

type ResponseBody interface {
	Encode() ([]byte, error)
	GetSubResponses() []SingleResponseBody
}

// See: http://www.jsonrpc.org/specification#response_object
type SingleResponseBody struct {
	Error   *Error          `json:"error,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	ID      *ID             `json:"id"`
}

func (b *SingleResponseBody) Encode() ([]byte, error) {
	return json.Marshal(b)
}

func (b *SingleResponseBody) GetSubResponses() []SingleResponseBody {
	return []SingleResponseBody{*b}
}

type BatchResponseBody struct {
	Responses []SingleResponseBody
}

func (b *BatchResponseBody) Encode() ([]byte, error) {
	return json.Marshal(b.Responses)
}

func (b *BatchResponseBody) GetSubResponses() []SingleResponseBody {
	return append([]SingleResponseBody(nil), b.Responses...)
}

// See: http://www.jsonrpc.org/specification#error_object
type Error struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type Decodable interface {
	SingleRequestBody | []SingleRequestBody | SingleResponseBody | []SingleResponseBody
}

type DecodeError struct {
	Err     error
	Content []byte // Content that couldn't be decoded.
}

func NewDecodeError(err error, content []byte) *DecodeError {
	return &DecodeError{
		Err:     err,
		Content: content,
	}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %s, content: %s", e.Err.Error(), string(e.Content))
}

func DecodeRequestBody(requestBodyRawBytes []byte) (RequestBody, error) {
	// Try non-batch first as these are probably more common.
	if body, err := decode[SingleRequestBody](requestBodyRawBytes); err == nil {
		return body, nil
	}

	if batchBody, err := decode[[]SingleRequestBody](requestBodyRawBytes); err == nil {
		return &BatchRequestBody{
			Requests: *batchBody,
		}, nil
	}

	return nil, NewDecodeError(errors.New("unexpected decoding request error"), requestBodyRawBytes)
}

func DecodeResponseBody(responseBodyRawBytes []byte) (ResponseBody, error) {
	// Empty JSON RPC responses are valid for "Notifications" (requests without "ID") https://www.jsonrpc.org/specification#notification
	if len(responseBodyRawBytes) == 0 {
		return nil, nil
	}

	// Try non-batch first as these are probably more common.
	if body, err := decode[SingleResponseBody](responseBodyRawBytes); err == nil {
		return body, nil
	}

	if batchBody, err := decode[[]SingleResponseBody](responseBodyRawBytes); err == nil {
		return &BatchResponseBody{
			Responses: *batchBody,
		}, nil
	}

	return nil, NewDecodeError(errors.New("unexpected decoding response error"), responseBodyRawBytes)
}

func decode[T Decodable](rawBytes []byte) (*T, error) {
	decoder := json.NewDecoder(bytes.NewReader(rawBytes))
	decoder.DisallowUnknownFields()

	var body T

	if err := decoder.Decode(&body); err != nil {
		return nil, NewDecodeError(err, rawBytes)
	}

	return &body, nil
}

func CreateErrorJSONRPCResponseBody(message string, jsonRPCStatusCode int) *SingleResponseBody {
	return &SingleResponseBody{
		JSONRPC: JSONRPCVersion,
		Error: &Error{
			Code:    jsonRPCStatusCode,
			Message: message,
		},
	}
}

func CreateErrorJSONRPCResponseBodyWithRequest(message string, jsonRPCStatusCode int, request RequestBody) ResponseBody {
	switch r := request.(type) {
	case *SingleRequestBody:
		response := CreateErrorJSONRPCResponseBody(message, jsonRPCStatusCode)
		response.ID = r.ID

		return response
	case *BatchRequestBody:
		subRequests := r.GetSubRequests()
		responses := make([]SingleResponseBody, 0, len(subRequests))

		for _, subReq := range subRequests {
			if subReq.IsNotification() {
				continue
			}

			responses = append(responses, SingleResponseBody{
				JSONRPC: JSONRPCVersion,
				Error: &Error{
					Code:    jsonRPCStatusCode,
					Message: message,
				},
				ID: subReq.ID,
			})
		}

		return &BatchResponseBody{
			Responses: responses,
		}
	default:
		return CreateErrorJSONRPCResponseBody(message, jsonRPCStatusCode)
	}
}

// PreservedSingleCall pairs the exact bytes of one JSON-RPC call object with
// its parsed form, so that forwarding the call upstream never re-serializes
// (and risks drifting from) what the caller sent.
type PreservedSingleCall struct {
	Raw        []byte
	Deserialized SingleRequestBody
}

// PreservedRequest is either a single preserved call or an ordered batch of
// them. An empty batch is valid and, per the JSON-RPC spec, produces no
// response at all.
type PreservedRequest struct {
	Single *PreservedSingleCall
	Batch  []PreservedSingleCall
}

func (r *PreservedRequest) IsBatch() bool {
	return r.Single == nil
}

// ParsePreservedRequest parses raw request bytes into a PreservedRequest,
// trying a single call object first (the common case) and falling back to
// an array of call objects (a JSON-RPC batch).
func ParsePreservedRequest(raw []byte) (*PreservedRequest, error) {
	trimmed := bytes.TrimSpace(raw)

	var single SingleRequestBody
	if err := json.Unmarshal(trimmed, &single); err == nil {
		return &PreservedRequest{
			Single: &PreservedSingleCall{Raw: trimmed, Deserialized: single},
		}, nil
	}

	var rawBatch []json.RawMessage
	if err := json.Unmarshal(trimmed, &rawBatch); err != nil {
		return nil, NewDecodeError(err, trimmed)
	}

	batch := make([]PreservedSingleCall, 0, len(rawBatch))

	for _, item := range rawBatch {
		var call SingleRequestBody
		if err := json.Unmarshal(item, &call); err != nil {
			return nil, NewDecodeError(err, item)
		}

		batch = append(batch, PreservedSingleCall{Raw: bytes.TrimSpace(item), Deserialized: call})
	}

	return &PreservedRequest{Batch: batch}, nil
}
