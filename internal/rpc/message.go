// Package rpc implements the JSON-RPC 2.0 wire codec (spec.md §4.1, §6):
// parsing inbound request frames, and encoding reply and notification
// frames for the outbound queue. The server never initiates a request of
// its own, so only Request needs to be parsed; Response and Notification
// only need to be encoded.
package rpc

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/lavamoat/tss-relay/internal/errors"
)

const Version = "2.0"

// Request is an inbound JSON-RPC call. Params are positional, per spec.md §6.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// DecodeParams decodes the positional params array into dst, a pointer to a
// struct/slice matching the expected shape.
func (r *Request) DecodeParams(dst interface{}) error {
	if len(r.Params) == 0 {
		return fmt.Errorf("missing params")
	}
	return json.Unmarshal(r.Params, dst)
}

// Positional decodes the params array into its individual raw elements, for
// methods whose positional arguments have differing shapes (e.g.
// Group.create's [label, params]).
func (r *Request) Positional() ([]json.RawMessage, error) {
	if len(r.Params) == 0 {
		return nil, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(r.Params, &elems); err != nil {
		return nil, err
	}
	return elems, nil
}

// At decodes the i'th positional argument into dst. Returns an error if the
// index is out of range or the element doesn't match dst's shape.
func At(elems []json.RawMessage, i int, dst interface{}) error {
	if i < 0 || i >= len(elems) {
		return fmt.Errorf("missing positional argument %d", i)
	}
	return json.Unmarshal(elems[i], dst)
}

// Response is a direct reply to the caller: either Result or Error is set,
// never both.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *wireError  `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Reply builds a success Response echoing req's id.
func Reply(req *Request, result interface{}) *Response {
	return &Response{JSONRPC: Version, ID: req.ID, Result: result}
}

// ReplyNull builds a success Response whose result encodes as JSON null,
// used for Session.message, Notify.proposal and Notify.signed (spec.md
// §4.4.1, Open Question c). A nil json.RawMessage is used rather than a
// plain nil so that Result's omitempty keeps the "result" member on the wire.
func ReplyNull(req *Request) *Response {
	return &Response{JSONRPC: Version, ID: req.ID, Result: json.RawMessage(nil)}
}

// ReplyError builds an error Response from an application RPCError.
func ReplyError(req *Request, err *apperrors.RPCError) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      req.ID,
		Error: &wireError{
			Code:    err.Code(),
			Message: err.Error(),
			Data:    err.Data,
		},
	}
}

// ParseError builds a standard JSON-RPC parse-error Response. id is null
// since the request could not be parsed far enough to recover one.
func ParseError(message string) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      json.RawMessage("null"),
		Error:   &wireError{Code: apperrors.CodeParseError, Message: message},
	}
}

// MethodNotFound builds a standard JSON-RPC method-not-found Response.
func MethodNotFound(req *Request) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      req.ID,
		Error:   &wireError{Code: apperrors.CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)},
	}
}

// Notification is a server-initiated push with no id, carrying the
// [eventName, payload] tuple described in spec.md §6.
type Notification struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  [2]interface{} `json:"result"`
}

// NewNotification builds a Notification frame for the given event.
func NewNotification(event string, payload interface{}) *Notification {
	return &Notification{JSONRPC: Version, Result: [2]interface{}{event, payload}}
}

// Parse decodes a single inbound text frame into a Request. Per spec.md
// §4.1, a frame that fails to parse is logged and dropped — the caller
// does not get a Request to retry against, so internal/ws.Conn treats a
// Parse error as "swallow this frame, keep the connection open".
func Parse(raw []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	if req.Method == "" {
		return nil, fmt.Errorf("missing method")
	}
	return &req, nil
}

// Encode serializes any of Response/Notification to its wire bytes.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
