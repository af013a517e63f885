package rpc

import (
	"fmt"

	json "github.com/segmentio/encoding/json"

	"github.com/interactive-rpc/go-sdk/rpc/internal/jsonrpc2"
)

// FrameType is the wire discriminator every frame carries under "type".
type FrameType string

const (
	FrameMethod FrameType = "method"
	FrameReply  FrameType = "reply"
)

// Method is the payload shape shared by an outbound request frame and an
// inbound server-initiated push frame. Requests carry an ID stamped by the
// Socket, counting up from 0; a push omits it and decodes with ID 0.
type Method struct {
	ID      uint32          `json:"id"`
	Name    string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Discard bool            `json:"discard,omitempty"`
	Seq     uint32          `json:"seq"`
}

// ErrorObject is the error shape carried by a Reply frame.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// Reply is an inbound frame correlating to a previously sent Method by ID.
// Exactly one of Result or Error is non-nil.
type Reply struct {
	ID     uint32          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
	Seq    uint32          `json:"seq,omitempty"`
}

// wireMethod is the frame actually written to, or read from, the wire for
// a Method: Method's fields plus the "type" discriminator.
type wireMethod struct {
	Type    FrameType       `json:"type"`
	ID      uint32          `json:"id"`
	Name    string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Discard bool            `json:"discard,omitempty"`
	Seq     uint32          `json:"seq"`
}

// wireReply is the frame actually read from the wire for a Reply: Reply's
// fields plus the "type" discriminator.
type wireReply struct {
	Type   FrameType       `json:"type"`
	ID     uint32          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
	Seq    uint32          `json:"seq,omitempty"`
}

// EncodeMethod renders m as the outbound wire frame, using the same
// segmentio-backed encoder the hot send path favors for speed.
func EncodeMethod(m Method) ([]byte, error) {
	w := wireMethod{
		Type:    FrameMethod,
		ID:      m.ID,
		Name:    m.Name,
		Params:  m.Params,
		Discard: m.Discard,
		Seq:     m.Seq,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode method frame: %w", err)
	}
	return data, nil
}

// frameEnvelope is used only to sniff a frame's "type" discriminator and
// its optional "seq" before dispatching to a concrete decode.
type frameEnvelope struct {
	Type FrameType `json:"type"`
	Seq  *uint32   `json:"seq"`
}

// Frame is the result of decoding one inbound text frame: exactly one of
// Method or Reply is non-nil. Seq carries the frame's own sequence number,
// if it had one, regardless of which kind the frame turned out to be —
// the Socket updates its stored sequence number before dispatching on
// Method vs Reply.
type Frame struct {
	Method *Method
	Reply  *Reply
	Seq    *uint32
}

// DecodeFrame parses one inbound text frame and dispatches it by its
// "type" discriminator. Field names are validated case-sensitively via
// jsonrpc2.StrictUnmarshal so a server (or an attacker on the wire) cannot
// smuggle a differently-cased duplicate field past a case-insensitive
// decode. Invalid JSON or an unrecognized "type" is reported as a
// *MessageParseError, matching the inbound dispatch rule that such frames
// are discarded with an error event rather than crashing the Socket.
func DecodeFrame(data []byte) (*Frame, error) {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MessageParseError{Raw: string(data), Cause: err}
	}

	switch env.Type {
	case FrameMethod:
		var w wireMethod
		if err := jsonrpc2.StrictUnmarshal(data, &w); err != nil {
			return nil, &MessageParseError{Raw: string(data), Cause: err}
		}
		return &Frame{
			Method: &Method{ID: w.ID, Name: w.Name, Params: w.Params, Discard: w.Discard, Seq: w.Seq},
			Seq:    env.Seq,
		}, nil

	case FrameReply:
		var w wireReply
		if err := jsonrpc2.StrictUnmarshal(data, &w); err != nil {
			return nil, &MessageParseError{Raw: string(data), Cause: err}
		}
		return &Frame{
			Reply: &Reply{ID: w.ID, Result: w.Result, Error: w.Error, Seq: w.Seq},
			Seq:   env.Seq,
		}, nil

	default:
		return nil, &MessageParseError{
			Raw:   string(data),
			Cause: fmt.Errorf("unrecognized frame type %q", env.Type),
		}
	}
}
