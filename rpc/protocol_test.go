package rpc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	json "github.com/segmentio/encoding/json"
)

func TestEncodeMethodRoundTrip(t *testing.T) {
	m := Method{ID: 0, Name: "ready", Params: json.RawMessage(`{"isReady":true}`), Seq: 0}
	data, err := EncodeMethod(m)
	if err != nil {
		t.Fatalf("EncodeMethod: %v", err)
	}

	// id and seq are mandatory on an outbound Method frame even when zero
	// (spec.md §6/§8 scenario 1); they must not be dropped by omitempty.
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := raw["id"]; !ok {
		t.Errorf("encoded frame %s is missing \"id\" at zero value", data)
	}
	if _, ok := raw["seq"]; !ok {
		t.Errorf("encoded frame %s is missing \"seq\" at zero value", data)
	}

	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Method == nil {
		t.Fatalf("frame.Method is nil, want a Method")
	}
	if diff := cmp.Diff(m, *frame.Method); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeMethodFrameHasTypeField(t *testing.T) {
	data, err := EncodeMethod(Method{ID: 3, Name: "ready"})
	if err != nil {
		t.Fatalf("EncodeMethod: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if raw["type"] != "method" {
		t.Errorf(`type = %v, want "method"`, raw["type"])
	}
}

func TestDecodeFrameReply(t *testing.T) {
	data := []byte(`{"type":"reply","id":5,"result":null,"seq":12}`)
	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Reply == nil {
		t.Fatalf("frame.Reply is nil, want a Reply")
	}
	if frame.Reply.ID != 5 {
		t.Errorf("ID = %d, want 5", frame.Reply.ID)
	}
	if frame.Seq == nil || *frame.Seq != 12 {
		t.Errorf("Seq = %v, want 12", frame.Seq)
	}
}

func TestDecodeFrameReplyWithError(t *testing.T) {
	data := []byte(`{"type":"reply","id":5,"error":{"code":409,"message":"name taken","path":"room"}}`)
	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Reply.Error == nil {
		t.Fatalf("frame.Reply.Error is nil, want non-nil")
	}
	if frame.Reply.Error.Code != 409 || frame.Reply.Error.Path != "room" {
		t.Errorf("Error = %+v, unexpected", frame.Reply.Error)
	}
}

func TestDecodeFramePush(t *testing.T) {
	// A server push omits id.
	data := []byte(`{"type":"method","method":"stateChange","params":{"scene":"lobby"},"seq":3}`)
	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Method == nil {
		t.Fatalf("frame.Method is nil, want a push Method")
	}
	if frame.Method.ID != 0 {
		t.Errorf("ID = %d, want 0 for a push", frame.Method.ID)
	}
	if frame.Method.Name != "stateChange" {
		t.Errorf("Name = %q, want stateChange", frame.Method.Name)
	}
}

func TestDecodeFrameUnknownType(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"type":"ping"}`))
	if err == nil {
		t.Fatal("DecodeFrame() = nil error, want *MessageParseError")
	}
	if _, ok := err.(*MessageParseError); !ok {
		t.Fatalf("error = %T, want *MessageParseError", err)
	}
}

func TestDecodeFrameInvalidJSON(t *testing.T) {
	_, err := DecodeFrame([]byte(`not json`))
	var pe *MessageParseError
	if !asMessageParseError(err, &pe) {
		t.Fatalf("error = %v, want *MessageParseError", err)
	}
}

func TestDecodeFrameRejectsCaseSmuggledField(t *testing.T) {
	// "Type" (capital T) alongside lowercase-keyed fields must not be
	// silently folded onto Type by a case-insensitive decode.
	data := []byte(`{"Type":"method","type":"method","method":"ready","id":1,"seq":0}`)
	_, err := DecodeFrame(data)
	if err == nil {
		t.Fatal("DecodeFrame() = nil error, want rejection of case-variant duplicate key")
	}
}

func TestDecodeFrameRejectsUnknownField(t *testing.T) {
	data := []byte(`{"type":"method","method":"ready","id":1,"seq":0,"bogus":true}`)
	_, err := DecodeFrame(data)
	if err == nil {
		t.Fatal("DecodeFrame() = nil error, want rejection of unknown field")
	}
}

func asMessageParseError(err error, out **MessageParseError) bool {
	pe, ok := err.(*MessageParseError)
	if ok {
		*out = pe
	}
	return ok
}
