package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeServerMessage encodes one server → client frame.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case *Render:
		return marshal(struct {
			Type MessageType `json:"type"`
			renderWire
		}{TypeRender, renderWire{LiveViewID: m.LiveViewID, HTML: m.HTML}})

	case *Patch:
		diff := m.Diff
		if diff == nil {
			diff = []PatchInstruction{}
		}
		return marshal(struct {
			Type MessageType `json:"type"`
			patchMsgWire
		}{TypePatch, patchMsgWire{Diff: diff}})

	case *Redirect:
		return marshal(struct {
			Type MessageType `json:"type"`
			redirectWire
		}{TypeRedirect, redirectWire{URL: m.URL}})

	case *Error:
		return marshal(struct {
			Type MessageType `json:"type"`
			errorWire
		}{TypeError, errorWire{Message: m.Message}})

	case *HeartbeatAck:
		return marshal(envelope{Type: TypeHeartbeatAck})
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, msg)
}

// EncodeClientMessage encodes one client → server frame.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	switch m := msg.(type) {
	case *Connect:
		return marshal(struct {
			Type   MessageType       `json:"type"`
			Params map[string]string `json:"params"`
		}{TypeConnect, nonNilParams(m.Params)})

	case *Event:
		return marshal(struct {
			Type       MessageType       `json:"type"`
			Event      string            `json:"event"`
			LiveViewID *string           `json:"liveview_id"`
			Params     map[string]string `json:"params"`
			Target     string            `json:"target"`
		}{TypeEvent, m.Event, nullable(m.LiveViewID), nonNilParams(m.Params), m.Target})

	case *Heartbeat:
		return marshal(envelope{Type: TypeHeartbeat})
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, msg)
}

// MustEncode encodes a server message and panics on failure. Server message
// types contain only strings, so failure indicates a programming error.
func MustEncode(msg ServerMessage) []byte {
	data, err := EncodeServerMessage(msg)
	if err != nil {
		panic(err)
	}
	return data
}

func nonNilParams(p map[string]string) map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return p
}

// marshal encodes v without escaping <, > and &. Payloads are HTML, and the
// escaped forms would inflate every tag on the wire.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
