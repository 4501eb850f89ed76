package protocol

import (
	"bytes"
	"encoding/json"
)

// DefaultMaxMessageSize bounds a single inbound frame.
const DefaultMaxMessageSize = 64 * 1024

type envelope struct {
	Type MessageType `json:"type"`
}

type connectWire struct {
	Params json.RawMessage `json:"params"`
}

type eventWire struct {
	Event      string          `json:"event"`
	LiveViewID *string         `json:"liveview_id"`
	Params     json.RawMessage `json:"params"`
	Target     *string         `json:"target"`
}

type renderWire struct {
	LiveViewID string `json:"liveview_id"`
	HTML       string `json:"html"`
}

type patchMsgWire struct {
	Diff []PatchInstruction `json:"diff"`
}

type redirectWire struct {
	URL string `json:"url"`
}

type errorWire struct {
	Message string `json:"message"`
}

// DecodeClientMessage decodes one client → server frame.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	mt, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch mt {
	case TypeConnect:
		var w connectWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, decodeErr(mt, err)
		}
		params, err := decodeParams(w.Params)
		if err != nil {
			return nil, decodeErr(mt, err)
		}
		return &Connect{Params: params}, nil

	case TypeEvent:
		var w eventWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, decodeErr(mt, err)
		}
		if w.Event == "" {
			return nil, decodeErr(mt, ErrMissingField)
		}
		params, err := decodeParams(w.Params)
		if err != nil {
			return nil, decodeErr(mt, err)
		}
		return &Event{
			Event:      w.Event,
			LiveViewID: deref(w.LiveViewID),
			Params:     params,
			Target:     deref(w.Target),
		}, nil

	case TypeHeartbeat:
		return &Heartbeat{}, nil
	}

	return nil, decodeErr(mt, ErrUnknownMessageType)
}

// DecodeServerMessage decodes one server → client frame.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	mt, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch mt {
	case TypeRender:
		var w renderWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, decodeErr(mt, err)
		}
		return &Render{LiveViewID: w.LiveViewID, HTML: w.HTML}, nil

	case TypePatch:
		var w patchMsgWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, decodeErr(mt, err)
		}
		return &Patch{Diff: w.Diff}, nil

	case TypeRedirect:
		var w redirectWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, decodeErr(mt, err)
		}
		if w.URL == "" {
			return nil, decodeErr(mt, ErrMissingField)
		}
		return &Redirect{URL: w.URL}, nil

	case TypeError:
		var w errorWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, decodeErr(mt, err)
		}
		return &Error{Message: w.Message}, nil

	case TypeHeartbeatAck:
		return &HeartbeatAck{}, nil
	}

	return nil, decodeErr(mt, ErrUnknownMessageType)
}

func peekType(data []byte) (MessageType, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", decodeErr("", ErrMalformed)
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return "", decodeErr("", ErrMalformed)
	}
	if env.Type == "" {
		return "", decodeErr("", ErrMissingField)
	}
	return env.Type, nil
}

// decodeParams flattens a JSON object into string values. Strings are taken
// verbatim, null becomes "", other scalars use their JSON text, and nested
// values are kept as compact JSON.
func decodeParams(raw json.RawMessage) (map[string]string, error) {
	params := make(map[string]string)
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return params, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, ErrMalformed
	}

	for k, v := range fields {
		params[k] = paramString(v)
	}
	return params, nil
}

func paramString(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	if v[0] == '{' || v[0] == '[' {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err == nil {
			return buf.String()
		}
	}
	// Numbers and booleans keep their literal text.
	return string(v)
}
