package feed

import (
	"encoding/json"
	"fmt"

	"rugs_go/internal/domain"
)

// FrameKind classifies one decoded upstream frame.
type FrameKind int

const (
	// FrameEvent carries an [event_name, payload] pair.
	FrameEvent FrameKind = iota + 1
	// FramePing is an upstream keepalive probe; reply with a pong frame.
	FramePing
	// FramePong acknowledges our own keepalive.
	FramePong
	// FrameControl covers handshake/namespace traffic with no event body.
	FrameControl
)

// Frame is the result of decoding one raw text frame.
type Frame struct {
	Kind    FrameKind
	Name    string
	Payload json.RawMessage
}

// pongFrame is the keepalive reply expected by the upstream.
var pongFrame = []byte("3")

// Frame type prefixes used by the upstream's text framing. The prefix is a
// run of leading digits; "42" marks an event frame whose body is a JSON
// array of [event_name, payload].
const (
	prefixOpen       = "0"
	prefixPing       = "2"
	prefixPong       = "3"
	prefixConnect    = "40"
	prefixDisconnect = "41"
	prefixEvent      = "42"
)

// DecodeFrame turns one raw frame into zero or one (name, payload) pair.
// Malformed frames return an error; callers log and drop them without
// terminating the read loop.
func DecodeFrame(raw []byte) (Frame, error) {
	i := 0
	for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
		i++
	}
	if i == 0 {
		return Frame{}, fmt.Errorf("%w: no type prefix", domain.ErrMalformedFrame)
	}

	prefix := string(raw[:i])
	body := raw[i:]

	switch prefix {
	case prefixPing:
		return Frame{Kind: FramePing}, nil
	case prefixPong:
		return Frame{Kind: FramePong}, nil
	case prefixOpen, prefixConnect, prefixDisconnect:
		return Frame{Kind: FrameControl}, nil
	case prefixEvent:
		var arr []json.RawMessage
		if err := json.Unmarshal(body, &arr); err != nil {
			return Frame{}, fmt.Errorf("%w: event body: %v", domain.ErrMalformedFrame, err)
		}
		if len(arr) == 0 {
			return Frame{}, fmt.Errorf("%w: empty event array", domain.ErrMalformedFrame)
		}
		var name string
		if err := json.Unmarshal(arr[0], &name); err != nil {
			return Frame{}, fmt.Errorf("%w: event name: %v", domain.ErrMalformedFrame, err)
		}
		fr := Frame{Kind: FrameEvent, Name: name}
		if len(arr) > 1 {
			fr.Payload = arr[1]
		}
		return fr, nil
	default:
		// Unknown numeric prefix with a well-formed shape: ignore, do not fail.
		return Frame{Kind: FrameControl}, nil
	}
}
