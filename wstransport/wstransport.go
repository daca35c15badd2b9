// Package wstransport carries call sessions over WebSocket connections.
// Each connection hosts one session of any pattern; the engine method name
// travels in the URL query, and each engine message crosses the wire as a
// JSON frame. A close_send frame stands in for the half-close that gRPC
// performs natively, so the protocol is symmetric and both ends share one
// transport implementation.
//
// JSON erases payload types, so each end installs a Decoder to recover the
// typed values its business functions and callers expect: the serving
// Handler keeps one per method, and Dial takes one for the responses.
package wstransport

import (
	"encoding/json"
)

const (
	// kindMessage frames carry one engine message.
	kindMessage = "msg"
	// kindCloseSend frames mark the sender's half-close; they carry no
	// payload and the peer surfaces them as io.EOF.
	kindCloseSend = "close_send"
)

// wireFrame is the JSON envelope for one engine message or a half-close
// marker. Direction is implicit: a received frame is always inbound to the
// receiving end.
type wireFrame struct {
	Kind    string          `json:"kind"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// A Decoder recovers the typed payload of an inbound frame from its raw
// JSON form.
type Decoder func(raw json.RawMessage) (any, error)

// JSONDecoder returns a Decoder that unmarshals every payload into a *T.
func JSONDecoder[T any]() Decoder {
	return func(raw json.RawMessage) (any, error) {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// decodeAny is the fallback for methods without a registered Decoder. It
// yields the generic JSON forms, which is rarely what a business function
// wants but keeps undecoded payloads inspectable.
func decodeAny(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
