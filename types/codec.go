// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package types

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Payload format tags.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// EncodeEvent serializes an event into the single structured encoding used
// everywhere data hits disk: WAL record payloads and segment block entries.
func EncodeEvent(e *Event) ([]byte, error) {
	b, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: encode event %s: %v", ErrSerialization, e.ID, err)
	}
	return b, nil
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(b []byte) (*Event, error) {
	var e Event
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%w: decode event: %v", ErrSerialization, err)
	}
	return &e, nil
}

// JSONPayload serializes a value as a JSON payload.
func JSONPayload(v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return Payload{Data: data, Format: FormatJSON}, nil
}

// MsgpackPayload serializes a value as a msgpack payload.
func MsgpackPayload(v any) (Payload, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return Payload{Data: data, Format: FormatMsgpack}, nil
}

// Decode unmarshals the payload into out according to its format tag.
func (p Payload) Decode(out any) error {
	switch p.Format {
	case FormatMsgpack:
		if err := msgpack.Unmarshal(p.Data, out); err != nil {
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}
	default:
		// JSON is the default payload format.
		if err := json.Unmarshal(p.Data, out); err != nil {
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}
	}
	return nil
}
