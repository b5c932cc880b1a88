// Package protocol defines the JSON messages exchanged over signaling and
// over the peer control channel. Every message is an object carrying a
// "type" discriminator; decoding fails closed on unknown types or missing
// fields.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed    = errors.New("malformed message")
	ErrUnknownType  = errors.New("unknown message type")
	ErrMissingField = errors.New("missing field")
	ErrInvalidField = errors.New("invalid field")
)

type Type string

// Message is implemented by every concrete message struct.
type Message interface {
	MessageType() Type
}

type validator interface {
	validate() error
}

type decoder func([]byte) (Message, error)

type messageSpec struct {
	decode   decoder
	required []string
}

// Marshal encodes m as a JSON object with "type" as its first key.
func Marshal(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	typ, err := json.Marshal(m.MessageType())
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%w: %T is not an object", ErrMalformed, m)
	}

	out := make([]byte, 0, len(body)+len(typ)+9)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}

func parse(data []byte, specs map[Type]messageSpec) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rawType, ok := fields["type"]
	if !ok {
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	}
	var typ Type
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return nil, fmt.Errorf("%w: type: %v", ErrMalformed, err)
	}
	entry, ok := specs[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	for _, name := range entry.required {
		if !present(fields[name]) {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingField, typ, name)
		}
	}
	return entry.decode(data)
}

// present treats absent keys, null and "" as missing.
func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", `""`:
		return false
	}
	return true
}

func decode[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if v, ok := any(m).(validator); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}
	return m, nil
}
