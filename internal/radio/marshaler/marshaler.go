// Package marshaler implements the encoding of the radio-bridge messages.
package marshaler

import (
	"strings"

	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
)

// Type defines the marshaler type.
type Type int

// Marshaler types.
const (
	Protobuf Type = iota
	JSON
)

// String implements fmt.Stringer.
func (t Type) String() string {
	if t == JSON {
		return "json"
	}
	return "protobuf"
}

// ContentType returns the MIME type of the marshaled messages.
func (t Type) ContentType() string {
	if t == JSON {
		return "application/json"
	}
	return "application/octet-stream"
}

// ParseType parses the configured marshaler name.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "protobuf":
		return Protobuf, nil
	case "json":
		return JSON, nil
	default:
		return Protobuf, errors.Errorf("unknown marshaler: %s", s)
	}
}

// Marshal marshals the given message.
func Marshal(t Type, msg proto.Message) ([]byte, error) {
	var b []byte
	var err error

	switch t {
	case Protobuf:
		b, err = proto.Marshal(msg)
	case JSON:
		var str string
		m := &jsonpb.Marshaler{
			EmitDefaults: true,
		}
		str, err = m.MarshalToString(msg)
		b = []byte(str)
	default:
		err = errors.Errorf("unknown marshaler type: %d", t)
	}

	return b, err
}
