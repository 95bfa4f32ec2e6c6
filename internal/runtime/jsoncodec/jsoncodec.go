// Package jsoncodec is the JSON encoder used for payloads, fault bodies and
// the introspection API.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// Codec marshals values with a fixed sonic configuration.
type Codec struct {
	api sonic.API
}

var (
	// Std mirrors encoding/json behaviour (sorted map keys, HTML escaping).
	Std = Codec{api: sonic.ConfigStd}
	// Fast skips the compatibility work and is used on the hot path.
	Fast = Codec{api: sonic.ConfigFastest}
)

func (c Codec) Marshal(v any) ([]byte, error) {
	return c.api.Marshal(v)
}

func (c Codec) Unmarshal(data []byte, v any) error {
	return c.api.Unmarshal(data, v)
}

func (c Codec) Encode(w io.Writer, v any) error {
	return c.api.NewEncoder(w).Encode(v)
}

func (c Codec) Decode(r io.Reader, v any) error {
	return c.api.NewDecoder(r).Decode(v)
}

// Valid reports whether data is well-formed JSON.
func (c Codec) Valid(data []byte) bool {
	return c.api.Valid(data)
}

func Marshal(v any) ([]byte, error) { return Std.Marshal(v) }

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return Std.api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error { return Std.Unmarshal(data, v) }

func Encode(w io.Writer, v any) error { return Std.Encode(w, v) }

func Decode(r io.Reader, v any) error { return Std.Decode(r, v) }
