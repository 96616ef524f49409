package jsoncodec

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// numberConfig is ConfigStd that decodes numbers into json.Number.
var numberConfig = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
	UseNumber:        true,
}.Froze()

// Object is a decoded JSON object whose member values are kept verbatim.
type Object map[string]json.RawMessage

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// UnmarshalNumbers is Unmarshal that keeps numbers as json.Number, so they
// re-encode exactly as received.
func UnmarshalNumbers(data []byte, v any) error {
	return numberConfig.Unmarshal(data, v)
}

func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// DecodeObject decodes data only when it is a JSON object.
func DecodeObject(data []byte) (Object, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var obj Object
	if err := defaultConfig.Unmarshal(trimmed, &obj); err != nil {
		return nil, false
	}
	if obj == nil {
		obj = Object{}
	}
	return obj, true
}

// DecodeString decodes data only when it is a JSON string.
func DecodeString(data []byte) (string, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := defaultConfig.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

// Set marshals v and stores it under key.
func (o Object) Set(key string, v any) error {
	raw, err := defaultConfig.Marshal(v)
	if err != nil {
		return err
	}
	o[key] = raw
	return nil
}

// Bytes encodes the object with its keys sorted.
func (o Object) Bytes() ([]byte, error) {
	if o == nil {
		return []byte("{}"), nil
	}
	return defaultConfig.Marshal(map[string]json.RawMessage(o))
}
