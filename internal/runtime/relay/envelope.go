package relay

import (
	"encoding/json"
	"fmt"

	errspkg "github.com/drblury/devicerelay/internal/runtime/errors"
	"github.com/drblury/devicerelay/internal/runtime/jsoncodec"
)

// Envelope is the websocket frame shape in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses an inbound frame. Frames that are not a JSON object
// with a non-empty string event fail with ErrMalformedEnvelope.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	obj, ok := jsoncodec.DecodeObject(frame)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: not a JSON object", errspkg.ErrMalformedEnvelope)
	}
	name, ok := jsoncodec.DecodeString(obj["event"])
	if !ok || name == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", errspkg.ErrMalformedEnvelope)
	}
	return Envelope{Event: name, Data: obj["data"]}, nil
}

// EncodeFrame renders an outbound frame. Empty data is omitted.
func EncodeFrame(name string, data []byte) ([]byte, error) {
	if len(data) > 0 && !jsoncodec.Valid(data) {
		return nil, fmt.Errorf("%w: invalid data for %q", errspkg.ErrMalformedEnvelope, name)
	}
	return jsoncodec.Marshal(Envelope{Event: name, Data: data})
}
