package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/xraph/herald/signature"
)

// TimestampLayout is the envelope timestamp format: RFC 3339 UTC with
// millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Visitor describes who caused an event. All fields are optional and none
// identify the visitor directly: the address is only ever a salted hash.
type Visitor struct {
	IPHash  string `json:"ipHash,omitempty"`
	Device  string `json:"device,omitempty"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
}

// Envelope is the JSON document POSTed to subscribers.
type Envelope struct {
	Event     Kind      `json:"event"`
	Timestamp time.Time `json:"-"`
	Data      any       `json:"data"`
	Visitor   *Visitor  `json:"visitor,omitempty"`
}

// NewEnvelope stamps an envelope with the current time.
func NewEnvelope(kind Kind, data any, visitor *Visitor) Envelope {
	return Envelope{
		Event:     kind,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Data:      data,
		Visitor:   visitor,
	}
}

type envelopeJSON struct {
	Event     Kind     `json:"event"`
	Timestamp string   `json:"timestamp"`
	Data      any      `json:"data"`
	Visitor   *Visitor `json:"visitor,omitempty"`
}

// MarshalJSON renders the timestamp in TimestampLayout. Nil data is sent
// as an empty object.
func (e Envelope) MarshalJSON() ([]byte, error) {
	data := e.Data
	if data == nil {
		data = struct{}{}
	}
	return json.Marshal(envelopeJSON{
		Event:     e.Event,
		Timestamp: e.Timestamp.UTC().Format(TimestampLayout),
		Data:      data,
		Visitor:   e.Visitor,
	})
}

// UnmarshalJSON is the receiving side of MarshalJSON. Data decodes into
// a json.RawMessage.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw struct {
		Event     Kind            `json:"event"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
		Visitor   *Visitor        `json:"visitor,omitempty"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Envelope{Event: raw.Event, Timestamp: raw.Timestamp, Data: raw.Data, Visitor: raw.Visitor}
	return nil
}

// Payload returns the canonical bytes of the envelope. These bytes are
// stored on each delivery, signed and sent unchanged on every attempt.
func (e Envelope) Payload() ([]byte, error) {
	return signature.Canonicalize(e)
}

// HashIP reduces a client address to a salted SHA-256 hex digest.
func HashIP(ip, salt string) string {
	sum := sha256.Sum256([]byte(salt + ip))
	return hex.EncodeToString(sum[:])
}
