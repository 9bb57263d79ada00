package deadletter

import (
	"encoding/json"
	"time"

	"github.com/c360/objectrelay/envelope"
	"github.com/c360/objectrelay/errors"
)

// Reasons the worker attaches to dead letters
const (
	ReasonMalformed = "malformed"
	ReasonStale     = "stale"
	ReasonExhausted = "retries_exhausted"
)

// Letter is the unit published to the dead-letter queue: the failed
// envelope plus why it failed. Letters are persisted verbatim for offline
// inspection; nothing in the pipeline ever replays them automatically.
type Letter struct {
	CorrelationID string          `json:"correlation_id"`
	Operation     string          `json:"operation"`
	ObjectType    string          `json:"object_type"`
	Reason        string          `json:"reason"`
	Detail        string          `json:"detail,omitempty"`
	Attempts      int             `json:"attempts"`
	Envelope      json.RawMessage `json:"envelope"`
	ReceivedAt    time.Time       `json:"received_at"`
}

// NewLetter builds a letter from a decoded request envelope
func NewLetter(req *envelope.Request, reason, detail string) *Letter {
	raw, err := json.Marshal(req)
	if err != nil {
		// A Request that round-tripped through UnmarshalRequest always
		// re-encodes; keep the letter even if it somehow does not.
		raw = []byte(`{}`)
	}
	return &Letter{
		CorrelationID: req.CorrelationID,
		Operation:     string(req.Operation),
		ObjectType:    string(req.ObjectType),
		Reason:        reason,
		Detail:        detail,
		Attempts:      req.Attempt,
		Envelope:      raw,
		ReceivedAt:    time.Now().UTC(),
	}
}

// NewMalformedLetter wraps raw bytes that failed to decode. The payload is
// carried base64-encoded inside a JSON object so it stays queryable in the
// sink regardless of what the bytes contain.
func NewMalformedLetter(raw []byte, detail string) *Letter {
	wrapped, err := json.Marshal(struct {
		Raw []byte `json:"raw_base64"`
	}{Raw: raw})
	if err != nil {
		wrapped = []byte(`{}`)
	}
	return &Letter{
		Reason:     ReasonMalformed,
		Detail:     detail,
		Envelope:   wrapped,
		ReceivedAt: time.Now().UTC(),
	}
}

// Marshal serializes the letter for publishing
func (l *Letter) Marshal() ([]byte, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Letter", "Marshal", "encode letter")
	}
	return data, nil
}

// UnmarshalLetter decodes a letter consumed from the dead-letter queue
func UnmarshalLetter(data []byte) (*Letter, error) {
	var l Letter
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, errors.WrapInvalid(err, "Letter", "Unmarshal", "decode letter")
	}
	if l.Reason == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidEnvelope, "Letter", "Unmarshal", "missing reason")
	}
	return &l, nil
}
