package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
)

// Envelope is the wire and storage shape of an Event.
type Envelope struct {
	EventID   uuid.UUID       `json:"event_id"`
	StoreID   uuid.UUID       `json:"store_id"`
	DeviceID  uuid.UUID       `json:"device_id"`
	Seq       int64           `json:"seq"`
	Type      enums.EventType `json:"type"`
	Version   int             `json:"version"`
	CreatedAt int64           `json:"created_at"`
	Actor     Actor           `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
}

// ToEnvelope encodes the payload and copies the header.
func ToEnvelope(e Event) (Envelope, error) {
	if e.Payload == nil {
		return Envelope{}, pkgerrors.New(pkgerrors.CodeValidation, "event payload is required")
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return Envelope{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode event payload")
	}
	return Envelope{
		EventID:   e.EventID,
		StoreID:   e.StoreID,
		DeviceID:  e.DeviceID,
		Seq:       e.Seq,
		Type:      e.Type.Canonical(),
		Version:   e.Version,
		CreatedAt: e.CreatedAt,
		Actor:     e.Actor,
		Payload:   raw,
	}, nil
}

// Event decodes the payload through the default registry.
func (env Envelope) Event() (Event, error) {
	return env.EventWith(DefaultRegistry)
}

// EventWith decodes the payload through registry.
func (env Envelope) EventWith(registry *DecoderRegistry) (Event, error) {
	typ, err := enums.ParseEventType(string(env.Type))
	if err != nil {
		return Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown event type")
	}
	version := env.Version
	if version == 0 {
		version = CurrentVersion
	}
	payload, err := registry.Decode(typ, version, env.Payload)
	if err != nil {
		return Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("decode %s payload", typ)).
			WithDetails(map[string]any{"event_id": env.EventID.String()})
	}
	return Event{
		EventID:   env.EventID,
		StoreID:   env.StoreID,
		DeviceID:  env.DeviceID,
		Seq:       env.Seq,
		Type:      typ,
		Version:   version,
		CreatedAt: env.CreatedAt,
		Actor:     env.Actor,
		Payload:   payload,
	}, nil
}

// MarshalJSON writes the envelope form.
func (e Event) MarshalJSON() ([]byte, error) {
	env, err := ToEnvelope(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// UnmarshalJSON reads the envelope form, normalizing legacy type aliases.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	decoded, err := env.Event()
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// Decode parses a single JSON envelope.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return Event{}, typed
		}
		return Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event")
	}
	return e, nil
}

// EncodePayload returns the payload JSON stored alongside the event header.
func EncodePayload(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode event payload")
	}
	return string(raw), nil
}
