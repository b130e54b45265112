package events

import (
	"github.com/google/uuid"

	"github.com/lacaja/possync/pkg/enums"
)

// CurrentVersion is the payload schema version written by this build.
const CurrentVersion = 1

// Actor records who triggered an event.
type Actor struct {
	UserID uuid.UUID       `json:"user_id" validate:"required"`
	Role   enums.StoreRole `json:"role" validate:"required,store_role"`
}

// Event is an immutable domain fact. Seq orders events per device and
// EventID is the idempotency key the server deduplicates on.
type Event struct {
	EventID   uuid.UUID
	StoreID   uuid.UUID
	DeviceID  uuid.UUID
	Seq       int64
	Type      enums.EventType
	Version   int
	CreatedAt int64 // unix millis, logical time
	Actor     Actor
	Payload   Payload
}

// New builds an unsequenced event for payload. Seq is assigned by the event store.
func New(storeID, deviceID uuid.UUID, actor Actor, createdAt int64, payload Payload) Event {
	return Event{
		EventID:   uuid.New(),
		StoreID:   storeID,
		DeviceID:  deviceID,
		Type:      payload.EventType(),
		Version:   CurrentVersion,
		CreatedAt: createdAt,
		Actor:     actor,
		Payload:   payload,
	}
}

// Payload is the closed set of typed event bodies.
type Payload interface {
	EventType() enums.EventType
	sealed()
}

// StockKey addresses a product-scoped running total; VariantID is uuid.Nil
// when the product has no variants.
type StockKey struct {
	ProductID uuid.UUID
	VariantID uuid.UUID
}

// NewStockKey builds a key from an optional variant.
func NewStockKey(productID uuid.UUID, variantID *uuid.UUID) StockKey {
	key := StockKey{ProductID: productID}
	if variantID != nil {
		key.VariantID = *variantID
	}
	return key
}

// HasVariant reports whether the key is variant-scoped.
func (k StockKey) HasVariant() bool {
	return k.VariantID != uuid.Nil
}

func (k StockKey) String() string {
	if !k.HasVariant() {
		return k.ProductID.String()
	}
	return k.ProductID.String() + "/" + k.VariantID.String()
}
