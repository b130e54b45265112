package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lacaja/possync/pkg/enums"
)

type decoderFunc func(payload json.RawMessage) (Payload, error)

type registryKey struct {
	eventType enums.EventType
	version   int
}

// DecoderRegistry stores versioned payload decoders keyed by canonical event type.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]decoderFunc
}

// NewDecoderRegistry builds an empty decoder registry.
func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]decoderFunc)}
}

// Register stores a decoder for the given event type and version.
func (r *DecoderRegistry) Register(eventType enums.EventType, version int, decoder decoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType.Canonical(), version: version}] = decoder
}

// Decode runs the decoder registered for the event type and version.
func (r *DecoderRegistry) Decode(eventType enums.EventType, version int, payload json.RawMessage) (Payload, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	if decoder, ok := r.registry[registryKey{eventType: eventType.Canonical(), version: version}]; ok {
		return decoder(payload)
	}
	return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
}

func decodeInto[T Payload](payload json.RawMessage) (Payload, error) {
	var out T
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DefaultRegistry knows every v1 payload.
var DefaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *DecoderRegistry {
	r := NewDecoderRegistry()
	r.Register(enums.EventProductCreated, 1, decodeInto[ProductCreated])
	r.Register(enums.EventProductUpdated, 1, decodeInto[ProductUpdated])
	r.Register(enums.EventProductDeactivated, 1, decodeInto[ProductDeactivated])
	r.Register(enums.EventPriceChanged, 1, decodeInto[PriceChanged])
	r.Register(enums.EventRecipeIngredientsUpdated, 1, decodeInto[RecipeIngredientsUpdated])
	r.Register(enums.EventCustomerCreated, 1, decodeInto[CustomerCreated])
	r.Register(enums.EventCustomerUpdated, 1, decodeInto[CustomerUpdated])
	r.Register(enums.EventDebtCreated, 1, decodeInto[DebtCreated])
	r.Register(enums.EventDebtPaymentRecorded, 1, decodeInto[DebtPaymentRecorded])
	r.Register(enums.EventStockDeltaApplied, 1, decodeInto[StockDeltaApplied])
	r.Register(enums.EventStockQuotaGranted, 1, decodeInto[StockQuotaGranted])
	r.Register(enums.EventStockQuotaReclaimed, 1, decodeInto[StockQuotaReclaimed])
	r.Register(enums.EventSaleCreated, 1, decodeInto[SaleCreated])
	return r
}
