package enums

import "fmt"

// EventType is the tagged-variant discriminator of a domain event.
type EventType string

const (
	EventProductCreated           EventType = "ProductCreated"
	EventProductUpdated           EventType = "ProductUpdated"
	EventProductDeactivated       EventType = "ProductDeactivated"
	EventPriceChanged             EventType = "PriceChanged"
	EventRecipeIngredientsUpdated EventType = "RecipeIngredientsUpdated"
	EventCustomerCreated          EventType = "CustomerCreated"
	EventCustomerUpdated          EventType = "CustomerUpdated"
	EventDebtCreated              EventType = "DebtCreated"
	EventDebtPaymentRecorded      EventType = "DebtPaymentRecorded"
	EventStockDeltaApplied        EventType = "StockDeltaApplied"
	EventStockQuotaGranted        EventType = "StockQuotaGranted"
	EventStockQuotaReclaimed      EventType = "StockQuotaReclaimed"
	EventSaleCreated              EventType = "SaleCreated"
)

// Legacy spellings still emitted by older terminals.
const (
	EventProductPriceChanged EventType = "ProductPriceChanged"
	EventDebtPaymentAdded    EventType = "DebtPaymentAdded"
)

var validEventTypes = []EventType{
	EventProductCreated,
	EventProductUpdated,
	EventProductDeactivated,
	EventPriceChanged,
	EventRecipeIngredientsUpdated,
	EventCustomerCreated,
	EventCustomerUpdated,
	EventDebtCreated,
	EventDebtPaymentRecorded,
	EventStockDeltaApplied,
	EventStockQuotaGranted,
	EventStockQuotaReclaimed,
	EventSaleCreated,
}

var eventTypeAliases = map[EventType]EventType{
	EventProductPriceChanged: EventPriceChanged,
	EventDebtPaymentAdded:    EventDebtPaymentRecorded,
}

// String implements fmt.Stringer.
func (e EventType) String() string {
	return string(e)
}

// Canonical folds legacy aliases into their canonical type.
func (e EventType) Canonical() EventType {
	if canonical, ok := eventTypeAliases[e]; ok {
		return canonical
	}
	return e
}

// IsValid reports whether the value (or its alias target) is a known event type.
func (e EventType) IsValid() bool {
	canonical := e.Canonical()
	for _, candidate := range validEventTypes {
		if candidate == canonical {
			return true
		}
	}
	return false
}

// EventTypes lists the canonical event types.
func EventTypes() []EventType {
	out := make([]EventType, len(validEventTypes))
	copy(out, validEventTypes)
	return out
}

// ParseEventType converts raw input into a canonical EventType.
func ParseEventType(value string) (EventType, error) {
	candidate := EventType(value)
	if !candidate.IsValid() {
		return "", fmt.Errorf("invalid event type %q", value)
	}
	return candidate.Canonical(), nil
}
