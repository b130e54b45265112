package fiscal

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrActiveRangeExists is returned by ReserveRange when the server already
// holds an active lease for the device. Callers hydrate that lease instead.
var ErrActiveRangeExists = errors.New("device already has an active range")

// ReserveRequest identifies the lease being asked for.
type ReserveRequest struct {
	StoreID  uuid.UUID `json:"store_id"`
	SeriesID string    `json:"series_id"`
	DeviceID uuid.UUID `json:"device_id"`
}

// Grant is a lease as reported by the server. Bounds are pointers so a
// missing field can be told apart from zero; timestamps stay raw until
// normalization parses them.
type Grant struct {
	ID         string `json:"id,omitempty"`
	StoreID    string `json:"store_id,omitempty"`
	SeriesID   string `json:"series_id,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	RangeStart *int64 `json:"range_start"`
	RangeEnd   *int64 `json:"range_end"`
	UsedUpTo   *int64 `json:"used_up_to,omitempty"`
	Status     string `json:"status,omitempty"`
	GrantedAt  string `json:"granted_at,omitempty"`
	ExpiresAt  string `json:"expires_at"`
}

// Transport is the server side of lease management.
type Transport interface {
	ReserveRange(ctx context.Context, req ReserveRequest) (Grant, error)
	// GetActiveRange returns nil when the server has no active lease.
	GetActiveRange(ctx context.Context, req ReserveRequest) (*Grant, error)
}

// Connectivity reports whether the server is reachable right now.
type Connectivity interface {
	Online(ctx context.Context) bool
}
