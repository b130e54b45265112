package syncengine

import (
	"context"

	"github.com/google/uuid"

	"github.com/lacaja/possync/pkg/events"
)

// SubmitRequest is one push of pending events, in seq order.
type SubmitRequest struct {
	StoreID       uuid.UUID         `json:"store_id"`
	DeviceID      uuid.UUID         `json:"device_id"`
	ClientVersion string            `json:"client_version"`
	Events        []events.Envelope `json:"events"`
}

// Rejection is the server's refusal of a single event.
type Rejection struct {
	EventID              uuid.UUID  `json:"event_id"`
	Seq                  int64      `json:"seq"`
	Code                 string     `json:"code,omitempty"`
	Reason               string     `json:"reason"`
	ConflictID           *uuid.UUID `json:"conflict_id,omitempty"`
	ConflictingWith      []string   `json:"conflicting_with,omitempty"`
	RequiresManualReview bool       `json:"requires_manual_review,omitempty"`
}

// SubmitResult carries per-event outcomes. Events absent from both lists
// were not processed and stay pending.
type SubmitResult struct {
	Accepted         []uuid.UUID `json:"accepted"`
	Rejected         []Rejection `json:"rejected"`
	ServerTime       int64       `json:"server_time"`
	LastProcessedSeq int64       `json:"last_processed_seq"`
}

// Transport submits events to the authoritative server. Errors mean the
// server made no decision; business rejections come back in SubmitResult.
type Transport interface {
	SubmitEvents(ctx context.Context, req SubmitRequest) (SubmitResult, error)
}

// PullResult carries events recorded by other devices since a checkpoint.
type PullResult struct {
	Events         []events.Envelope `json:"events"`
	LastServerTime int64             `json:"last_server_time"`
}

// Puller fetches authoritative events the device has not seen yet.
type Puller interface {
	PullEvents(ctx context.Context, deviceID uuid.UUID, since int64) (PullResult, error)
}

// Connectivity reports whether the server is reachable right now.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// ConflictProcessor auto-resolves conflicts right after they are recorded.
type ConflictProcessor interface {
	ProcessPendingConflicts(ctx context.Context) (int, error)
}

// Projector applies authoritative events to the read models.
type Projector interface {
	ApplyEvents(ctx context.Context, batch []events.Event) (int, error)
}
