package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/lacaja/possync/internal/syncengine"
	"github.com/lacaja/possync/pkg/db/models"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/events"
)

// conflictCode tags rejections the server filed as conflicts.
const conflictCode = "CONFLICT"

type pushResponse struct {
	Accepted []struct {
		EventID uuid.UUID `json:"event_id"`
		Seq     int64     `json:"seq"`
	} `json:"accepted"`
	Rejected []struct {
		EventID uuid.UUID `json:"event_id"`
		Seq     int64     `json:"seq"`
		Code    string    `json:"code"`
		Message string    `json:"message"`
	} `json:"rejected"`
	Conflicted []struct {
		EventID              uuid.UUID `json:"event_id"`
		Seq                  int64     `json:"seq"`
		ConflictID           string    `json:"conflict_id"`
		Reason               string    `json:"reason"`
		RequiresManualReview bool      `json:"requires_manual_review"`
		ConflictingWith      []string  `json:"conflicting_with"`
	} `json:"conflicted"`
	ServerTime       int64 `json:"server_time"`
	LastProcessedSeq int64 `json:"last_processed_seq"`
}

// SubmitEvents pushes a batch of events. Conflicted events come back as
// rejections carrying the server's conflict id.
func (c *Client) SubmitEvents(ctx context.Context, req syncengine.SubmitRequest) (syncengine.SubmitResult, error) {
	var resp pushResponse
	if err := c.do(ctx, http.MethodPost, "/sync/push", nil, req, &resp); err != nil {
		return syncengine.SubmitResult{}, err
	}

	out := syncengine.SubmitResult{
		Accepted:         make([]uuid.UUID, 0, len(resp.Accepted)),
		Rejected:         make([]syncengine.Rejection, 0, len(resp.Rejected)+len(resp.Conflicted)),
		ServerTime:       resp.ServerTime,
		LastProcessedSeq: resp.LastProcessedSeq,
	}
	for _, a := range resp.Accepted {
		out.Accepted = append(out.Accepted, a.EventID)
	}
	for _, r := range resp.Rejected {
		out.Rejected = append(out.Rejected, syncengine.Rejection{
			EventID: r.EventID,
			Seq:     r.Seq,
			Code:    r.Code,
			Reason:  r.Message,
		})
	}
	for _, r := range resp.Conflicted {
		rej := syncengine.Rejection{
			EventID:              r.EventID,
			Seq:                  r.Seq,
			Code:                 conflictCode,
			Reason:               r.Reason,
			ConflictingWith:      r.ConflictingWith,
			RequiresManualReview: r.RequiresManualReview,
		}
		if id, err := uuid.Parse(r.ConflictID); err == nil {
			rej.ConflictID = &id
		}
		out.Rejected = append(out.Rejected, rej)
	}
	return out, nil
}

// PullEvents fetches events other devices recorded after since. The
// device's own events are excluded by the server.
func (c *Client) PullEvents(ctx context.Context, deviceID uuid.UUID, since int64) (syncengine.PullResult, error) {
	query := url.Values{}
	query.Set("last_checkpoint", strconv.FormatInt(since, 10))
	query.Set("device_id", deviceID.String())

	var resp syncengine.PullResult
	if err := c.do(ctx, http.MethodGet, "/sync/pull", query, nil, &resp); err != nil {
		return syncengine.PullResult{}, err
	}
	if resp.LastServerTime == 0 {
		resp.LastServerTime = since
	}
	return resp, nil
}

// ReportResolution tells the server how a conflict was settled locally.
func (c *Client) ReportResolution(ctx context.Context, conflictID uuid.UUID, resolution enums.ConflictResolution) error {
	body := map[string]string{
		"conflict_id": conflictID.String(),
		"resolution":  string(resolution),
	}
	return c.do(ctx, http.MethodPost, "/sync/resolve-conflict", nil, body, nil)
}

// FetchServerState loads the server's current view of the entity the
// rejected event touched.
func (c *Client) FetchServerState(ctx context.Context, _ models.LocalConflict, env events.Envelope) (json.RawMessage, error) {
	path, err := entityPath(env)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func entityPath(env events.Envelope) (string, error) {
	e, err := env.Event()
	if err != nil {
		return "", err
	}
	switch p := e.Payload.(type) {
	case events.ProductCreated:
		return "/products/" + p.ProductID.String(), nil
	case events.ProductUpdated:
		return "/products/" + p.ProductID.String(), nil
	case events.ProductDeactivated:
		return "/products/" + p.ProductID.String(), nil
	case events.PriceChanged:
		return "/products/" + p.ProductID.String(), nil
	case events.RecipeIngredientsUpdated:
		return "/products/" + p.ProductID.String(), nil
	case events.CustomerCreated:
		return "/customers/" + p.CustomerID.String(), nil
	case events.CustomerUpdated:
		return "/customers/" + p.CustomerID.String(), nil
	case events.DebtCreated:
		return "/debts/" + p.DebtID.String(), nil
	case events.DebtPaymentRecorded:
		return "/debts/" + p.DebtID.String(), nil
	case events.StockDeltaApplied:
		return "/inventory/stock/" + p.ProductID.String(), nil
	case events.StockQuotaGranted:
		return "/inventory/stock/" + p.ProductID.String(), nil
	case events.StockQuotaReclaimed:
		return "/inventory/stock/" + p.ProductID.String(), nil
	case events.SaleCreated:
		return "/sales/" + p.SaleID.String(), nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeNotImplemented, "no server view for event type").
			WithDetails(map[string]any{"type": e.Type})
	}
}
