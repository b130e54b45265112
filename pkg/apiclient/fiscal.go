package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lacaja/possync/internal/fiscal"
)

const activeRangeMessage = "already has an active range"

// ReserveRange asks the server for a new fiscal lease. A 400 saying the
// device already holds one is reported as fiscal.ErrActiveRangeExists.
func (c *Client) ReserveRange(ctx context.Context, req fiscal.ReserveRequest) (fiscal.Grant, error) {
	var grant fiscal.Grant
	err := c.do(ctx, http.MethodPost, "/fiscal/reserve-range", nil, req, &grant)
	if err != nil {
		if statusErr, ok := statusOf(err); ok && statusErr.Status == http.StatusBadRequest &&
			strings.Contains(strings.ToLower(statusErr.Message), activeRangeMessage) {
			return fiscal.Grant{}, fmt.Errorf("%w: %s", fiscal.ErrActiveRangeExists, statusErr.Message)
		}
		return fiscal.Grant{}, err
	}
	return grant, nil
}

// GetActiveRange returns the lease the server holds for the device, or nil.
func (c *Client) GetActiveRange(ctx context.Context, req fiscal.ReserveRequest) (*fiscal.Grant, error) {
	query := url.Values{}
	query.Set("store_id", req.StoreID.String())
	query.Set("series_id", req.SeriesID)
	query.Set("device_id", req.DeviceID.String())

	var resp struct {
		HasRange bool `json:"has_range"`
		fiscal.Grant
	}
	if err := c.do(ctx, http.MethodGet, "/fiscal/active-range", query, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.HasRange {
		return nil, nil
	}
	grant := resp.Grant
	return &grant, nil
}
