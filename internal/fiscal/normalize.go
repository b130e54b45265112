package fiscal

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lacaja/possync/pkg/db/models"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
)

// NormalizeGrant validates a server grant and turns it into a local lease.
// Missing identity fields fall back to the requesting device; the used_up_to
// hint is clamped into [range_start-1, range_end].
func NormalizeGrant(req ReserveRequest, g Grant, now time.Time) (models.FiscalRange, error) {
	if g.RangeStart == nil || g.RangeEnd == nil || *g.RangeEnd < *g.RangeStart {
		return models.FiscalRange{}, malformed("range_start/range_end", g)
	}
	start, end := *g.RangeStart, *g.RangeEnd

	expiresAt, err := parseTimestamp(g.ExpiresAt)
	if err != nil {
		return models.FiscalRange{}, malformed("expires_at", g)
	}
	grantedAt := now
	if strings.TrimSpace(g.GrantedAt) != "" {
		if ts, err := parseTimestamp(g.GrantedAt); err == nil {
			grantedAt = ts
		}
	}

	storeID, err := resolveID(g.StoreID, req.StoreID)
	if err != nil {
		return models.FiscalRange{}, malformed("store_id", g)
	}
	deviceID, err := resolveID(g.DeviceID, req.DeviceID)
	if err != nil {
		return models.FiscalRange{}, malformed("device_id", g)
	}
	seriesID := strings.TrimSpace(g.SeriesID)
	if seriesID == "" {
		seriesID = req.SeriesID
	}

	usedUpTo := start - 1
	if g.UsedUpTo != nil {
		usedUpTo = min(max(*g.UsedUpTo, start-1), end)
	}

	status := enums.FiscalRangeActive
	if s, err := enums.ParseFiscalRangeStatus(g.Status); err == nil {
		status = s
	}

	id := strings.TrimSpace(g.ID)
	if id == "" {
		id = fmt.Sprintf("local-%s-%s-%s-%d-%d", storeID, seriesID, deviceID, start, end)
	}

	return models.FiscalRange{
		ID:         id,
		StoreID:    storeID,
		SeriesID:   seriesID,
		DeviceID:   deviceID,
		RangeStart: start,
		RangeEnd:   end,
		UsedUpTo:   usedUpTo,
		Status:     status,
		GrantedAt:  grantedAt.UnixMilli(),
		ExpiresAt:  expiresAt.UnixMilli(),
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
}

func resolveID(raw string, fallback uuid.UUID) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return uuid.Parse(strings.TrimSpace(raw))
}

func malformed(field string, g Grant) error {
	return pkgerrors.New(pkgerrors.CodeMalformedResponse, "invalid fiscal range response ("+field+")").
		WithDetails(map[string]any{"field": field, "range_id": g.ID})
}
