package projection

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lacaja/possync/pkg/cache"
	"github.com/lacaja/possync/pkg/db/models"
	"github.com/lacaja/possync/pkg/enums"
	"github.com/lacaja/possync/pkg/events"
)

const defaultLowStockThreshold = 5

// errTargetMissing reports an update whose row is not projected yet. The
// event is left unmarked so a later delivery or a replay applies it.
var errTargetMissing = errors.New("projection target not found")

// handler applies a single event inside the caller's transaction.
type handler struct {
	tx       *gorm.DB
	event    events.Event
	cachedAt int64
}

func (h handler) apply() (cache.Scope, error) {
	switch p := h.event.Payload.(type) {
	case events.ProductCreated:
		return cache.ScopeProducts, h.productCreated(p)
	case events.ProductUpdated:
		return cache.ScopeProducts, h.withProduct(p.ProductID, func(prod *models.Product) { applyProductPatch(prod, p.Patch) })
	case events.ProductDeactivated:
		return cache.ScopeProducts, h.withProduct(p.ProductID, func(prod *models.Product) { prod.IsActive = false })
	case events.PriceChanged:
		return cache.ScopeProducts, h.withProduct(p.ProductID, func(prod *models.Product) {
			prod.PriceBS = p.PriceBS
			prod.PriceUSD = p.PriceUSD
		})
	case events.RecipeIngredientsUpdated:
		return cache.ScopeProducts, h.withProduct(p.ProductID, func(prod *models.Product) {
			prod.Ingredients = recipeLines(p.Ingredients)
		})
	case events.CustomerCreated:
		return cache.ScopeCustomers, h.customerCreated(p)
	case events.CustomerUpdated:
		return cache.ScopeCustomers, h.customerUpdated(p)
	case events.DebtCreated:
		return cache.ScopeDebts, h.debtCreated(p)
	case events.DebtPaymentRecorded:
		return cache.ScopeDebts, h.debtPayment(p)
	case events.StockDeltaApplied:
		return cache.ScopeStock, h.addStock(p.Key(), p.QtyDelta)
	case events.StockQuotaGranted:
		return cache.ScopeEscrow, h.grantEscrow(p)
	case events.StockQuotaReclaimed:
		return cache.ScopeEscrow, h.reclaimEscrow(p)
	case events.SaleCreated:
		return cache.ScopeStock, h.saleCreated(p)
	default:
		return "", fmt.Errorf("no projection for payload %T", h.event.Payload)
	}
}

func (h handler) productCreated(p events.ProductCreated) error {
	threshold := p.LowStockThreshold
	if threshold == 0 {
		threshold = defaultLowStockThreshold
	}
	productType := p.ProductType
	if productType == "" {
		productType = enums.ProductTypeSaleItem
		if p.IsRecipe {
			productType = enums.ProductTypePrepared
		}
	}
	row := models.Product{
		ID:                p.ProductID,
		StoreID:           h.event.StoreID,
		Name:              p.Name,
		Category:          optional(p.Category),
		SKU:               optional(p.SKU),
		Barcode:           optional(p.Barcode),
		PriceBS:           p.PriceBS,
		PriceUSD:          p.PriceUSD,
		CostBS:            p.CostBS,
		CostUSD:           p.CostUSD,
		LowStockThreshold: threshold,
		IsActive:          p.IsActive,
		Description:       optional(p.Description),
		ImageURL:          optional(p.ImageURL),
		IsRecipe:          p.IsRecipe,
		ProfitMargin:      p.ProfitMargin,
		ProductType:       productType,
		IsVisiblePublic:   p.IsVisiblePublic,
		PublicName:        optional(p.PublicName),
		PublicCategory:    optional(p.PublicCategory),
		LastEventID:       h.event.EventID,
		LastEventAt:       h.event.CreatedAt,
		CachedAt:          h.cachedAt,
	}
	return h.upsert(&row)
}

// withProduct loads the product and saves it after mutate.
func (h handler) withProduct(id uuid.UUID, mutate func(*models.Product)) error {
	var row models.Product
	if err := h.loadTarget(&row, id); err != nil {
		return err
	}
	mutate(&row)
	row.LastEventID = h.event.EventID
	row.LastEventAt = h.event.CreatedAt
	row.CachedAt = h.cachedAt
	return h.tx.Save(&row).Error
}

func applyProductPatch(row *models.Product, patch events.ProductPatch) {
	if patch.Name != nil {
		row.Name = *patch.Name
	}
	if patch.Category != nil {
		row.Category = optional(*patch.Category)
	}
	if patch.SKU != nil {
		row.SKU = optional(*patch.SKU)
	}
	if patch.Barcode != nil {
		row.Barcode = optional(*patch.Barcode)
	}
	if patch.LowStockThreshold != nil {
		row.LowStockThreshold = *patch.LowStockThreshold
	}
	if patch.Description != nil {
		row.Description = optional(*patch.Description)
	}
	if patch.ImageURL != nil {
		row.ImageURL = optional(*patch.ImageURL)
	}
	if patch.IsRecipe != nil {
		row.IsRecipe = *patch.IsRecipe
	}
	if patch.ProfitMargin != nil {
		row.ProfitMargin = *patch.ProfitMargin
	}
	if patch.ProductType != nil {
		row.ProductType = *patch.ProductType
	}
	if patch.IsVisiblePublic != nil {
		row.IsVisiblePublic = *patch.IsVisiblePublic
	}
	if patch.PublicName != nil {
		row.PublicName = optional(*patch.PublicName)
	}
	if patch.PublicCategory != nil {
		row.PublicCategory = optional(*patch.PublicCategory)
	}
}

func recipeLines(in []events.RecipeIngredient) []models.RecipeLine {
	out := make([]models.RecipeLine, 0, len(in))
	for _, ing := range in {
		out = append(out, models.RecipeLine{
			IngredientProductID: ing.IngredientProductID,
			Qty:                 ing.Qty,
			Unit:                ing.Unit,
		})
	}
	return out
}

func (h handler) customerCreated(p events.CustomerCreated) error {
	row := models.Customer{
		ID:          p.CustomerID,
		StoreID:     h.event.StoreID,
		Name:        p.Name,
		DocumentID:  optional(p.DocumentID),
		Email:       optional(p.Email),
		Phone:       optional(p.Phone),
		Note:        optional(p.Note),
		LastEventID: h.event.EventID,
		LastEventAt: h.event.CreatedAt,
		CachedAt:    h.cachedAt,
	}
	if p.CreditLimit != nil {
		row.CreditLimit = decimal.NewNullDecimal(*p.CreditLimit)
	}
	return h.upsert(&row)
}

func (h handler) customerUpdated(p events.CustomerUpdated) error {
	var row models.Customer
	if err := h.loadTarget(&row, p.CustomerID); err != nil {
		return err
	}
	patch := p.Patch
	if patch.Name != nil {
		row.Name = *patch.Name
	}
	if patch.DocumentID != nil {
		row.DocumentID = optional(*patch.DocumentID)
	}
	if patch.Email != nil {
		row.Email = optional(*patch.Email)
	}
	if patch.Phone != nil {
		row.Phone = optional(*patch.Phone)
	}
	if patch.CreditLimit != nil {
		row.CreditLimit = decimal.NewNullDecimal(*patch.CreditLimit)
	}
	if patch.Note != nil {
		row.Note = optional(*patch.Note)
	}
	row.LastEventID = h.event.EventID
	row.LastEventAt = h.event.CreatedAt
	row.CachedAt = h.cachedAt
	return h.tx.Save(&row).Error
}

func (h handler) debtCreated(p events.DebtCreated) error {
	openedAt := p.CreatedAt
	if openedAt == 0 {
		openedAt = h.event.CreatedAt
	}
	row := models.Debt{
		ID:           p.DebtID,
		StoreID:      h.event.StoreID,
		CustomerID:   p.CustomerID,
		SaleID:       p.SaleID,
		AmountBS:     p.AmountBS,
		AmountUSD:    p.AmountUSD,
		TotalPaidBS:  decimal.Zero,
		TotalPaidUSD: decimal.Zero,
		RemainingBS:  p.AmountBS,
		RemainingUSD: p.AmountUSD,
		Status:       enums.DebtStatusOpen,
		OpenedAt:     openedAt,
		Note:         optional(p.Note),
		LastEventID:  h.event.EventID,
		LastEventAt:  h.event.CreatedAt,
		CachedAt:     h.cachedAt,
	}
	return h.upsert(&row)
}

func (h handler) debtPayment(p events.DebtPaymentRecorded) error {
	var row models.Debt
	if err := h.loadTarget(&row, p.DebtID); err != nil {
		return err
	}
	ApplyDebtPayment(&row, p.AmountBS, p.AmountUSD)
	row.LastEventID = h.event.EventID
	row.LastEventAt = h.event.CreatedAt
	row.CachedAt = h.cachedAt
	return h.tx.Save(&row).Error
}

// addStock adds delta to the running total, creating the row from delta
// when the key is new.
func (h handler) addStock(key events.StockKey, delta decimal.Decimal) error {
	var row models.StockLedger
	found, err := h.load(&row, "product_id = ? AND variant_id = ?", key.ProductID, key.VariantID)
	if err != nil {
		return err
	}
	if !found {
		row = models.StockLedger{
			ProductID: key.ProductID,
			VariantID: key.VariantID,
			StoreID:   h.event.StoreID,
			Stock:     decimal.Zero,
		}
	}
	row.Stock = row.Stock.Add(delta)
	row.LastEventAt = maxInt64(row.LastEventAt, h.event.CreatedAt)
	return h.upsert(&row)
}

func (h handler) saleCreated(p events.SaleCreated) error {
	for _, item := range p.Items {
		if err := h.addStock(item.Key(), item.Qty.Neg()); err != nil {
			return err
		}
	}
	return nil
}

func (h handler) grantEscrow(p events.StockQuotaGranted) error {
	key := p.Key()
	var row models.EscrowGrant
	found, err := h.load(&row, "product_id = ? AND variant_id = ?", key.ProductID, key.VariantID)
	if err != nil {
		return err
	}
	if !found {
		row = models.EscrowGrant{
			ProductID:  key.ProductID,
			VariantID:  key.VariantID,
			StoreID:    h.event.StoreID,
			QtyGranted: decimal.Zero,
		}
	}
	row.QtyGranted = row.QtyGranted.Add(p.QtyGranted)
	if p.ExpiresAt > 0 {
		row.ExpiresAt = p.ExpiresAt
	}
	row.LastEventAt = maxInt64(row.LastEventAt, h.event.CreatedAt)
	return h.upsert(&row)
}

// reclaimEscrow subtracts the reclaimed quantity and drops the grant once
// nothing remains. A zero quantity reclaims the whole grant.
func (h handler) reclaimEscrow(p events.StockQuotaReclaimed) error {
	key := p.Key()
	var row models.EscrowGrant
	found, err := h.load(&row, "product_id = ? AND variant_id = ?", key.ProductID, key.VariantID)
	if err != nil || !found {
		return err
	}
	remaining := row.QtyGranted.Sub(p.QtyReclaimed)
	if p.QtyReclaimed.IsZero() || !remaining.IsPositive() {
		return h.tx.Delete(&models.EscrowGrant{}, "product_id = ? AND variant_id = ?", key.ProductID, key.VariantID).Error
	}
	row.QtyGranted = remaining
	row.LastEventAt = maxInt64(row.LastEventAt, h.event.CreatedAt)
	return h.upsert(&row)
}

// upsert writes a row keyed by its primary key. Composite keys may hold
// uuid.Nil, which Save would treat as unset.
func (h handler) upsert(row any) error {
	return h.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

func (h handler) load(dest any, query string, args ...any) (bool, error) {
	err := h.tx.Where(query, args...).Take(dest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// loadTarget loads the row an update event applies to.
func (h handler) loadTarget(dest any, id uuid.UUID) error {
	found, err := h.load(dest, "id = ?", id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", errTargetMissing, id)
	}
	return nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
