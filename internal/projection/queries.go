package projection

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lacaja/possync/pkg/cache"
	"github.com/lacaja/possync/pkg/db"
	"github.com/lacaja/possync/pkg/db/models"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/events"
)

// Queries reads projected state through the scope cache.
type Queries struct {
	db    *gorm.DB
	cache *cache.Cache
}

func NewQueries(client *db.Client, c *cache.Cache) *Queries {
	return &Queries{db: client.DB(), cache: c}
}

func (q *Queries) Product(ctx context.Context, id uuid.UUID) (models.Product, error) {
	return cache.Load(ctx, q.cache, cache.ScopeProducts, "product:"+id.String(), func(ctx context.Context) (models.Product, error) {
		var row models.Product
		err := q.take(ctx, &row, "product", "id = ?", id)
		return row, err
	})
}

// ActiveProducts lists sellable products by name.
func (q *Queries) ActiveProducts(ctx context.Context, storeID uuid.UUID) ([]models.Product, error) {
	return cache.Load(ctx, q.cache, cache.ScopeProducts, "active:"+storeID.String(), func(ctx context.Context) ([]models.Product, error) {
		var rows []models.Product
		err := q.db.WithContext(ctx).
			Where("store_id = ? AND is_active = ?", storeID, true).
			Order("name ASC").
			Find(&rows).Error
		return rows, err
	})
}

func (q *Queries) Customer(ctx context.Context, id uuid.UUID) (models.Customer, error) {
	return cache.Load(ctx, q.cache, cache.ScopeCustomers, "customer:"+id.String(), func(ctx context.Context) (models.Customer, error) {
		var row models.Customer
		err := q.take(ctx, &row, "customer", "id = ?", id)
		return row, err
	})
}

func (q *Queries) Debt(ctx context.Context, id uuid.UUID) (models.Debt, error) {
	return cache.Load(ctx, q.cache, cache.ScopeDebts, "debt:"+id.String(), func(ctx context.Context) (models.Debt, error) {
		var row models.Debt
		err := q.take(ctx, &row, "debt", "id = ?", id)
		return row, err
	})
}

// OpenDebts lists a customer's unpaid debts, oldest first.
func (q *Queries) OpenDebts(ctx context.Context, customerID uuid.UUID) ([]models.Debt, error) {
	return cache.Load(ctx, q.cache, cache.ScopeDebts, "open:"+customerID.String(), func(ctx context.Context) ([]models.Debt, error) {
		var rows []models.Debt
		err := q.db.WithContext(ctx).
			Where("customer_id = ? AND status <> ?", customerID, enums.DebtStatusPaid).
			Order("created_at ASC").
			Find(&rows).Error
		return rows, err
	})
}

func (q *Queries) Stock(ctx context.Context, key events.StockKey) (models.StockLedger, error) {
	return cache.Load(ctx, q.cache, cache.ScopeStock, key.String(), func(ctx context.Context) (models.StockLedger, error) {
		var row models.StockLedger
		err := q.take(ctx, &row, "stock", "product_id = ? AND variant_id = ?", key.ProductID, key.VariantID)
		return row, err
	})
}

func (q *Queries) Escrow(ctx context.Context, key events.StockKey) (models.EscrowGrant, error) {
	return cache.Load(ctx, q.cache, cache.ScopeEscrow, key.String(), func(ctx context.Context) (models.EscrowGrant, error) {
		var row models.EscrowGrant
		err := q.take(ctx, &row, "escrow grant", "product_id = ? AND variant_id = ?", key.ProductID, key.VariantID)
		return row, err
	})
}

func (q *Queries) take(ctx context.Context, dest any, entity, query string, args ...any) error {
	err := q.db.WithContext(ctx).Where(query, args...).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, entity+" not found")
	}
	return err
}
