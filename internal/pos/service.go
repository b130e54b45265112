package pos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lacaja/possync/internal/eventstore"
	"github.com/lacaja/possync/internal/projection"
	"github.com/lacaja/possync/pkg/db/models"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/events"
	"github.com/lacaja/possync/pkg/logger"
)

// FiscalAllocator issues fiscal document numbers for a series.
type FiscalAllocator interface {
	ConsumeNext(ctx context.Context, series string) (int64, error)
}

type ServiceParams struct {
	Store   *eventstore.Store
	Queries *projection.Queries
	Fiscal  FiscalAllocator
	Logger  *logger.Logger
	Now     func() time.Time
}

// Service records business actions as events. Each action is appended to the
// device log, projected, and answered from the read model.
type Service struct {
	store   *eventstore.Store
	queries *projection.Queries
	fiscal  FiscalAllocator
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("event store required")
	}
	if params.Queries == nil {
		return nil, fmt.Errorf("queries required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:   params.Store,
		queries: params.Queries,
		fiscal:  params.Fiscal,
		logg:    logg,
		now:     now,
	}, nil
}

func (s *Service) emit(ctx context.Context, actor events.Actor, payloads ...events.Payload) ([]events.Event, error) {
	batch := make([]events.Event, len(payloads))
	for i, p := range payloads {
		batch[i] = events.New(s.store.StoreID(), s.store.DeviceID(), actor, s.now().UnixMilli(), p)
	}
	return s.store.EnqueueBatch(ctx, batch)
}

func (s *Service) CreateProduct(ctx context.Context, actor events.Actor, in events.ProductCreated) (models.Product, error) {
	if in.ProductID == uuid.Nil {
		in.ProductID = uuid.New()
	}
	if _, err := s.emit(ctx, actor, in); err != nil {
		return models.Product{}, err
	}
	return s.queries.Product(ctx, in.ProductID)
}

func (s *Service) UpdateProduct(ctx context.Context, actor events.Actor, productID uuid.UUID, patch events.ProductPatch) (models.Product, error) {
	if _, err := s.emit(ctx, actor, events.ProductUpdated{ProductID: productID, Patch: patch}); err != nil {
		return models.Product{}, err
	}
	return s.queries.Product(ctx, productID)
}

func (s *Service) DeactivateProduct(ctx context.Context, actor events.Actor, productID uuid.UUID) (models.Product, error) {
	if _, err := s.emit(ctx, actor, events.ProductDeactivated{ProductID: productID}); err != nil {
		return models.Product{}, err
	}
	return s.queries.Product(ctx, productID)
}

func (s *Service) ChangePrice(ctx context.Context, actor events.Actor, in events.PriceChanged) (models.Product, error) {
	if in.Reason == "" {
		in.Reason = "manual"
	}
	if in.EffectiveAt == 0 {
		in.EffectiveAt = s.now().UnixMilli()
	}
	if _, err := s.emit(ctx, actor, in); err != nil {
		return models.Product{}, err
	}
	return s.queries.Product(ctx, in.ProductID)
}

func (s *Service) UpdateRecipe(ctx context.Context, actor events.Actor, productID uuid.UUID, ingredients []events.RecipeIngredient) (models.Product, error) {
	if _, err := s.emit(ctx, actor, events.RecipeIngredientsUpdated{ProductID: productID, Ingredients: ingredients}); err != nil {
		return models.Product{}, err
	}
	return s.queries.Product(ctx, productID)
}

func (s *Service) CreateCustomer(ctx context.Context, actor events.Actor, in events.CustomerCreated) (models.Customer, error) {
	if in.CustomerID == uuid.Nil {
		in.CustomerID = uuid.New()
	}
	if _, err := s.emit(ctx, actor, in); err != nil {
		return models.Customer{}, err
	}
	return s.queries.Customer(ctx, in.CustomerID)
}

func (s *Service) UpdateCustomer(ctx context.Context, actor events.Actor, customerID uuid.UUID, patch events.CustomerPatch) (models.Customer, error) {
	if _, err := s.emit(ctx, actor, events.CustomerUpdated{CustomerID: customerID, Patch: patch}); err != nil {
		return models.Customer{}, err
	}
	return s.queries.Customer(ctx, customerID)
}

func (s *Service) CreateDebt(ctx context.Context, actor events.Actor, in events.DebtCreated) (models.Debt, error) {
	if in.DebtID == uuid.Nil {
		in.DebtID = uuid.New()
	}
	if in.CreatedAt == 0 {
		in.CreatedAt = s.now().UnixMilli()
	}
	if _, err := s.emit(ctx, actor, in); err != nil {
		return models.Debt{}, err
	}
	return s.queries.Debt(ctx, in.DebtID)
}

func (s *Service) RecordDebtPayment(ctx context.Context, actor events.Actor, in events.DebtPaymentRecorded) (models.Debt, error) {
	if in.PaymentID == uuid.Nil {
		in.PaymentID = uuid.New()
	}
	if in.PaidAt == 0 {
		in.PaidAt = s.now().UnixMilli()
	}
	if _, err := s.emit(ctx, actor, in); err != nil {
		return models.Debt{}, err
	}
	return s.queries.Debt(ctx, in.DebtID)
}

func (s *Service) ApplyStockDelta(ctx context.Context, actor events.Actor, in events.StockDeltaApplied) (models.StockLedger, error) {
	if in.MovementID == uuid.Nil {
		in.MovementID = uuid.New()
	}
	if _, err := s.emit(ctx, actor, in); err != nil {
		return models.StockLedger{}, err
	}
	return s.queries.Stock(ctx, in.Key())
}

func (s *Service) GrantEscrow(ctx context.Context, actor events.Actor, in events.StockQuotaGranted) (models.EscrowGrant, error) {
	if in.QuotaID == uuid.Nil {
		in.QuotaID = uuid.New()
	}
	if in.DeviceID == uuid.Nil {
		in.DeviceID = s.store.DeviceID()
	}
	if _, err := s.emit(ctx, actor, in); err != nil {
		return models.EscrowGrant{}, err
	}
	return s.queries.Escrow(ctx, in.Key())
}

// ReclaimEscrow returns nil when the reclaim emptied the grant.
func (s *Service) ReclaimEscrow(ctx context.Context, actor events.Actor, in events.StockQuotaReclaimed) (*models.EscrowGrant, error) {
	if in.DeviceID == uuid.Nil {
		in.DeviceID = s.store.DeviceID()
	}
	if _, err := s.emit(ctx, actor, in); err != nil {
		return nil, err
	}
	row, err := s.queries.Escrow(ctx, in.Key())
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
