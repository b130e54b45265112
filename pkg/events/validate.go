package events

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if id, ok := field.Interface().(uuid.UUID); ok {
			if id == uuid.Nil {
				return ""
			}
			return id.String()
		}
		return nil
	}, uuid.UUID{})

	mustRegister(v, "store_role", func(fl validator.FieldLevel) bool {
		return enums.StoreRole(fl.Field().String()).IsValid()
	})
	mustRegister(v, "product_type", func(fl validator.FieldLevel) bool {
		return enums.ProductType(fl.Field().String()).IsValid()
	})
	mustRegister(v, "currency", func(fl validator.FieldLevel) bool {
		return enums.Currency(fl.Field().String()).IsValid()
	})
	mustRegister(v, "payment_method", func(fl validator.FieldLevel) bool {
		return enums.PaymentMethod(fl.Field().String()).IsValid()
	})
	mustRegister(v, "debt_payment_method", func(fl validator.FieldLevel) bool {
		return enums.PaymentMethod(fl.Field().String()).SettlesDebt()
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

type header struct {
	EventID   uuid.UUID       `json:"event_id" validate:"required"`
	StoreID   uuid.UUID       `json:"store_id" validate:"required"`
	DeviceID  uuid.UUID       `json:"device_id" validate:"required"`
	Seq       int64           `json:"seq" validate:"gte=0"`
	Type      enums.EventType `json:"type" validate:"required"`
	Version   int             `json:"version" validate:"gte=1"`
	CreatedAt int64           `json:"created_at" validate:"gt=0"`
	Actor     Actor           `json:"actor"`
}

// Validate checks the envelope header and the typed payload. Seq zero is
// accepted and means "not yet sequenced".
func Validate(e Event) error {
	if e.Payload == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event payload is required")
	}
	if !e.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown event type %q", e.Type))
	}
	if e.Type.Canonical() != e.Payload.EventType() {
		return pkgerrors.New(pkgerrors.CodeValidation, "event type does not match payload").
			WithDetails(map[string]any{"type": e.Type, "payload_type": e.Payload.EventType()})
	}
	h := header{
		EventID:   e.EventID,
		StoreID:   e.StoreID,
		DeviceID:  e.DeviceID,
		Seq:       e.Seq,
		Type:      e.Type,
		Version:   e.Version,
		CreatedAt: e.CreatedAt,
		Actor:     e.Actor,
	}
	if err := validate.Struct(h); err != nil {
		return formatValidationErrors(err)
	}
	return ValidatePayload(e.Payload)
}

// ValidatePayload runs struct-tag validation on a payload.
func ValidatePayload(p Payload) error {
	if p == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event payload is required")
	}
	if err := validate.Struct(p); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Namespace()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "event validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "event validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "ne":
		return fmt.Sprintf("must not equal %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	}
	return "is invalid"
}
