// Package validate adapts go-playground/validator to echo and to the ledger's
// error taxonomy.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hms/ledger/internal/platform/apperr"
)

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		d, ok := parseDecimal(fl.Field())
		return ok && !d.IsNegative() && IsMoney(d)
	})
	v.RegisterValidation("positive_money", func(fl validator.FieldLevel) bool {
		d, ok := parseDecimal(fl.Field())
		return ok && d.IsPositive() && IsMoney(d)
	})

	return &Validator{v: v}
}

// Validate runs struct tags on i. Failures come back as an apperr validation
// error naming the first offending field.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return apperr.Validation("", "invalid request: %v", err)
	}
	first := ve[0]
	return apperr.Validation(first.Field(), "%s", describe(first))
}

// Largest values the NUMERIC(12,2) money columns and the NUMERIC(10,2)
// distance column hold.
var (
	MaxAmount   = decimal.RequireFromString("9999999999.99")
	MaxDistance = decimal.RequireFromString("99999999.99")
)

// IsMoney reports whether d has at most two decimal places and fits a money
// column.
func IsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(2)) && d.Abs().LessThanOrEqual(MaxAmount)
}

// IsDistance is IsMoney for kilometre values.
func IsDistance(d decimal.Decimal) bool {
	return d.Equal(d.Round(2)) && d.Abs().LessThanOrEqual(MaxDistance)
}

func parseDecimal(v reflect.Value) (decimal.Decimal, bool) {
	if v.Kind() != reflect.String {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(v.String())
	return d, err == nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must be a date formatted as " + fe.Param()
	case "money":
		return "must be a non-negative amount with at most 2 decimal places, up to " + MaxAmount.String()
	case "positive_money":
		return "must be a positive amount with at most 2 decimal places, up to " + MaxAmount.String()
	case "uuid":
		return "must be a UUID"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
