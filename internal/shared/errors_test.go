package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

func TestErrorKindMatching(t *testing.T) {
	base := NewError(httpx.ErrCapacity, "racks: insufficient space")
	err := fmt.Errorf("reserve: %w", base.With("available", 20).With("requested", 25))

	require.True(t, errors.Is(err, httpx.ErrCapacity))
	require.False(t, errors.Is(err, httpx.ErrNotFound))

	var domainErr *Error
	require.True(t, errors.As(err, &domainErr))
	require.Equal(t, map[string]any{"available": 20, "requested": 25}, domainErr.ProblemDetails())
	require.Nil(t, base.Details, "With must not mutate the sentinel")
	require.ErrorIs(t, err, base)
	require.NotErrorIs(t, err, NewError(httpx.ErrCapacity, "racks: zone full"))
}

func TestErrorWrapKeepsCause(t *testing.T) {
	cause := errors.New("pg down")
	err := NotFound("purchasing: purchase not found").Wrap(cause)
	require.True(t, errors.Is(err, cause))
	require.True(t, errors.Is(err, httpx.ErrNotFound))
	require.Equal(t, "purchasing: purchase not found: pg down", err.Error())
}

func TestValidateStruct(t *testing.T) {
	type line struct {
		Quantity int64 `json:"quantity" validate:"gt=0"`
	}
	type payload struct {
		Vendor int64  `validate:"required"`
		Items  []line `validate:"required,min=1,dive"`
	}
	v := validator.New()

	require.NoError(t, ValidateStruct(v, payload{Vendor: 1, Items: []line{{Quantity: 2}}}))

	err := ValidateStruct(v, payload{Items: []line{{Quantity: 0}}})
	require.ErrorIs(t, err, httpx.ErrValidation)
	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, "required", domainErr.Details["Vendor"])
	require.Equal(t, "gt", domainErr.Details["Items[0].Quantity"])
}
