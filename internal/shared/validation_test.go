package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateStructFoldsFieldErrors(t *testing.T) {
	type input struct {
		TenantID int64  `validate:"required,gt=0"`
		Label    string `validate:"required,max=5"`
	}
	err := ValidateStruct(input{Label: "too long label"})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrValidation))
	require.Contains(t, err.Error(), "TenantID is required")
	require.Contains(t, err.Error(), "Label must satisfy max=5")

	require.NoError(t, ValidateStruct(input{TenantID: 1, Label: "ok"}))
}
