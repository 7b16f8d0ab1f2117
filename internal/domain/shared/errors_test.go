package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_IsMatchesByCode(t *testing.T) {
	cause := errors.New("extractionPaths is empty")
	err := fmt.Errorf("load extract: %w", ErrInvalidConfiguration.Wrap(cause))

	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "load extract: invalid pipeline configuration: extractionPaths is empty", err.Error())
}

func TestValidateStruct(t *testing.T) {
	type sample struct {
		Name string `validate:"required"`
		Port int    `validate:"min=1"`
	}

	assert.NoError(t, ValidateStruct(sample{Name: "a", Port: 1}))

	err := ValidateStruct(sample{})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), "sample.Name")
	assert.Contains(t, err.Error(), "sample.Port")
}
