package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, isUniqueViolation(fmt.Errorf("create product: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, isUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint "uq_products_sku_lower" (SQLSTATE 23505)`)))
	assert.False(t, isUniqueViolation(errors.New("connection refused")))
	assert.False(t, isUniqueViolation(gorm.ErrRecordNotFound))
}
