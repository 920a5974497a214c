package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Product represents a catalog product. SKUs are unique case-insensitively;
// the store enforces this with a unique index on LOWER(sku), application-side
// folding is an optimization on top of that constraint.
type Product struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	SKU         string    `json:"sku" gorm:"not null;size:255"`
	Name        string    `json:"name" gorm:"not null;size:255"`
	Description *string   `json:"description,omitempty"`
	Price       *float64  `json:"price,omitempty"`
	Active      bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FoldSKU normalizes a SKU to its canonical case-folded form.
func FoldSKU(sku string) string {
	return strings.ToLower(strings.TrimSpace(sku))
}

// CreateProductRequest is the payload for creating a product
type CreateProductRequest struct {
	SKU         string   `json:"sku" binding:"required"`
	Name        string   `json:"name" binding:"required"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Active      *bool    `json:"active"`
}

// UpdateProductRequest is the payload for updating a product; nil fields are
// left unchanged
type UpdateProductRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Active      *bool    `json:"active"`
}

// ListProductsRequest carries list/search parameters
type ListProductsRequest struct {
	Page    int
	PerPage int
	Search  string
	Active  *bool
}

// ProductListResponse is a paginated product listing
type ProductListResponse struct {
	Data    []Product `json:"data"`
	Total   int64     `json:"total"`
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
	Pages   int       `json:"pages"`
}

// ProductStats summarizes the catalog
type ProductStats struct {
	TotalProducts  int64   `json:"total_products"`
	ActiveProducts int64   `json:"active_products"`
	AveragePrice   float64 `json:"average_price"`
}
