package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"catalog-service/internal/models"
)

// Cache TTL constants
const (
	ProductStatsCacheTTL = 60 * time.Second
	productStatsCacheKey = "catalog:products:stats"
)

// ErrDuplicateSKU is returned when a create collides with an existing
// case-folded SKU.
var ErrDuplicateSKU = errors.New("sku already exists (case-insensitive)")

type ProductsRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewProductsRepository(db *gorm.DB, redisClient *redis.Client) *ProductsRepository {
	return &ProductsRepository{
		db:    db,
		redis: redisClient,
	}
}

// invalidateStatsCache drops the cached catalog stats after any write
func (r *ProductsRepository) invalidateStatsCache(ctx context.Context) {
	if r.redis == nil {
		return
	}
	_ = r.redis.Del(ctx, productStatsCacheKey).Err()
}

// Create inserts a new product; the SKU is stored case-folded
func (r *ProductsRepository) Create(ctx context.Context, product *models.Product) error {
	product.SKU = models.FoldSKU(product.SKU)
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	product.CreatedAt = time.Now()
	product.UpdatedAt = time.Now()

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("LOWER(sku) = ?", product.SKU).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateSKU
	}

	if err := r.db.WithContext(ctx).Create(product).Error; err != nil {
		// A concurrent create can slip past the pre-check and trip the
		// LOWER(sku) unique index on insert.
		if isUniqueViolation(err) {
			return ErrDuplicateSKU
		}
		return err
	}
	r.invalidateStatsCache(ctx)
	return nil
}

// isUniqueViolation reports whether err came from a unique index conflict.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "SQLSTATE 23505")
}

// GetBySKU retrieves a product by case-folded SKU
func (r *ProductsRepository) GetBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Where("LOWER(sku) = ?", models.FoldSKU(sku)).
		First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// Update applies a partial update to the product identified by SKU
func (r *ProductsRepository) Update(ctx context.Context, sku string, req *models.UpdateProductRequest) (*models.Product, error) {
	product, err := r.GetBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Price != nil {
		updates["price"] = *req.Price
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}

	if err := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", product.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	r.invalidateStatsCache(ctx)
	return r.GetBySKU(ctx, sku)
}

// Delete removes a product by case-folded SKU
func (r *ProductsRepository) Delete(ctx context.Context, sku string) (*models.Product, error) {
	product, err := r.GetBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Delete(&models.Product{}, "id = ?", product.ID).Error; err != nil {
		return nil, err
	}
	r.invalidateStatsCache(ctx)
	return product, nil
}

// DeleteAll removes every product and returns the deleted count
func (r *ProductsRepository) DeleteAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.Product{})
	if res.Error != nil {
		return 0, res.Error
	}
	r.invalidateStatsCache(ctx)
	return res.RowsAffected, nil
}

// List retrieves products with search, active filter and pagination
func (r *ProductsRepository) List(ctx context.Context, req *models.ListProductsRequest) ([]models.Product, int64, error) {
	var products []models.Product
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Product{})

	if req.Active != nil {
		query = query.Where("active = ?", *req.Active)
	}
	if req.Search != "" {
		pattern := "%" + req.Search + "%"
		query = query.Where(
			"sku ILIKE ? OR name ILIKE ? OR description ILIKE ?",
			pattern, pattern, pattern,
		)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (req.Page - 1) * req.PerPage
	if err := query.Order("created_at DESC").
		Offset(offset).Limit(req.PerPage).
		Find(&products).Error; err != nil {
		return nil, 0, err
	}

	return products, total, nil
}

// Stats returns catalog-wide aggregates, cached briefly in Redis
func (r *ProductsRepository) Stats(ctx context.Context) (*models.ProductStats, error) {
	if r.redis != nil {
		if val, err := r.redis.Get(ctx, productStatsCacheKey).Result(); err == nil {
			var stats models.ProductStats
			if err := json.Unmarshal([]byte(val), &stats); err == nil {
				return &stats, nil
			}
		}
	}

	var stats models.ProductStats
	if err := r.db.WithContext(ctx).Model(&models.Product{}).Count(&stats.TotalProducts).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("active = ?", true).Count(&stats.ActiveProducts).Error; err != nil {
		return nil, err
	}
	var avg *float64
	if err := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("price IS NOT NULL").
		Select("AVG(price)").Scan(&avg).Error; err != nil {
		return nil, err
	}
	if avg != nil {
		stats.AveragePrice = *avg
	}

	if r.redis != nil {
		if data, err := json.Marshal(stats); err == nil {
			r.redis.Set(ctx, productStatsCacheKey, data, ProductStatsCacheTTL)
		}
	}
	return &stats, nil
}

// SKUIndex loads the full case-folded SKU -> id mapping in one query. Used by
// the import pipeline to resolve create-vs-update without per-row lookups;
// assumes no concurrent external writers to the same SKU space during a run.
func (r *ProductsRepository) SKUIndex(ctx context.Context) (map[string]uuid.UUID, error) {
	rows, err := r.db.WithContext(ctx).Model(&models.Product{}).
		Select("LOWER(sku), id").Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to load sku index: %w", err)
	}
	defer rows.Close()

	index := make(map[string]uuid.UUID)
	for rows.Next() {
		var sku string
		var id uuid.UUID
		if err := rows.Scan(&sku, &id); err != nil {
			return nil, fmt.Errorf("failed to scan sku index row: %w", err)
		}
		index[sku] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sku index: %w", err)
	}
	return index, nil
}

// ApplyBatch writes one import batch in a single transaction. The batch is
// all-or-nothing: any failure rolls the whole batch back and surfaces as an
// error, batches committed earlier stay committed.
func (r *ProductsRepository) ApplyBatch(ctx context.Context, creates []*models.Product, updates []*models.Product) error {
	if len(creates) == 0 && len(updates) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(creates) > 0 {
			if err := tx.CreateInBatches(creates, 500).Error; err != nil {
				return fmt.Errorf("batch insert failed: %w", err)
			}
		}
		for _, product := range updates {
			if err := tx.Model(&models.Product{}).
				Where("id = ?", product.ID).
				Updates(map[string]interface{}{
					"name":        product.Name,
					"description": product.Description,
					"price":       product.Price,
					"active":      product.Active,
					"updated_at":  product.UpdatedAt,
				}).Error; err != nil {
				return fmt.Errorf("batch update failed for sku %s: %w", product.SKU, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.invalidateStatsCache(ctx)
	return nil
}
