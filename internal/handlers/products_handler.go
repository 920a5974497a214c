package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"catalog-service/internal/models"
	"catalog-service/internal/notify"
	"catalog-service/internal/repository"
)

type ProductsHandler struct {
	repo            *repository.ProductsRepository
	notifier        *notify.Notifier
	defaultPageSize int
	maxPageSize     int
	logger          *logrus.Entry
}

func NewProductsHandler(repo *repository.ProductsRepository, notifier *notify.Notifier, defaultPageSize, maxPageSize int, logger *logrus.Logger) *ProductsHandler {
	return &ProductsHandler{
		repo:            repo,
		notifier:        notifier,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		logger:          logger.WithField("component", "products-handler"),
	}
}

// CreateProduct creates a single product.
// POST /api/v1/products
func (h *ProductsHandler) CreateProduct(c *gin.Context) {
	var req models.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "VALIDATION_ERROR",
				Message: err.Error(),
			},
		})
		return
	}

	if req.Price != nil && *req.Price < 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "VALIDATION_ERROR",
				Message: "Price must be non-negative",
				Field:   "price",
			},
		})
		return
	}

	sku := models.FoldSKU(req.SKU)
	if sku == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "VALIDATION_ERROR",
				Message: "SKU must not be blank",
				Field:   "sku",
			},
		})
		return
	}

	product := &models.Product{
		SKU:         sku,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Active:      true,
	}
	if req.Active != nil {
		product.Active = *req.Active
	}

	if err := h.repo.Create(c.Request.Context(), product); err != nil {
		if errors.Is(err, repository.ErrDuplicateSKU) {
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "DUPLICATE_SKU",
					Message: "A product with this SKU already exists",
					Field:   "sku",
				},
			})
			return
		}
		h.logger.WithError(err).Error("Failed to create product")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "CREATE_FAILED",
				Message: "Failed to create product",
			},
		})
		return
	}

	h.notifier.Notify(c.Request.Context(), models.EventProductCreated, product)
	c.JSON(http.StatusCreated, product)
}

// GetProduct returns one product by SKU, matched case-insensitively.
// GET /api/v1/products/:sku
func (h *ProductsHandler) GetProduct(c *gin.Context) {
	product, err := h.repo.GetBySKU(c.Request.Context(), c.Param("sku"))
	if err != nil {
		h.respondLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// UpdateProduct partially updates a product; absent fields stay unchanged.
// PATCH /api/v1/products/:sku
func (h *ProductsHandler) UpdateProduct(c *gin.Context) {
	var req models.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "VALIDATION_ERROR",
				Message: err.Error(),
			},
		})
		return
	}

	if req.Price != nil && *req.Price < 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "VALIDATION_ERROR",
				Message: "Price must be non-negative",
				Field:   "price",
			},
		})
		return
	}
	if req.Name != nil && *req.Name == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "VALIDATION_ERROR",
				Message: "Name must not be blank",
				Field:   "name",
			},
		})
		return
	}

	product, err := h.repo.Update(c.Request.Context(), c.Param("sku"), &req)
	if err != nil {
		h.respondLookupError(c, err)
		return
	}

	h.notifier.Notify(c.Request.Context(), models.EventProductUpdated, product)
	c.JSON(http.StatusOK, product)
}

// DeleteProduct removes one product by SKU.
// DELETE /api/v1/products/:sku
func (h *ProductsHandler) DeleteProduct(c *gin.Context) {
	product, err := h.repo.Delete(c.Request.Context(), c.Param("sku"))
	if err != nil {
		h.respondLookupError(c, err)
		return
	}

	h.notifier.Notify(c.Request.Context(), models.EventProductDeleted, product)
	c.JSON(http.StatusOK, models.MessageResponse{Message: "Product deleted"})
}

// DeleteAllProducts clears the catalog and reports how many rows went.
// DELETE /api/v1/products
func (h *ProductsHandler) DeleteAllProducts(c *gin.Context) {
	count, err := h.repo.DeleteAll(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to delete products")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "DELETE_FAILED",
				Message: "Failed to delete products",
			},
		})
		return
	}

	h.notifier.Notify(c.Request.Context(), models.EventProductBulkDeleted, gin.H{"deleted": count})
	c.JSON(http.StatusOK, gin.H{"deleted": count})
}

// ListProducts returns a filtered, paginated product listing.
// GET /api/v1/products
func (h *ProductsHandler) ListProducts(c *gin.Context) {
	req := &models.ListProductsRequest{
		Search: c.Query("search"),
	}

	req.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	req.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(h.defaultPageSize)))
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PerPage < 1 {
		req.PerPage = h.defaultPageSize
	}
	if req.PerPage > h.maxPageSize {
		req.PerPage = h.maxPageSize
	}

	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "VALIDATION_ERROR",
					Message: "active must be true or false",
					Field:   "active",
				},
			})
			return
		}
		req.Active = &active
	}

	products, total, err := h.repo.List(c.Request.Context(), req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list products")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "LIST_FAILED",
				Message: "Failed to list products",
			},
		})
		return
	}

	pages := int((total + int64(req.PerPage) - 1) / int64(req.PerPage))
	c.JSON(http.StatusOK, models.ProductListResponse{
		Data:    products,
		Total:   total,
		Page:    req.Page,
		PerPage: req.PerPage,
		Pages:   pages,
	})
}

// GetProductStats returns catalog-level aggregates.
// GET /api/v1/products/stats
func (h *ProductsHandler) GetProductStats(c *gin.Context) {
	stats, err := h.repo.Stats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute product stats")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "STATS_FAILED",
				Message: "Failed to compute product stats",
			},
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ProductsHandler) respondLookupError(c *gin.Context, err error) {
	if repository.IsNotFound(err) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "PRODUCT_NOT_FOUND",
				Message: "Product not found",
			},
		})
		return
	}
	h.logger.WithError(err).Error("Product operation failed")
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Success: false,
		Error: models.Error{
			Code:    "INTERNAL_ERROR",
			Message: "Product operation failed",
		},
	})
}
