package models

import (
	"time"
)

// ImportStatus represents the status of an import job
type ImportStatus string

const (
	ImportStatusQueued              ImportStatus = "queued"
	ImportStatusParsing             ImportStatus = "parsing"
	ImportStatusProcessing          ImportStatus = "processing"
	ImportStatusCompleted           ImportStatus = "completed"
	ImportStatusCompletedWithErrors ImportStatus = "completed_with_errors"
	ImportStatusFailed              ImportStatus = "failed"
	ImportStatusCancelled           ImportStatus = "cancelled"
)

// Terminal reports whether no further pipeline-driven transition can occur
// from this status without an explicit retry.
func (s ImportStatus) Terminal() bool {
	switch s {
	case ImportStatusCompleted, ImportStatusCompletedWithErrors, ImportStatusFailed, ImportStatusCancelled:
		return true
	}
	return false
}

// ImportJob tracks one bulk-import execution tied to one uploaded file.
// During processing it is mutated exclusively through partial progress
// updates keyed by id (see ImportJobsRepository.UpdateProgress), never
// through a long-lived in-memory instance.
type ImportJob struct {
	ID            string       `json:"job_id" gorm:"type:uuid;primaryKey"`
	Status        ImportStatus `json:"status" gorm:"type:varchar(50);not null;default:'queued';index"`
	TotalRows     int          `json:"total_rows" gorm:"not null;default:0"`
	ProcessedRows int          `json:"processed_rows" gorm:"not null;default:0"`
	SuccessCount  int          `json:"success_count" gorm:"not null;default:0"`
	ErrorCount    int          `json:"error_count" gorm:"not null;default:0"`
	ErrorMessage  *string      `json:"error_message,omitempty" gorm:"type:text"`
	FilePath      string       `json:"-" gorm:"size:500;not null"`
	FileName      string       `json:"file_name" gorm:"size:255"`
	FileSizeMB    float64      `json:"file_size_mb"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ImportJobSnapshot is the status view returned to clients
type ImportJobSnapshot struct {
	JobID         string       `json:"job_id"`
	Status        ImportStatus `json:"status"`
	TotalRows     int          `json:"total_rows"`
	ProcessedRows int          `json:"processed_rows"`
	SuccessCount  int          `json:"success_count"`
	ErrorCount    int          `json:"error_count"`
	Progress      int          `json:"progress"`
	ErrorMessage  *string      `json:"error_message,omitempty"`
	FileName      string       `json:"file_name,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Snapshot builds the client-facing view of the job
func (j *ImportJob) Snapshot() ImportJobSnapshot {
	progress := 0
	if j.TotalRows > 0 {
		progress = j.ProcessedRows * 100 / j.TotalRows
	}
	return ImportJobSnapshot{
		JobID:         j.ID,
		Status:        j.Status,
		TotalRows:     j.TotalRows,
		ProcessedRows: j.ProcessedRows,
		SuccessCount:  j.SuccessCount,
		ErrorCount:    j.ErrorCount,
		Progress:      progress,
		ErrorMessage:  j.ErrorMessage,
		FileName:      j.FileName,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

// JobProgressUpdate is a partial update applied atomically to an ImportJob.
// Nil fields are left untouched; updated_at is bumped on every application.
type JobProgressUpdate struct {
	Status        *ImportStatus
	TotalRows     *int
	ProcessedRows *int
	SuccessCount  *int
	ErrorCount    *int
	ErrorMessage  *string
}

// Fields returns the non-nil members as a column map for a single UPDATE.
func (u JobProgressUpdate) Fields() map[string]interface{} {
	fields := map[string]interface{}{}
	if u.Status != nil {
		fields["status"] = *u.Status
	}
	if u.TotalRows != nil {
		fields["total_rows"] = *u.TotalRows
	}
	if u.ProcessedRows != nil {
		fields["processed_rows"] = *u.ProcessedRows
	}
	if u.SuccessCount != nil {
		fields["success_count"] = *u.SuccessCount
	}
	if u.ErrorCount != nil {
		fields["error_count"] = *u.ErrorCount
	}
	if u.ErrorMessage != nil {
		fields["error_message"] = *u.ErrorMessage
	}
	return fields
}

// SubmitImportResponse is returned from the upload endpoint
type SubmitImportResponse struct {
	JobID   string       `json:"job_id"`
	Status  ImportStatus `json:"status"`
	Message string       `json:"message"`
}

// ImportJobListResponse is a paginated job listing
type ImportJobListResponse struct {
	Data    []ImportJobSnapshot `json:"data"`
	Total   int64               `json:"total"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
}

// ImportTemplateColumn defines a column in the import template
type ImportTemplateColumn struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Type        string `json:"type"`
	Example     string `json:"example"`
}

// ImportTemplate defines the structure of an import template
type ImportTemplate struct {
	Entity  string                 `json:"entity"`
	Version string                 `json:"version"`
	Columns []ImportTemplateColumn `json:"columns"`
}

// ProductImportColumns returns the column definitions for product import
func ProductImportColumns() []ImportTemplateColumn {
	return []ImportTemplateColumn{
		{Name: "sku", Description: "Unique product SKU (case-insensitive)", Required: true, Type: "string", Example: "TSH-BLU-001"},
		{Name: "name", Description: "Product name", Required: true, Type: "string", Example: "Blue Cotton T-Shirt"},
		{Name: "price", Description: "Product price, non-negative", Required: true, Type: "number", Example: "29.99"},
		{Name: "description", Description: "Product description", Required: false, Type: "string", Example: ""},
		{Name: "active", Description: "true/1/yes/y/active, defaults to true", Required: false, Type: "boolean", Example: "true"},
	}
}

// ProductImportTemplate returns the template definition for products
func ProductImportTemplate() ImportTemplate {
	return ImportTemplate{
		Entity:  "products",
		Version: "1.0",
		Columns: ProductImportColumns(),
	}
}
