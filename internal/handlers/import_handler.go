package handlers

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"catalog-service/internal/importer"
	"catalog-service/internal/models"
	"catalog-service/internal/repository"
)

// ImportJobStore is the handler's view of import job persistence.
type ImportJobStore interface {
	Create(ctx context.Context, job *models.ImportJob) error
	GetByID(ctx context.Context, id string) (*models.ImportJob, error)
	List(ctx context.Context, page, perPage int) ([]models.ImportJob, int64, error)
	UpdateProgress(ctx context.Context, id string, upd models.JobProgressUpdate) error
	ResetForRetry(ctx context.Context, id string) error
}

// ImportQueue hands admitted jobs to the background workers.
type ImportQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

type ImportHandler struct {
	jobs            ImportJobStore
	queue           ImportQueue
	uploadDir       string
	maxUploadSizeMB int
	defaultPageSize int
	maxPageSize     int
	logger          *logrus.Entry
}

func NewImportHandler(jobs ImportJobStore, queue ImportQueue, uploadDir string, maxUploadSizeMB, defaultPageSize, maxPageSize int, logger *logrus.Logger) *ImportHandler {
	return &ImportHandler{
		jobs:            jobs,
		queue:           queue,
		uploadDir:       uploadDir,
		maxUploadSizeMB: maxUploadSizeMB,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		logger:          logger.WithField("component", "import-handler"),
	}
}

// SubmitImport accepts a CSV or XLSX upload and admits it as a background
// import job. Structurally invalid files still get a job record, created
// directly in failed state, so the client can inspect the reason later.
// POST /api/v1/products/import
func (h *ImportHandler) SubmitImport(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "FILE_REQUIRED",
				Message: "Please upload a CSV or Excel file",
			},
		})
		return
	}
	file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".csv" && ext != ".xlsx" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "INVALID_FORMAT",
				Message: "Only CSV and XLSX files are supported",
			},
		})
		return
	}

	maxBytes := int64(h.maxUploadSizeMB) << 20
	if header.Size > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "FILE_TOO_LARGE",
				Message: fmt.Sprintf("File exceeds the %dMB upload limit", h.maxUploadSizeMB),
			},
		})
		return
	}

	jobID := uuid.New().String()
	path := filepath.Join(h.uploadDir, jobID+ext)
	if err := c.SaveUploadedFile(header, path); err != nil {
		h.logger.WithError(err).Error("Failed to store uploaded file")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "UPLOAD_FAILED",
				Message: "Failed to store uploaded file",
			},
		})
		return
	}

	job := &models.ImportJob{
		ID:         jobID,
		Status:     models.ImportStatusQueued,
		FilePath:   path,
		FileName:   header.Filename,
		FileSizeMB: float64(header.Size) / (1 << 20),
	}

	if valid, message := importer.ValidateStructure(path); !valid {
		job.Status = models.ImportStatusFailed
		job.ErrorMessage = &message
		os.Remove(path)
		if err := h.jobs.Create(c.Request.Context(), job); err != nil {
			h.logger.WithError(err).Error("Failed to record rejected import job")
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "JOB_CREATE_FAILED",
					Message: "Failed to create import job",
				},
			})
			return
		}
		h.logger.WithFields(logrus.Fields{
			"jobID":  jobID,
			"reason": message,
		}).Info("Import rejected at admission")
		c.JSON(http.StatusBadRequest, models.SubmitImportResponse{
			JobID:   jobID,
			Status:  models.ImportStatusFailed,
			Message: message,
		})
		return
	}

	if err := h.jobs.Create(c.Request.Context(), job); err != nil {
		h.logger.WithError(err).Error("Failed to create import job")
		os.Remove(path)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "JOB_CREATE_FAILED",
				Message: "Failed to create import job",
			},
		})
		return
	}

	if err := h.queue.Enqueue(c.Request.Context(), jobID); err != nil {
		h.logger.WithError(err).WithField("jobID", jobID).Error("Failed to enqueue import job")
		status := models.ImportStatusFailed
		msg := "failed to enqueue job"
		h.jobs.UpdateProgress(c.Request.Context(), jobID, models.JobProgressUpdate{
			Status:       &status,
			ErrorMessage: &msg,
		})
		os.Remove(path)
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "QUEUE_UNAVAILABLE",
				Message: "Import queue is unavailable, try again later",
			},
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"jobID":    jobID,
		"fileName": header.Filename,
		"sizeMB":   job.FileSizeMB,
	}).Info("Import job admitted")

	c.JSON(http.StatusAccepted, models.SubmitImportResponse{
		JobID:   jobID,
		Status:  models.ImportStatusQueued,
		Message: "Import queued for processing",
	})
}

// GetImportStatus returns the current snapshot of a job.
// GET /api/v1/products/import/:jobId
func (h *ImportHandler) GetImportStatus(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job.Snapshot())
}

// StreamImportStatus streams job snapshots over SSE until the job reaches
// a terminal state or the client disconnects.
// GET /api/v1/products/import/:jobId/stream
func (h *ImportHandler) StreamImportStatus(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		c.SSEvent("status", job.Snapshot())
		c.Writer.Flush()

		if job.Status.Terminal() {
			return
		}

		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}

		refreshed, err := h.jobs.GetByID(c.Request.Context(), job.ID)
		if err != nil {
			return
		}
		job = refreshed
	}
}

// CancelImport requests cancellation of an in-flight or queued job. The
// worker honors the request at its next poll, so a few more rows may be
// processed before the job actually stops.
// POST /api/v1/products/import/:jobId/cancel
func (h *ImportHandler) CancelImport(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	if job.Status.Terminal() {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "ALREADY_FINISHED",
				Message: "cannot cancel a finished job",
			},
		})
		return
	}

	cancelled := models.ImportStatusCancelled
	if err := h.jobs.UpdateProgress(c.Request.Context(), job.ID, models.JobProgressUpdate{Status: &cancelled}); err != nil {
		h.logger.WithError(err).WithField("jobID", job.ID).Error("Failed to cancel import job")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "CANCEL_FAILED",
				Message: "Failed to cancel import job",
			},
		})
		return
	}

	h.logger.WithField("jobID", job.ID).Info("Import cancellation requested")
	c.JSON(http.StatusOK, models.MessageResponse{Message: "Cancellation requested"})
}

// RetryImport re-queues a failed or cancelled job from scratch. Jobs whose
// uploaded file has already been discarded cannot be retried.
// POST /api/v1/products/import/:jobId/retry
func (h *ImportHandler) RetryImport(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	if job.Status != models.ImportStatusFailed && job.Status != models.ImportStatusCancelled {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "NOT_RETRYABLE",
				Message: "Only failed or cancelled jobs can be retried",
			},
		})
		return
	}

	if _, err := os.Stat(job.FilePath); err != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "FILE_GONE",
				Message: "The uploaded file is no longer available, submit the import again",
			},
		})
		return
	}

	if err := h.jobs.ResetForRetry(c.Request.Context(), job.ID); err != nil {
		h.logger.WithError(err).WithField("jobID", job.ID).Error("Failed to reset import job")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "RETRY_FAILED",
				Message: "Failed to reset import job",
			},
		})
		return
	}

	if err := h.queue.Enqueue(c.Request.Context(), job.ID); err != nil {
		h.logger.WithError(err).WithField("jobID", job.ID).Error("Failed to re-enqueue import job")
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "QUEUE_UNAVAILABLE",
				Message: "Import queue is unavailable, try again later",
			},
		})
		return
	}

	h.logger.WithField("jobID", job.ID).Info("Import job re-queued")
	c.JSON(http.StatusAccepted, models.SubmitImportResponse{
		JobID:   job.ID,
		Status:  models.ImportStatusQueued,
		Message: "Import re-queued for processing",
	})
}

// ListImports returns a page of jobs, newest first.
// GET /api/v1/products/import
func (h *ImportHandler) ListImports(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(h.defaultPageSize)))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = h.defaultPageSize
	}
	if perPage > h.maxPageSize {
		perPage = h.maxPageSize
	}

	jobs, total, err := h.jobs.List(c.Request.Context(), page, perPage)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list import jobs")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "LIST_FAILED",
				Message: "Failed to list import jobs",
			},
		})
		return
	}

	snapshots := make([]models.ImportJobSnapshot, len(jobs))
	for i := range jobs {
		snapshots[i] = jobs[i].Snapshot()
	}

	c.JSON(http.StatusOK, models.ImportJobListResponse{
		Data:    snapshots,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// GetImportTemplate returns the import template definition or file.
// GET /api/v1/products/import/template
func (h *ImportHandler) GetImportTemplate(c *gin.Context) {
	format := c.DefaultQuery("format", "json")

	template := models.ProductImportTemplate()

	switch format {
	case "csv":
		h.generateCSVTemplate(c, template)
	case "xlsx":
		h.generateXLSXTemplate(c, template)
	default:
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"template": template,
		})
	}
}

// generateCSVTemplate generates and downloads a CSV template (headers only)
func (h *ImportHandler) generateCSVTemplate(c *gin.Context, template models.ImportTemplate) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=products_import_template.csv")

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	headers := make([]string, len(template.Columns))
	for i, col := range template.Columns {
		headers[i] = col.Name
	}
	writer.Write(headers)
}

// generateXLSXTemplate generates and downloads an Excel template
func (h *ImportHandler) generateXLSXTemplate(c *gin.Context, template models.ImportTemplate) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Products"
	f.SetSheetName("Sheet1", sheetName)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	requiredStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C65911"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for i, col := range template.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		headerText := col.Name
		if col.Required {
			headerText = col.Name + " *"
		}
		f.SetCellValue(sheetName, cell, headerText)

		if col.Required {
			f.SetCellStyle(sheetName, cell, cell, requiredStyle)
		} else {
			f.SetCellStyle(sheetName, cell, cell, headerStyle)
		}

		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, colName, colName, 20)
	}

	// Instructions sheet documents each column
	f.NewSheet("Instructions")
	f.SetCellValue("Instructions", "A1", "Product Import Instructions")
	f.SetCellValue("Instructions", "A3", "Columns marked with * are required. Duplicate SKUs are matched")
	f.SetCellValue("Instructions", "A4", "case-insensitively: a row whose sku already exists updates that")
	f.SetCellValue("Instructions", "A5", "product in place.")

	f.SetCellValue("Instructions", "A7", "Column")
	f.SetCellValue("Instructions", "B7", "Description")
	f.SetCellValue("Instructions", "C7", "Required")
	f.SetCellValue("Instructions", "D7", "Type")
	f.SetCellValue("Instructions", "E7", "Example")

	for i, col := range template.Columns {
		row := i + 8
		f.SetCellValue("Instructions", fmt.Sprintf("A%d", row), col.Name)
		f.SetCellValue("Instructions", fmt.Sprintf("B%d", row), col.Description)
		required := "Optional"
		if col.Required {
			required = "Required"
		}
		f.SetCellValue("Instructions", fmt.Sprintf("C%d", row), required)
		f.SetCellValue("Instructions", fmt.Sprintf("D%d", row), col.Type)
		f.SetCellValue("Instructions", fmt.Sprintf("E%d", row), col.Example)
	}

	f.SetColWidth("Instructions", "A", "A", 25)
	f.SetColWidth("Instructions", "B", "B", 60)
	f.SetColWidth("Instructions", "C", "C", 15)
	f.SetColWidth("Instructions", "D", "D", 15)
	f.SetColWidth("Instructions", "E", "E", 40)

	sheetIdx, _ := f.GetSheetIndex(sheetName)
	f.SetActiveSheet(sheetIdx)

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=products_import_template.xlsx")

	f.Write(c.Writer)
}

// loadJob fetches the job named by the path param, writing the error
// response itself when the lookup fails.
func (h *ImportHandler) loadJob(c *gin.Context) (*models.ImportJob, bool) {
	jobID := c.Param("jobId")
	job, err := h.jobs.GetByID(c.Request.Context(), jobID)
	if err != nil {
		if repository.IsNotFound(err) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "JOB_NOT_FOUND",
					Message: "Import job not found",
				},
			})
			return nil, false
		}
		h.logger.WithError(err).WithField("jobID", jobID).Error("Failed to load import job")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "JOB_LOAD_FAILED",
				Message: "Failed to load import job",
			},
		})
		return nil, false
	}
	return job, true
}
