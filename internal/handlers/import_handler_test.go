package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"

	"catalog-service/internal/models"
)

type mockJobStore struct {
	mock.Mock
}

func (m *mockJobStore) Create(ctx context.Context, job *models.ImportJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *mockJobStore) GetByID(ctx context.Context, id string) (*models.ImportJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ImportJob), args.Error(1)
}

func (m *mockJobStore) List(ctx context.Context, page, perPage int) ([]models.ImportJob, int64, error) {
	args := m.Called(ctx, page, perPage)
	return args.Get(0).([]models.ImportJob), args.Get(1).(int64), args.Error(2)
}

func (m *mockJobStore) UpdateProgress(ctx context.Context, id string, upd models.JobProgressUpdate) error {
	args := m.Called(ctx, id, upd)
	return args.Error(0)
}

func (m *mockJobStore) ResetForRetry(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupImportRouter(t *testing.T) (*gin.Engine, *mockJobStore, *mockQueue, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jobs := new(mockJobStore)
	queue := new(mockQueue)
	uploadDir := t.TempDir()

	h := NewImportHandler(jobs, queue, uploadDir, 100, 20, 100, testLogger())

	r := gin.New()
	r.GET("/api/v1/products/import", h.ListImports)
	r.POST("/api/v1/products/import", h.SubmitImport)
	r.GET("/api/v1/products/import/:jobId", h.GetImportStatus)
	r.GET("/api/v1/products/import/:jobId/stream", h.StreamImportStatus)
	r.POST("/api/v1/products/import/:jobId/cancel", h.CancelImport)
	r.POST("/api/v1/products/import/:jobId/retry", h.RetryImport)
	return r, jobs, queue, uploadDir
}

func multipartFile(t *testing.T, fieldFileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", fieldFileName)
	assert.NoError(t, err)
	_, err = part.Write([]byte(content))
	assert.NoError(t, err)
	assert.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestSubmitImportQueuesValidFile(t *testing.T) {
	r, jobs, queue, uploadDir := setupImportRouter(t)

	jobs.On("Create", mock.Anything, mock.MatchedBy(func(job *models.ImportJob) bool {
		return job.Status == models.ImportStatusQueued && job.FileName == "products.csv"
	})).Return(nil)
	queue.On("Enqueue", mock.Anything, mock.AnythingOfType("string")).Return(nil)

	body, contentType := multipartFile(t, "products.csv", "sku,name,price\nSKU-1,Widget,9.99\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp models.SubmitImportResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ImportStatusQueued, resp.Status)
	assert.NotEmpty(t, resp.JobID)

	// The artifact stays on disk for the worker.
	_, err := os.Stat(filepath.Join(uploadDir, resp.JobID+".csv"))
	assert.NoError(t, err)

	jobs.AssertExpectations(t)
	queue.AssertExpectations(t)
}

func TestSubmitImportRejectsMissingColumns(t *testing.T) {
	r, jobs, queue, uploadDir := setupImportRouter(t)

	jobs.On("Create", mock.Anything, mock.MatchedBy(func(job *models.ImportJob) bool {
		return job.Status == models.ImportStatusFailed && job.ErrorMessage != nil
	})).Return(nil)

	body, contentType := multipartFile(t, "products.csv", "sku,description\nSKU-1,Something\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.SubmitImportResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ImportStatusFailed, resp.Status)
	assert.Equal(t, "Missing columns: name, price", resp.Message)

	// A structurally rejected file never reaches a worker and the
	// artifact is discarded immediately.
	queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	_, err := os.Stat(filepath.Join(uploadDir, resp.JobID+".csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestSubmitImportRejectsHeaderOnlyFile(t *testing.T) {
	r, jobs, queue, _ := setupImportRouter(t)

	jobs.On("Create", mock.Anything, mock.Anything).Return(nil)

	body, contentType := multipartFile(t, "products.csv", "sku,name,price\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.SubmitImportResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "No data rows found", resp.Message)
	queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestSubmitImportRejectsUnknownExtension(t *testing.T) {
	r, jobs, queue, _ := setupImportRouter(t)

	body, contentType := multipartFile(t, "products.pdf", "not a spreadsheet")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	jobs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestSubmitImportRequiresFile(t *testing.T) {
	r, _, _, _ := setupImportRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetImportStatus(t *testing.T) {
	r, jobs, _, _ := setupImportRouter(t)

	job := &models.ImportJob{
		ID:            "job-1",
		Status:        models.ImportStatusProcessing,
		TotalRows:     100,
		ProcessedRows: 40,
		SuccessCount:  38,
		ErrorCount:    2,
	}
	jobs.On("GetByID", mock.Anything, "job-1").Return(job, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/import/job-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var snap models.ImportJobSnapshot
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, models.ImportStatusProcessing, snap.Status)
	assert.Equal(t, 40, snap.Progress)
}

func TestGetImportStatusNotFound(t *testing.T) {
	r, jobs, _, _ := setupImportRouter(t)

	jobs.On("GetByID", mock.Anything, "missing").Return(nil, gorm.ErrRecordNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/import/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamImportStatusClosesAfterTerminalSnapshot(t *testing.T) {
	r, jobs, _, _ := setupImportRouter(t)

	running := &models.ImportJob{
		ID:            "job-1",
		Status:        models.ImportStatusProcessing,
		TotalRows:     100,
		ProcessedRows: 40,
		SuccessCount:  38,
		ErrorCount:    2,
	}
	done := &models.ImportJob{
		ID:            "job-1",
		Status:        models.ImportStatusCompleted,
		TotalRows:     100,
		ProcessedRows: 100,
		SuccessCount:  98,
		ErrorCount:    2,
	}
	jobs.On("GetByID", mock.Anything, "job-1").Return(running, nil).Once()
	jobs.On("GetByID", mock.Anything, "job-1").Return(done, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/import/job-1/stream", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	// One snapshot per poll, and the stream ends right after the terminal one.
	body := w.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event:status"))
	assert.Contains(t, body, `"status":"processing"`)
	assert.Contains(t, body, `"status":"completed"`)
	jobs.AssertExpectations(t)
}

func TestStreamImportStatusTerminalJobEmitsOnce(t *testing.T) {
	r, jobs, _, _ := setupImportRouter(t)

	job := &models.ImportJob{ID: "job-1", Status: models.ImportStatusFailed}
	jobs.On("GetByID", mock.Anything, "job-1").Return(job, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/import/job-1/stream", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Equal(t, 1, strings.Count(body, "event:status"))
	assert.Contains(t, body, `"status":"failed"`)
	jobs.AssertExpectations(t)
}

func TestCancelImportInFlight(t *testing.T) {
	r, jobs, _, _ := setupImportRouter(t)

	job := &models.ImportJob{ID: "job-1", Status: models.ImportStatusProcessing}
	jobs.On("GetByID", mock.Anything, "job-1").Return(job, nil)
	jobs.On("UpdateProgress", mock.Anything, "job-1", mock.MatchedBy(func(upd models.JobProgressUpdate) bool {
		return upd.Status != nil && *upd.Status == models.ImportStatusCancelled
	})).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import/job-1/cancel", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	jobs.AssertExpectations(t)
}

func TestCancelImportFinishedJob(t *testing.T) {
	r, jobs, _, _ := setupImportRouter(t)

	job := &models.ImportJob{ID: "job-1", Status: models.ImportStatusCompleted}
	jobs.On("GetByID", mock.Anything, "job-1").Return(job, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import/job-1/cancel", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "cannot cancel a finished job")
	jobs.AssertNotCalled(t, "UpdateProgress", mock.Anything, mock.Anything, mock.Anything)
}

func TestRetryImportFailedJob(t *testing.T) {
	r, jobs, queue, uploadDir := setupImportRouter(t)

	path := filepath.Join(uploadDir, "job-1.csv")
	assert.NoError(t, os.WriteFile(path, []byte("sku,name,price\nSKU-1,Widget,1.00\n"), 0o644))

	job := &models.ImportJob{ID: "job-1", Status: models.ImportStatusFailed, FilePath: path}
	jobs.On("GetByID", mock.Anything, "job-1").Return(job, nil)
	jobs.On("ResetForRetry", mock.Anything, "job-1").Return(nil)
	queue.On("Enqueue", mock.Anything, "job-1").Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import/job-1/retry", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	jobs.AssertExpectations(t)
	queue.AssertExpectations(t)
}

func TestRetryImportRejectsRunningJob(t *testing.T) {
	r, jobs, queue, _ := setupImportRouter(t)

	job := &models.ImportJob{ID: "job-1", Status: models.ImportStatusProcessing}
	jobs.On("GetByID", mock.Anything, "job-1").Return(job, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import/job-1/retry", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestRetryImportWithDiscardedFile(t *testing.T) {
	r, jobs, queue, uploadDir := setupImportRouter(t)

	job := &models.ImportJob{
		ID:       "job-1",
		Status:   models.ImportStatusCancelled,
		FilePath: filepath.Join(uploadDir, "gone.csv"),
	}
	jobs.On("GetByID", mock.Anything, "job-1").Return(job, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import/job-1/retry", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestListImports(t *testing.T) {
	r, jobs, _, _ := setupImportRouter(t)

	listed := []models.ImportJob{
		{ID: "job-2", Status: models.ImportStatusCompleted, TotalRows: 10, ProcessedRows: 10},
		{ID: "job-1", Status: models.ImportStatusFailed},
	}
	jobs.On("List", mock.Anything, 1, 20).Return(listed, int64(2), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/import", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ImportJobListResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Total)
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, "job-2", resp.Data[0].JobID)
}
