package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"catalog-service/internal/models"
)

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.ImportJob

	// When set, status polls against a processing job report it cancelled,
	// simulating an external cancel request landing mid-run.
	cancelOnPoll bool

	checkpoints []models.ImportJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]*models.ImportJob{}}
}

func (s *fakeJobStore) add(job *models.ImportJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
}

func (s *fakeJobStore) GetByID(ctx context.Context, id string) (*models.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *job
	if s.cancelOnPoll && copied.Status == models.ImportStatusProcessing {
		copied.Status = models.ImportStatusCancelled
	}
	return &copied, nil
}

func (s *fakeJobStore) UpdateProgress(ctx context.Context, id string, upd models.JobProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.TotalRows != nil {
		job.TotalRows = *upd.TotalRows
	}
	if upd.ProcessedRows != nil {
		job.ProcessedRows = *upd.ProcessedRows
	}
	if upd.SuccessCount != nil {
		job.SuccessCount = *upd.SuccessCount
	}
	if upd.ErrorCount != nil {
		job.ErrorCount = *upd.ErrorCount
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = upd.ErrorMessage
	}
	s.checkpoints = append(s.checkpoints, *job)
	return nil
}

func (s *fakeJobStore) get(id string) models.ImportJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

type fakeProductStore struct {
	mu       sync.Mutex
	products map[string]*models.Product
	flushes  int
	failNext error
}

func newFakeProductStore() *fakeProductStore {
	return &fakeProductStore{products: map[string]*models.Product{}}
}

func (s *fakeProductStore) SKUIndex(ctx context.Context) (map[string]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := make(map[string]uuid.UUID, len(s.products))
	for sku, p := range s.products {
		index[sku] = p.ID
	}
	return index, nil
}

func (s *fakeProductStore) ApplyBatch(ctx context.Context, creates, updates []*models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.flushes++
	for _, p := range creates {
		copied := *p
		s.products[p.SKU] = &copied
	}
	for _, p := range updates {
		existing, ok := s.products[p.SKU]
		if !ok {
			return fmt.Errorf("update for unknown sku %s", p.SKU)
		}
		existing.Name = p.Name
		existing.Description = p.Description
		existing.Price = p.Price
		existing.Active = p.Active
		existing.UpdatedAt = p.UpdatedAt
	}
	return nil
}

func (s *fakeProductStore) get(sku string) *models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[sku]
}

func (s *fakeProductStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.products)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) Notify(ctx context.Context, eventType string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeCSV(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
	assert.NoError(t, err)
	return path
}

func queuedJob(path string) *models.ImportJob {
	return &models.ImportJob{
		ID:       uuid.New().String(),
		Status:   models.ImportStatusQueued,
		FilePath: path,
		FileName: "upload.csv",
	}
}

func TestPipelineMixedValidityFile(t *testing.T) {
	path := writeCSV(t,
		"sku,name,price",
		"A,Widget,9.99",
		"b,Gadget,-1",
		"A,Widget2,10.99",
	)

	jobs := newFakeJobStore()
	products := newFakeProductStore()
	notifier := &fakeNotifier{}
	job := queuedJob(path)
	jobs.add(job)

	p := NewPipeline(jobs, products, notifier, testLogger(), Config{})
	err := p.Run(context.Background(), job.ID)
	assert.NoError(t, err)

	final := jobs.get(job.ID)
	assert.Equal(t, models.ImportStatusCompletedWithErrors, final.Status)
	assert.Equal(t, 3, final.TotalRows)
	assert.Equal(t, 3, final.ProcessedRows)
	assert.Equal(t, 2, final.SuccessCount)
	assert.Equal(t, 1, final.ErrorCount)
	assert.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "Row 2: invalid price")

	// Both valid rows share the sku after case folding, so the later one
	// wins.
	assert.Equal(t, 1, products.count())
	stored := products.get("a")
	assert.NotNil(t, stored)
	assert.Equal(t, "Widget2", stored.Name)
	assert.Equal(t, 10.99, *stored.Price)

	assert.Equal(t, []string{models.EventImportCompletedWithErrors}, notifier.all())

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipelineDuplicateAcrossBatches(t *testing.T) {
	path := writeCSV(t,
		"sku,name,price",
		"A,Widget,9.99",
		"a,Widget2,10.99",
	)

	jobs := newFakeJobStore()
	products := newFakeProductStore()
	job := queuedJob(path)
	jobs.add(job)

	// BatchSize 1 forces the first row to flush before the duplicate is
	// seen, so the second row must resolve as an update via the index.
	p := NewPipeline(jobs, products, &fakeNotifier{}, testLogger(), Config{BatchSize: 1})
	err := p.Run(context.Background(), job.ID)
	assert.NoError(t, err)

	final := jobs.get(job.ID)
	assert.Equal(t, models.ImportStatusCompleted, final.Status)
	assert.Equal(t, 2, final.SuccessCount)
	assert.Equal(t, 0, final.ErrorCount)

	assert.Equal(t, 1, products.count())
	stored := products.get("a")
	assert.Equal(t, "Widget2", stored.Name)
}

func TestPipelineCompletedCleanFile(t *testing.T) {
	path := writeCSV(t,
		"sku,name,price,description,active",
		"SKU-1,First,1.50,Something,true",
		"SKU-2,Second,,,no",
		"SKU-3,Third,3.00,,",
	)

	jobs := newFakeJobStore()
	products := newFakeProductStore()
	notifier := &fakeNotifier{}
	job := queuedJob(path)
	jobs.add(job)

	p := NewPipeline(jobs, products, notifier, testLogger(), Config{})
	err := p.Run(context.Background(), job.ID)
	assert.NoError(t, err)

	final := jobs.get(job.ID)
	assert.Equal(t, models.ImportStatusCompleted, final.Status)
	assert.Equal(t, 3, final.SuccessCount)
	assert.Nil(t, final.ErrorMessage)

	first := products.get("sku-1")
	assert.Equal(t, "Something", *first.Description)
	assert.True(t, first.Active)

	// Blank price stays unset; explicit "no" disables the product.
	second := products.get("sku-2")
	assert.Nil(t, second.Price)
	assert.Nil(t, second.Description)
	assert.False(t, second.Active)

	// Blank active defaults to enabled.
	third := products.get("sku-3")
	assert.True(t, third.Active)

	assert.Equal(t, []string{models.EventImportCompleted}, notifier.all())
}

func TestPipelineRowValidation(t *testing.T) {
	path := writeCSV(t,
		"sku,name,price",
		",NoSKU,1.00",
		"SKU-1,,1.00",
		"SKU-2,BadPrice,abc",
		"SKU-3,Fine,2.00",
	)

	jobs := newFakeJobStore()
	products := newFakeProductStore()
	job := queuedJob(path)
	jobs.add(job)

	p := NewPipeline(jobs, products, &fakeNotifier{}, testLogger(), Config{})
	err := p.Run(context.Background(), job.ID)
	assert.NoError(t, err)

	final := jobs.get(job.ID)
	assert.Equal(t, models.ImportStatusCompletedWithErrors, final.Status)
	assert.Equal(t, 1, final.SuccessCount)
	assert.Equal(t, 3, final.ErrorCount)
	assert.Contains(t, *final.ErrorMessage, "Row 1: missing sku")
	assert.Contains(t, *final.ErrorMessage, "Row 2: missing name")
	assert.Contains(t, *final.ErrorMessage, "Row 3: invalid price")
	assert.Equal(t, 1, products.count())
}

func TestPipelineErrorMessageCap(t *testing.T) {
	lines := []string{"sku,name,price"}
	for i := 0; i < 6; i++ {
		lines = append(lines, fmt.Sprintf("SKU-%d,Bad,notaprice", i))
	}
	path := writeCSV(t, lines...)

	jobs := newFakeJobStore()
	job := queuedJob(path)
	jobs.add(job)

	p := NewPipeline(jobs, newFakeProductStore(), &fakeNotifier{}, testLogger(), Config{MaxErrorDetailLines: 4})
	err := p.Run(context.Background(), job.ID)
	assert.NoError(t, err)

	final := jobs.get(job.ID)
	assert.Equal(t, 6, final.ErrorCount)
	msg := *final.ErrorMessage
	assert.Equal(t, 5, len(strings.Split(msg, "\n")))
	assert.Contains(t, msg, "... and 2 more rows with errors")
}

func TestPipelineCancellationStopsConsumption(t *testing.T) {
	lines := []string{"sku,name,price"}
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("SKU-%d,Item,1.00", i))
	}
	path := writeCSV(t, lines...)

	jobs := newFakeJobStore()
	jobs.cancelOnPoll = true
	products := newFakeProductStore()
	notifier := &fakeNotifier{}
	job := queuedJob(path)
	jobs.add(job)

	p := NewPipeline(jobs, products, notifier, testLogger(), Config{CancelCheckInterval: 3})
	err := p.Run(context.Background(), job.ID)
	assert.NoError(t, err)

	// The run stopped at the first poll; nothing was flushed and no
	// terminal counters were written.
	assert.Equal(t, 0, products.count())
	assert.Equal(t, []string{models.EventImportCancelled}, notifier.all())

	final := jobs.get(job.ID)
	assert.NotEqual(t, models.ImportStatusCompleted, final.Status)
	assert.Equal(t, 0, final.ProcessedRows)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipelineFlushFailureFailsJob(t *testing.T) {
	path := writeCSV(t,
		"sku,name,price",
		"SKU-1,First,1.00",
	)

	jobs := newFakeJobStore()
	products := newFakeProductStore()
	products.failNext = errors.New("connection reset")
	notifier := &fakeNotifier{}
	job := queuedJob(path)
	jobs.add(job)

	p := NewPipeline(jobs, products, notifier, testLogger(), Config{})
	err := p.Run(context.Background(), job.ID)
	assert.Error(t, err)

	final := jobs.get(job.ID)
	assert.Equal(t, models.ImportStatusFailed, final.Status)
	assert.Contains(t, *final.ErrorMessage, "batch write failed")
	assert.Equal(t, []string{models.EventImportFailed}, notifier.all())

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipelineEmptyFileFails(t *testing.T) {
	path := writeCSV(t, "sku,name,price")

	jobs := newFakeJobStore()
	notifier := &fakeNotifier{}
	job := queuedJob(path)
	jobs.add(job)

	p := NewPipeline(jobs, newFakeProductStore(), notifier, testLogger(), Config{})
	err := p.Run(context.Background(), job.ID)
	assert.Error(t, err)

	final := jobs.get(job.ID)
	assert.Equal(t, models.ImportStatusFailed, final.Status)
	assert.Contains(t, *final.ErrorMessage, "empty or invalid file")
	assert.Equal(t, []string{models.EventImportFailed}, notifier.all())
}

func TestPipelineSkipsTerminalJob(t *testing.T) {
	path := writeCSV(t,
		"sku,name,price",
		"SKU-1,Widget,9.99",
	)
	jobs := newFakeJobStore()
	products := newFakeProductStore()
	notifier := &fakeNotifier{}
	job := queuedJob(path)
	job.Status = models.ImportStatusCancelled
	jobs.add(job)

	p := NewPipeline(jobs, products, notifier, testLogger(), Config{})
	err := p.Run(context.Background(), job.ID)
	assert.NoError(t, err)

	assert.Empty(t, notifier.all())
	assert.Empty(t, jobs.checkpoints)

	// A job cancelled before a worker claimed it still gets its upload removed.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipelineMissingJob(t *testing.T) {
	p := NewPipeline(newFakeJobStore(), newFakeProductStore(), &fakeNotifier{}, testLogger(), Config{})
	err := p.Run(context.Background(), "no-such-job")
	assert.Error(t, err)
}

func TestPipelineReimportIsIdempotent(t *testing.T) {
	content := []string{
		"sku,name,price",
		"SKU-1,Widget,9.99",
		"SKU-2,Gadget,5.00",
	}

	jobs := newFakeJobStore()
	products := newFakeProductStore()
	p := NewPipeline(jobs, products, &fakeNotifier{}, testLogger(), Config{})

	for i := 0; i < 2; i++ {
		job := queuedJob(writeCSV(t, content...))
		jobs.add(job)
		err := p.Run(context.Background(), job.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.ImportStatusCompleted, jobs.get(job.ID).Status)
	}

	// The second run resolves every row as an update against the same
	// products, so the store ends up identical to a single run.
	assert.Equal(t, 2, products.count())
	assert.Equal(t, "Widget", products.get("sku-1").Name)
	assert.Equal(t, 9.99, *products.get("sku-1").Price)
}

func TestPipelineCheckpointsAreMonotonic(t *testing.T) {
	lines := []string{"sku,name,price"}
	for i := 0; i < 7; i++ {
		lines = append(lines, fmt.Sprintf("SKU-%d,Item,1.00", i))
	}
	path := writeCSV(t, lines...)

	jobs := newFakeJobStore()
	job := queuedJob(path)
	jobs.add(job)

	p := NewPipeline(jobs, newFakeProductStore(), &fakeNotifier{}, testLogger(), Config{CheckpointInterval: 2})
	err := p.Run(context.Background(), job.ID)
	assert.NoError(t, err)

	prev := 0
	for _, cp := range jobs.checkpoints {
		assert.GreaterOrEqual(t, cp.ProcessedRows, prev)
		prev = cp.ProcessedRows
	}
	assert.Equal(t, 7, jobs.get(job.ID).ProcessedRows)
}
