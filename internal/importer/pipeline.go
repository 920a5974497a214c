package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"catalog-service/internal/models"
)

// truthyTokens are the accepted spellings of an enabled "active" flag.
// A blank or absent cell defaults to enabled; only an explicit token
// outside this set disables a product.
var truthyTokens = map[string]bool{
	"true": true, "1": true, "yes": true, "y": true, "active": true,
}

// JobStore is the pipeline's view of import job persistence. Reads must be
// fresh on every call; UpdateProgress on a purged job is a silent no-op.
type JobStore interface {
	GetByID(ctx context.Context, id string) (*models.ImportJob, error)
	UpdateProgress(ctx context.Context, id string, upd models.JobProgressUpdate) error
}

// ProductStore is the pipeline's view of the product store.
type ProductStore interface {
	// SKUIndex returns the full case-folded SKU -> id mapping.
	SKUIndex(ctx context.Context) (map[string]uuid.UUID, error)
	// ApplyBatch writes one batch all-or-nothing; earlier batches stay
	// committed regardless of the outcome.
	ApplyBatch(ctx context.Context, creates, updates []*models.Product) error
}

// Notifier announces terminal job outcomes. Deliveries are best-effort and
// must never fail the import.
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload interface{})
}

// Config holds the pipeline cadences. One set of tunables serves every job.
type Config struct {
	BatchSize           int
	CheckpointInterval  int
	CancelCheckInterval int
	MaxErrorDetailLines int
}

// Pipeline drives a single import job from queued to a terminal state:
// count rows, stream + validate + upsert in batches, checkpoint progress,
// poll for cancellation, announce the outcome, discard the artifact.
type Pipeline struct {
	jobs     JobStore
	products ProductStore
	notifier Notifier
	logger   *logrus.Entry
	cfg      Config
}

func NewPipeline(jobs JobStore, products ProductStore, notifier Notifier, logger *logrus.Logger, cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 2000
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 1000
	}
	if cfg.CancelCheckInterval <= 0 {
		cfg.CancelCheckInterval = 1000
	}
	if cfg.MaxErrorDetailLines <= 0 {
		cfg.MaxErrorDetailLines = 20
	}
	return &Pipeline{
		jobs:     jobs,
		products: products,
		notifier: notifier,
		logger:   logger.WithField("component", "import-pipeline"),
		cfg:      cfg,
	}
}

// Run executes the job identified by jobID to a terminal state. The queue
// guarantees at most one concurrent execution per id.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	log := p.logger.WithField("jobID", jobID)

	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		log.WithError(err).Warn("Claimed job could not be loaded")
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		// Cancelled (or retried to completion) while still queued. The
		// artifact still has to go, since no run ever cleaned it up.
		log.WithField("status", job.Status).Info("Skipping job already in terminal state")
		p.removeArtifact(log, job.FilePath)
		return nil
	}

	terminal := false
	defer func() {
		if terminal {
			p.removeArtifact(log, job.FilePath)
		}
	}()

	fail := func(msg string) error {
		terminal = true
		status := models.ImportStatusFailed
		if err := p.jobs.UpdateProgress(ctx, jobID, models.JobProgressUpdate{
			Status:       &status,
			ErrorMessage: &msg,
		}); err != nil {
			log.WithError(err).Error("Failed to persist failed state")
		}
		p.notifyTerminal(ctx, jobID, models.EventImportFailed)
		log.WithField("reason", msg).Warn("Import job failed")
		return fmt.Errorf("import job %s failed: %s", jobID, msg)
	}

	parsing := models.ImportStatusParsing
	if err := p.jobs.UpdateProgress(ctx, jobID, models.JobProgressUpdate{Status: &parsing}); err != nil {
		return fmt.Errorf("mark job %s parsing: %w", jobID, err)
	}

	// Pre-pass over the artifact fixes total_rows for the job's lifetime.
	totalRows, err := CountDataRows(job.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fail("import file missing")
		}
		if err == ErrNoHeader {
			return fail("empty or invalid file")
		}
		return fail(fmt.Sprintf("unreadable file: %v", err))
	}
	if totalRows == 0 {
		return fail("empty or invalid file")
	}

	processing := models.ImportStatusProcessing
	zero := 0
	if err := p.jobs.UpdateProgress(ctx, jobID, models.JobProgressUpdate{
		Status:        &processing,
		TotalRows:     &totalRows,
		ProcessedRows: &zero,
		SuccessCount:  &zero,
		ErrorCount:    &zero,
	}); err != nil {
		return fmt.Errorf("mark job %s processing: %w", jobID, err)
	}

	// Preload the existing-SKU index once per job. The store's case-folded
	// unique index remains the correctness backstop; this run assumes no
	// concurrent external writers to the same SKU space.
	index, err := p.products.SKUIndex(ctx)
	if err != nil {
		return fail(fmt.Sprintf("failed to load product index: %v", err))
	}

	reader, err := OpenRowReader(job.FilePath)
	if err != nil {
		return fail(fmt.Sprintf("unreadable file: %v", err))
	}
	defer reader.Close()

	var (
		creates    []*models.Product
		updates    []*models.Product
		staged     = make(map[string]*models.Product)
		success    int
		errorCount int
		errorLines []string
		truncated  int
	)

	addRowError := func(rowNum int, reason string) {
		errorCount++
		if len(errorLines) < p.cfg.MaxErrorDetailLines {
			errorLines = append(errorLines, fmt.Sprintf("Row %d: %s", rowNum, reason))
		} else {
			truncated++
		}
	}

	flush := func() error {
		if len(creates) == 0 && len(updates) == 0 {
			return nil
		}
		if err := p.products.ApplyBatch(ctx, creates, updates); err != nil {
			return err
		}
		// Flushed creates join the persisted index so later duplicates in
		// the file resolve as updates (last writer in file order wins).
		for _, product := range creates {
			index[product.SKU] = product.ID
		}
		creates = creates[:0]
		updates = updates[:0]
		staged = make(map[string]*models.Product)
		return nil
	}

	idx := 0
	for {
		row, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(fmt.Sprintf("row parse error: %v", err))
		}
		idx++

		// Cooperative cancellation: the persisted status is re-read at a
		// fixed cadence, so up to CancelCheckInterval-1 rows may still be
		// processed after a cancel request lands.
		if idx%p.cfg.CancelCheckInterval == 0 {
			current, err := p.jobs.GetByID(ctx, jobID)
			if err != nil {
				return fail(fmt.Sprintf("status check failed: %v", err))
			}
			if current.Status == models.ImportStatusCancelled {
				terminal = true
				log.WithField("processedRows", idx-1).Info("Import cancelled, stopping")
				p.notifyTerminal(ctx, jobID, models.EventImportCancelled)
				return nil
			}
		}

		fields, reason := parseProductRow(row)
		if reason != "" {
			addRowError(idx, reason)
		} else {
			now := time.Now()
			if prev, ok := staged[fields.sku]; ok {
				// Duplicate SKU inside the unflushed batch: overwrite the
				// staged record in place.
				prev.Name = fields.name
				prev.Description = fields.description
				prev.Price = fields.price
				prev.Active = fields.active
				prev.UpdatedAt = now
			} else if id, ok := index[fields.sku]; ok {
				product := &models.Product{
					ID:          id,
					SKU:         fields.sku,
					Name:        fields.name,
					Description: fields.description,
					Price:       fields.price,
					Active:      fields.active,
					UpdatedAt:   now,
				}
				updates = append(updates, product)
				staged[fields.sku] = product
			} else {
				product := &models.Product{
					ID:          uuid.New(),
					SKU:         fields.sku,
					Name:        fields.name,
					Description: fields.description,
					Price:       fields.price,
					Active:      fields.active,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				creates = append(creates, product)
				staged[fields.sku] = product
			}
			success++
		}

		if idx%p.cfg.BatchSize == 0 {
			if err := flush(); err != nil {
				return fail(fmt.Sprintf("batch write failed: %v", err))
			}
		}

		if idx%p.cfg.CheckpointInterval == 0 {
			processed := idx
			s, e := success, errorCount
			if err := p.jobs.UpdateProgress(ctx, jobID, models.JobProgressUpdate{
				ProcessedRows: &processed,
				SuccessCount:  &s,
				ErrorCount:    &e,
			}); err != nil {
				return fail(fmt.Sprintf("checkpoint failed: %v", err))
			}
		}
	}

	if err := flush(); err != nil {
		return fail(fmt.Sprintf("batch write failed: %v", err))
	}

	status := models.ImportStatusCompleted
	event := models.EventImportCompleted
	var errorMessage *string
	if errorCount > 0 {
		status = models.ImportStatusCompletedWithErrors
		event = models.EventImportCompletedWithErrors
		if truncated > 0 {
			errorLines = append(errorLines, fmt.Sprintf("... and %d more rows with errors", truncated))
		}
		msg := strings.Join(errorLines, "\n")
		errorMessage = &msg
	}

	if err := p.jobs.UpdateProgress(ctx, jobID, models.JobProgressUpdate{
		Status:        &status,
		ProcessedRows: &totalRows,
		SuccessCount:  &success,
		ErrorCount:    &errorCount,
		ErrorMessage:  errorMessage,
	}); err != nil {
		return fail(fmt.Sprintf("final checkpoint failed: %v", err))
	}
	terminal = true

	p.notifyTerminal(ctx, jobID, event)
	log.WithFields(logrus.Fields{
		"status":       status,
		"totalRows":    totalRows,
		"successCount": success,
		"errorCount":   errorCount,
	}).Info("Import job finished")
	return nil
}

// productFields is one validated row's contribution to the store
type productFields struct {
	sku         string
	name        string
	description *string
	price       *float64
	active      bool
}

// parseProductRow validates a single row. A non-empty reason means the row
// is skipped and counted as an error; the job keeps running.
func parseProductRow(row Row) (productFields, string) {
	var fields productFields

	fields.sku = models.FoldSKU(row["sku"])
	if fields.sku == "" {
		return fields, "missing sku"
	}

	fields.name = strings.TrimSpace(row["name"])
	if fields.name == "" {
		return fields, "missing name"
	}

	if raw := strings.TrimSpace(row["price"]); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil || price < 0 {
			// An unparsable or negative price rejects the row; it is never
			// silently nulled out.
			return fields, "invalid price"
		}
		fields.price = &price
	}

	if desc := strings.TrimSpace(row["description"]); desc != "" {
		fields.description = &desc
	}

	if raw := strings.TrimSpace(row["active"]); raw != "" {
		fields.active = truthyTokens[strings.ToLower(raw)]
	} else {
		fields.active = true
	}

	return fields, ""
}

// notifyTerminal sends the job's final snapshot to the notifier,
// best-effort.
func (p *Pipeline) notifyTerminal(ctx context.Context, jobID, eventType string) {
	if p.notifier == nil {
		return
	}
	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		p.logger.WithField("jobID", jobID).WithError(err).Warn("Could not load job for terminal notification")
		return
	}
	p.notifier.Notify(ctx, eventType, job.Snapshot())
}

// removeArtifact discards the input file once the job is terminal
func (p *Pipeline) removeArtifact(log *logrus.Entry, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("path", path).Warn("Failed to remove import artifact")
	}
}
