// Package importer implements the bulk ingestion pipeline for actuals and
// commitments: validate, dedupe, anonymize, link projects, batch-insert,
// audit. Imports are partial by design; a malformed row never blocks valid
// rows behind it.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ppmcore/internal/anonymizer"
	"ppmcore/internal/config"
	"ppmcore/internal/linker"
	"ppmcore/internal/logging"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

// Engine runs bulk imports against the store. One Engine is safe for
// concurrent imports; per-session state (anonymizer, project cache) is
// created per call.
type Engine struct {
	store              *store.PPMStore
	batchSize          int
	maxErrors          int
	workers            int
	defaultPortfolioID string
}

// Options carries per-import parameters.
type Options struct {
	UserID    string
	Anonymize bool
}

// New builds an import engine from configuration.
func New(st *store.PPMStore, cfg *config.Config) *Engine {
	return &Engine{
		store:              st,
		batchSize:          cfg.Import.BatchSize,
		maxErrors:          cfg.Import.MaxErrorsToCollect,
		workers:            cfg.Import.Workers,
		defaultPortfolioID: cfg.DefaultPortfolioID,
	}
}

// ImportActuals ingests actual rows. See the package comment for the phase
// structure; every phase is timed in the importing log.
func (e *Engine) ImportActuals(ctx context.Context, rows []RawRow, opts Options) (*types.ImportResult, error) {
	importID := uuid.NewString()
	startedAt := time.Now().UTC()
	logging.Import("Import %s: starting actuals import of %d rows (anonymize=%t)", importID, len(rows), opts.Anonymize)

	collector := newErrorCollector(e.maxErrors)

	// Phase 1: validation
	timer := logging.StartTimer(logging.CategoryImport, "phase1.validate")
	valid := e.validateActuals(ctx, rows, opts.Anonymize, collector)
	timer.StopWithInfo()

	// Phase 2: bulk duplicate detection
	timer = logging.StartTimer(logging.CategoryImport, "phase2.dedupe")
	docNos := make([]string, 0, len(valid))
	for _, v := range valid {
		docNos = append(docNos, v.rec.FIDocNo)
	}
	existing, err := e.store.ExistingFIDocNos(ctx, docNos)
	if err != nil {
		if ctx.Err() != nil {
			for _, v := range valid {
				collector.add(v.row, "timeout", "", "import deadline exceeded before this row was inserted")
			}
			return e.finalize(ctx, importID, types.ImportActuals, opts.UserID,
				len(rows), 0, 0, collector, startedAt), nil
		}
		err = fmt.Errorf("duplicate detection failed: %w", err)
		e.auditFailure(ctx, importID, types.ImportActuals, opts.UserID, len(rows), startedAt, err)
		return nil, err
	}
	duplicates := 0
	seen := make(map[string]bool, len(valid))
	surviving := valid[:0]
	for _, v := range valid {
		if existing[v.rec.FIDocNo] || seen[v.rec.FIDocNo] {
			duplicates++
			continue
		}
		seen[v.rec.FIDocNo] = true
		surviving = append(surviving, v)
	}
	timer.StopWithInfo()
	logging.ImportDebug("Import %s: %d duplicates suppressed", importID, duplicates)

	// Phase 3: project linking
	timer = logging.StartTimer(logging.CategoryImport, "phase3.link")
	lk := linker.New(e.store, e.defaultPortfolioID)
	if err := lk.Preload(ctx); err != nil {
		if ctx.Err() != nil {
			for _, v := range surviving {
				collector.add(v.row, "timeout", "", "import deadline exceeded before this row was inserted")
			}
			return e.finalize(ctx, importID, types.ImportActuals, opts.UserID,
				len(rows), 0, duplicates, collector, startedAt), nil
		}
		err = fmt.Errorf("project cache preload failed: %w", err)
		e.auditFailure(ctx, importID, types.ImportActuals, opts.UserID, len(rows), startedAt, err)
		return nil, err
	}
	linked := surviving[:0]
	for _, v := range surviving {
		key := v.rec.ProjectNr
		if key == "" {
			key = v.rec.WBSElement
		}
		projectID, err := lk.GetOrCreate(ctx, key, v.rec.WBSElement)
		if err != nil {
			collector.add(v.row, "project_linking", key, err.Error())
			continue
		}
		v.rec.ProjectID = projectID
		linked = append(linked, v)
	}
	timer.StopWithInfo()

	// Phase 4: batch insert
	timer = logging.StartTimer(logging.CategoryImport, "phase4.insert")
	successCount := e.insertActualChunks(ctx, importID, linked, collector)
	timer.StopWithInfo()

	result := e.finalize(ctx, importID, types.ImportActuals, opts.UserID,
		len(rows), successCount, duplicates, collector, startedAt)
	return result, nil
}

// ImportCommitments ingests commitment rows with (po_number, po_line_nr)
// composite-key deduplication.
func (e *Engine) ImportCommitments(ctx context.Context, rows []RawRow, opts Options) (*types.ImportResult, error) {
	importID := uuid.NewString()
	startedAt := time.Now().UTC()
	logging.Import("Import %s: starting commitments import of %d rows (anonymize=%t)", importID, len(rows), opts.Anonymize)

	collector := newErrorCollector(e.maxErrors)

	timer := logging.StartTimer(logging.CategoryImport, "phase1.validate")
	valid := e.validateCommitments(ctx, rows, opts.Anonymize, collector)
	timer.StopWithInfo()

	timer = logging.StartTimer(logging.CategoryImport, "phase2.dedupe")
	poNumbers := make([]string, 0, len(valid))
	seenPO := make(map[string]bool, len(valid))
	for _, v := range valid {
		if !seenPO[v.rec.PONumber] {
			seenPO[v.rec.PONumber] = true
			poNumbers = append(poNumbers, v.rec.PONumber)
		}
	}
	existing, err := e.store.ExistingPOLines(ctx, poNumbers)
	if err != nil {
		if ctx.Err() != nil {
			for _, v := range valid {
				collector.add(v.row, "timeout", "", "import deadline exceeded before this row was inserted")
			}
			return e.finalize(ctx, importID, types.ImportCommitments, opts.UserID,
				len(rows), 0, 0, collector, startedAt), nil
		}
		err = fmt.Errorf("duplicate detection failed: %w", err)
		e.auditFailure(ctx, importID, types.ImportCommitments, opts.UserID, len(rows), startedAt, err)
		return nil, err
	}
	duplicates := 0
	seen := make(map[store.POLineKey]bool, len(valid))
	surviving := valid[:0]
	for _, v := range valid {
		key := store.POLineKey{PONumber: v.rec.PONumber, POLineNr: v.rec.POLineNr}
		if existing[key] || seen[key] {
			duplicates++
			continue
		}
		seen[key] = true
		surviving = append(surviving, v)
	}
	timer.StopWithInfo()
	logging.ImportDebug("Import %s: %d duplicates suppressed", importID, duplicates)

	timer = logging.StartTimer(logging.CategoryImport, "phase3.link")
	lk := linker.New(e.store, e.defaultPortfolioID)
	if err := lk.Preload(ctx); err != nil {
		if ctx.Err() != nil {
			for _, v := range surviving {
				collector.add(v.row, "timeout", "", "import deadline exceeded before this row was inserted")
			}
			return e.finalize(ctx, importID, types.ImportCommitments, opts.UserID,
				len(rows), 0, duplicates, collector, startedAt), nil
		}
		err = fmt.Errorf("project cache preload failed: %w", err)
		e.auditFailure(ctx, importID, types.ImportCommitments, opts.UserID, len(rows), startedAt, err)
		return nil, err
	}
	linked := surviving[:0]
	for _, v := range surviving {
		key := v.rec.ProjectNr
		if key == "" {
			key = v.rec.WBSElement
		}
		projectID, err := lk.GetOrCreate(ctx, key, v.rec.WBSElement)
		if err != nil {
			collector.add(v.row, "project_linking", key, err.Error())
			continue
		}
		v.rec.ProjectID = projectID
		linked = append(linked, v)
	}
	timer.StopWithInfo()

	timer = logging.StartTimer(logging.CategoryImport, "phase4.insert")
	successCount := e.insertCommitmentChunks(ctx, importID, linked, collector)
	timer.StopWithInfo()

	result := e.finalize(ctx, importID, types.ImportCommitments, opts.UserID,
		len(rows), successCount, duplicates, collector, startedAt)
	return result, nil
}

// =============================================================================
// PHASE 1 - VALIDATION
// =============================================================================

type indexedActual struct {
	row int // 1-indexed input position
	rec *types.ActualRecord
}

type indexedCommitment struct {
	row int
	rec *types.CommitmentRecord
}

// validateActuals projects and validates rows with a bounded worker pool,
// then anonymizes survivors sequentially in input order so the pseudonym
// sequence stays deterministic.
func (e *Engine) validateActuals(ctx context.Context, rows []RawRow, anonymize bool, collector *errorCollector) []indexedActual {
	type outcome struct {
		rec  *types.ActualRecord
		errs []fieldError
	}
	outcomes := make([]outcome, len(rows))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range rows {
		i := i
		g.Go(func() error {
			rec, errs := projectActual(rows[i])
			outcomes[i] = outcome{rec: rec, errs: errs}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures land in outcomes

	anon := anonymizer.New()
	valid := make([]indexedActual, 0, len(rows))
	for i, o := range outcomes {
		rowNr := i + 1
		if len(o.errs) > 0 {
			for _, fe := range o.errs {
				val := fe.value
				if anonymize {
					// anonymized imports never echo raw source values
					val = ""
				}
				collector.add(rowNr, fe.field, val, fe.msg)
			}
			continue
		}
		if anonymize {
			anon.AnonymizeActual(o.rec)
		}
		valid = append(valid, indexedActual{row: rowNr, rec: o.rec})
	}
	return valid
}

func (e *Engine) validateCommitments(ctx context.Context, rows []RawRow, anonymize bool, collector *errorCollector) []indexedCommitment {
	type outcome struct {
		rec  *types.CommitmentRecord
		errs []fieldError
	}
	outcomes := make([]outcome, len(rows))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range rows {
		i := i
		g.Go(func() error {
			rec, errs := projectCommitment(rows[i])
			outcomes[i] = outcome{rec: rec, errs: errs}
			return nil
		})
	}
	_ = g.Wait()

	anon := anonymizer.New()
	valid := make([]indexedCommitment, 0, len(rows))
	for i, o := range outcomes {
		rowNr := i + 1
		if len(o.errs) > 0 {
			for _, fe := range o.errs {
				val := fe.value
				if anonymize {
					val = ""
				}
				collector.add(rowNr, fe.field, val, fe.msg)
			}
			continue
		}
		if anonymize {
			anon.AnonymizeCommitment(o.rec)
		}
		valid = append(valid, indexedCommitment{row: rowNr, rec: o.rec})
	}
	return valid
}

// =============================================================================
// PHASE 4 - BATCH INSERT
// =============================================================================

func (e *Engine) insertActualChunks(ctx context.Context, importID string, linked []indexedActual, collector *errorCollector) int {
	successCount := 0
	for start := 0; start < len(linked); start += e.batchSize {
		end := start + e.batchSize
		if end > len(linked) {
			end = len(linked)
		}
		chunk := linked[start:end]

		if err := ctx.Err(); err != nil {
			logging.Get(logging.CategoryImport).Warn("Import %s: deadline expired with %d rows pending", importID, len(linked)-start)
			for _, v := range linked[start:] {
				collector.add(v.row, "timeout", "", "import deadline exceeded before this row was inserted")
			}
			return successCount
		}

		batch := make([]*types.ActualRecord, len(chunk))
		for i, v := range chunk {
			batch[i] = v.rec
		}
		if err := e.store.InsertActualsBatch(ctx, batch); err != nil {
			logging.Get(logging.CategoryImport).Error("Import %s: batch %d-%d failed: %v", importID, start, end, err)
			for _, v := range chunk {
				collector.add(v.row, "database", v.rec.FIDocNo, "batch insert failed")
			}
			continue
		}
		successCount += len(chunk)
	}
	return successCount
}

func (e *Engine) insertCommitmentChunks(ctx context.Context, importID string, linked []indexedCommitment, collector *errorCollector) int {
	successCount := 0
	for start := 0; start < len(linked); start += e.batchSize {
		end := start + e.batchSize
		if end > len(linked) {
			end = len(linked)
		}
		chunk := linked[start:end]

		if err := ctx.Err(); err != nil {
			logging.Get(logging.CategoryImport).Warn("Import %s: deadline expired with %d rows pending", importID, len(linked)-start)
			for _, v := range linked[start:] {
				collector.add(v.row, "timeout", "", "import deadline exceeded before this row was inserted")
			}
			return successCount
		}

		batch := make([]*types.CommitmentRecord, len(chunk))
		for i, v := range chunk {
			batch[i] = v.rec
		}
		if err := e.store.InsertCommitmentsBatch(ctx, batch); err != nil {
			logging.Get(logging.CategoryImport).Error("Import %s: batch %d-%d failed: %v", importID, start, end, err)
			for _, v := range chunk {
				collector.add(v.row, "database", fmt.Sprintf("%s/%d", v.rec.PONumber, v.rec.POLineNr), "batch insert failed")
			}
			continue
		}
		successCount += len(chunk)
	}
	return successCount
}

// =============================================================================
// FINALIZATION
// =============================================================================

func (e *Engine) finalize(ctx context.Context, importID string, importType types.ImportType, userID string,
	total, successCount, duplicateCount int, collector *errorCollector, startedAt time.Time) *types.ImportResult {

	errorCount := collector.affectedRows()
	var status types.ImportStatus
	switch {
	case errorCount == 0:
		status = types.ImportCompleted
	case successCount > 0:
		status = types.ImportPartial
	default:
		status = types.ImportFailed
	}

	errors := collector.finalize()
	result := &types.ImportResult{
		Success:        status != types.ImportFailed,
		ImportID:       importID,
		Total:          total,
		SuccessCount:   successCount,
		DuplicateCount: duplicateCount,
		ErrorCount:     errorCount,
		Errors:         errors,
		Status:         status,
		Message: fmt.Sprintf("Imported %d of %d rows (%d duplicates, %d errors)",
			successCount, total, duplicateCount, errorCount),
	}

	entry := &types.ImportAuditEntry{
		ImportID:       importID,
		UserID:         userID,
		ImportType:     importType,
		Total:          total,
		SuccessCount:   successCount,
		DuplicateCount: duplicateCount,
		ErrorCount:     errorCount,
		Status:         status,
		Errors:         errors,
		StartedAt:      startedAt,
		FinishedAt:     time.Now().UTC(),
	}
	// Audit is mandatory but never masks the import outcome. Run it on a
	// fresh context so a deadline-expired import still gets its entry.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.store.AppendImportAudit(auditCtx, entry); err != nil {
		logging.Get(logging.CategoryAudit).StructuredLog("error", "import audit write failed", map[string]interface{}{
			"import_id": importID,
			"type":      string(importType),
			"error":     err.Error(),
		})
	}

	logging.Import("Import %s: %s (%s)", importID, result.Message, status)
	return result
}

// auditFailure records an import that aborted before producing per-row
// results. Every import call gets an audit entry, total failure included.
func (e *Engine) auditFailure(ctx context.Context, importID string, importType types.ImportType, userID string,
	total int, startedAt time.Time, cause error) {

	entry := &types.ImportAuditEntry{
		ImportID:   importID,
		UserID:     userID,
		ImportType: importType,
		Total:      total,
		ErrorCount: total,
		Status:     types.ImportFailed,
		Errors:     []types.ImportError{{Error: cause.Error()}},
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.store.AppendImportAudit(auditCtx, entry); err != nil {
		logging.Get(logging.CategoryAudit).StructuredLog("error", "import audit write failed", map[string]interface{}{
			"import_id": importID,
			"type":      string(importType),
			"error":     err.Error(),
		})
	}
}

// =============================================================================
// ERROR COLLECTION
// =============================================================================

// errorCollector caps collected errors at maxErrors and appends a single
// aggregate marker for the rest. Affected rows are counted exactly once no
// matter how many field errors they produce.
type errorCollector struct {
	cap      int
	errors   []types.ImportError
	rows     map[int]bool
	overflow int
}

func newErrorCollector(maxErrors int) *errorCollector {
	return &errorCollector{cap: maxErrors, rows: make(map[int]bool)}
}

func (c *errorCollector) add(row int, field, value, msg string) {
	c.rows[row] = true
	if len(c.errors) >= c.cap {
		c.overflow++
		return
	}
	c.errors = append(c.errors, types.ImportError{Row: row, Field: field, Value: value, Error: msg})
}

// affectedRows counts input rows with at least one error.
func (c *errorCollector) affectedRows() int {
	return len(c.rows)
}

// finalize returns the bounded error list with the aggregate marker appended
// when errors were dropped.
func (c *errorCollector) finalize() []types.ImportError {
	if c.overflow == 0 {
		return c.errors
	}
	return append(c.errors, types.ImportError{
		Error: fmt.Sprintf("... and %d more errors", c.overflow),
	})
}
