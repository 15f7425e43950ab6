package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ppmcore/internal/logging"
	"ppmcore/internal/types"
)

// POLineKey is the composite uniqueness key of a commitment.
type POLineKey struct {
	PONumber string
	POLineNr int
}

// SQLite caps bound parameters per statement (SQLITE_MAX_VARIABLE_NUMBER,
// 32766 in the bundled driver); key lists are chunked to stay under it.
const dedupeChunkSize = 30000

// ExistingFIDocNos returns the subset of the given document numbers that are
// already stored. One query per key chunk, never per row.
func (s *PPMStore) ExistingFIDocNos(ctx context.Context, docNos []string) (map[string]bool, error) {
	if len(docNos) == 0 {
		return map[string]bool{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool)
	for start := 0; start < len(docNos); start += dedupeChunkSize {
		end := start + dedupeChunkSize
		if end > len(docNos) {
			end = len(docNos)
		}
		chunk := docNos[start:end]

		args := make([]interface{}, len(chunk))
		for i, d := range chunk {
			args[i] = d
		}
		rows, err := s.db.QueryContext(ctx,
			"SELECT fi_doc_no FROM actuals WHERE fi_doc_no IN ("+placeholders(len(chunk))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query existing fi_doc_no: %w", err)
		}
		for rows.Next() {
			var d string
			if err := rows.Scan(&d); err != nil {
				continue
			}
			out[d] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// ExistingPOLines returns stored (po_number, po_line_nr) pairs for the given
// distinct PO numbers.
func (s *PPMStore) ExistingPOLines(ctx context.Context, poNumbers []string) (map[POLineKey]bool, error) {
	if len(poNumbers) == 0 {
		return map[POLineKey]bool{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[POLineKey]bool)
	for start := 0; start < len(poNumbers); start += dedupeChunkSize {
		end := start + dedupeChunkSize
		if end > len(poNumbers) {
			end = len(poNumbers)
		}
		chunk := poNumbers[start:end]

		args := make([]interface{}, len(chunk))
		for i, p := range chunk {
			args[i] = p
		}
		rows, err := s.db.QueryContext(ctx,
			"SELECT po_number, po_line_nr FROM commitments WHERE po_number IN ("+placeholders(len(chunk))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query existing po lines: %w", err)
		}
		for rows.Next() {
			var key POLineKey
			if err := rows.Scan(&key.PONumber, &key.POLineNr); err != nil {
				continue
			}
			out[key] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// InsertActualsBatch inserts one chunk of actuals inside a transaction.
// The whole chunk fails or succeeds together; the import engine treats a
// failed chunk as per-row database errors and continues with the next.
func (s *PPMStore) InsertActualsBatch(ctx context.Context, batch []*types.ActualRecord) error {
	timer := logging.StartTimer(logging.CategoryStore, "InsertActualsBatch")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO actuals (id, fi_doc_no, posting_date, document_date, vendor, project_id, project_nr, wbs_element, amount, currency, document_type, cost_center, description, personnel_nr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.FIDocNo, r.PostingDate,
			r.DocumentDate, r.Vendor, r.ProjectID, r.ProjectNr, r.WBSElement,
			r.Amount, r.Currency, r.DocumentType, r.CostCenter, r.Description,
			r.PersonnelNr); err != nil {
			return fmt.Errorf("failed to insert actual %s: %w", r.FIDocNo, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// InsertCommitmentsBatch inserts one chunk of commitments transactionally.
func (s *PPMStore) InsertCommitmentsBatch(ctx context.Context, batch []*types.CommitmentRecord) error {
	timer := logging.StartTimer(logging.CategoryStore, "InsertCommitmentsBatch")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO commitments (id, po_number, po_line_nr, po_date, vendor, vendor_description, project_id, project_nr, wbs_element, po_net_amount, total_amount, currency, po_status, tax_amount, cost_center, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.PONumber, r.POLineNr,
			r.PODate, r.Vendor, r.VendorDescription, r.ProjectID, r.ProjectNr,
			r.WBSElement, r.PONetAmount, r.TotalAmount, r.Currency, r.POStatus,
			r.TaxAmount, r.CostCenter, r.Description); err != nil {
			return fmt.Errorf("failed to insert commitment %s/%d: %w", r.PONumber, r.POLineNr, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// FinancialTotals aggregates commitment and actual sums for one grouping key.
type FinancialTotals struct {
	ProjectID       string
	WBSElement      string
	TotalCommitment float64
	TotalActual     float64
}

// ProjectFinancialTotals returns per-project commitment and actual sums.
// Passing no ids aggregates every project that has financial facts.
func (s *PPMStore) ProjectFinancialTotals(ctx context.Context, projectIDs []string) (map[string]*FinancialTotals, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ProjectFinancialTotals")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*FinancialTotals)

	filter := ""
	var args []interface{}
	if len(projectIDs) > 0 {
		filter = " WHERE project_id IN (" + placeholders(len(projectIDs)) + ")"
		for _, id := range projectIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT project_id, COALESCE(SUM(po_net_amount), 0) FROM commitments"+filter+" GROUP BY project_id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to sum commitments: %w", err)
	}
	for rows.Next() {
		var id string
		var sum float64
		if err := rows.Scan(&id, &sum); err != nil {
			continue
		}
		out[id] = &FinancialTotals{ProjectID: id, TotalCommitment: sum}
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		"SELECT project_id, COALESCE(SUM(amount), 0) FROM actuals"+filter+" GROUP BY project_id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to sum actuals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var sum float64
		if err := rows.Scan(&id, &sum); err != nil {
			continue
		}
		t, ok := out[id]
		if !ok {
			t = &FinancialTotals{ProjectID: id}
			out[id] = t
		}
		t.TotalActual = sum
	}
	return out, rows.Err()
}

// WBSFinancialTotals returns per-(project, wbs_element) sums for one project.
func (s *PPMStore) WBSFinancialTotals(ctx context.Context, projectID string) (map[string]*FinancialTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*FinancialTotals)

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(wbs_element, ''), COALESCE(SUM(po_net_amount), 0)
		FROM commitments WHERE project_id = ? GROUP BY wbs_element`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum commitments by wbs: %w", err)
	}
	for rows.Next() {
		var wbs string
		var sum float64
		if err := rows.Scan(&wbs, &sum); err != nil {
			continue
		}
		out[wbs] = &FinancialTotals{ProjectID: projectID, WBSElement: wbs, TotalCommitment: sum}
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT COALESCE(wbs_element, ''), COALESCE(SUM(amount), 0)
		FROM actuals WHERE project_id = ? GROUP BY wbs_element`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum actuals by wbs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var wbs string
		var sum float64
		if err := rows.Scan(&wbs, &sum); err != nil {
			continue
		}
		t, ok := out[wbs]
		if !ok {
			t = &FinancialTotals{ProjectID: projectID, WBSElement: wbs}
			out[wbs] = t
		}
		t.TotalActual = sum
	}
	return out, rows.Err()
}

// ActualTotalsSince returns daily actual sums for one project over a window.
// Feeds the variance trend view.
func (s *PPMStore) ActualTotalsSince(ctx context.Context, projectID string, since time.Time) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DATE(COALESCE(posting_date, created_at)), COALESCE(SUM(amount), 0)
		FROM actuals
		WHERE project_id = ? AND COALESCE(posting_date, created_at) >= ?
		GROUP BY DATE(COALESCE(posting_date, created_at))
		ORDER BY 1`, projectID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query actual trend: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var day string
		var sum float64
		if err := rows.Scan(&day, &sum); err != nil {
			continue
		}
		out[day] = sum
	}
	return out, rows.Err()
}

// CategorySpend returns per-category sums from financial_tracking rows.
func (s *PPMStore) CategorySpend(ctx context.Context, projectIDs []string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := ""
	var args []interface{}
	if len(projectIDs) > 0 {
		filter = " WHERE project_id IN (" + placeholders(len(projectIDs)) + ")"
		for _, id := range projectIDs {
			args = append(args, id)
		}
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT category, COALESCE(SUM(amount), 0) FROM financial_tracking"+filter+" GROUP BY category", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query category spend: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var cat string
		var sum float64
		if err := rows.Scan(&cat, &sum); err != nil {
			continue
		}
		out[cat] = sum
	}
	return out, rows.Err()
}

// AddFinancialEntry appends one financial_tracking row.
func (s *PPMStore) AddFinancialEntry(ctx context.Context, projectID, category string, amount float64, currency, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO financial_tracking (id, project_id, category, amount, currency, description)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), projectID, category, amount, currency, description)
	if err != nil {
		return fmt.Errorf("failed to add financial entry: %w", err)
	}
	return nil
}
