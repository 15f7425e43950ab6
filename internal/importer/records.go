package importer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ppmcore/internal/types"
)

// dateLayouts covers the formats seen in SAP exports and JSON payloads.
var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"2006/01/02",
	time.RFC3339,
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}

func parseAmount(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("amount is empty")
	}
	// Tolerate thousands separators and a currency sign.
	cleaned := strings.NewReplacer(",", "", "$", "", "€", "", " ", "").Replace(s)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// projectActual converts a canonical raw row into a typed actual, returning
// field-level errors. The row index is attached by the caller.
func projectActual(row RawRow) (*types.ActualRecord, []fieldError) {
	var errs []fieldError
	rec := &types.ActualRecord{
		FIDocNo:      row["fi_doc_no"],
		Vendor:       row["vendor"],
		ProjectNr:    row["project_nr"],
		WBSElement:   row["wbs_element"],
		Currency:     defaultStr(row["currency"], "USD"),
		DocumentType: row["document_type"],
		CostCenter:   row["cost_center"],
		Description:  row["description"],
		PersonnelNr:  row["personnel_nr"],
	}

	if rec.FIDocNo == "" {
		errs = append(errs, fieldError{"fi_doc_no", row["fi_doc_no"], "document number is required"})
	}
	if rec.ProjectNr == "" && rec.WBSElement == "" {
		errs = append(errs, fieldError{"project_nr", "", "project number or WBS element is required"})
	}

	amount, err := parseAmount(row["amount"])
	if err != nil {
		errs = append(errs, fieldError{"amount", row["amount"], err.Error()})
	}
	rec.Amount = amount

	if d, err := parseDate(row["posting_date"]); err != nil {
		errs = append(errs, fieldError{"posting_date", row["posting_date"], err.Error()})
	} else {
		rec.PostingDate = d
	}
	if d, err := parseDate(row["document_date"]); err != nil {
		errs = append(errs, fieldError{"document_date", row["document_date"], err.Error()})
	} else {
		rec.DocumentDate = d
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return rec, nil
}

// projectCommitment converts a canonical raw row into a typed commitment.
func projectCommitment(row RawRow) (*types.CommitmentRecord, []fieldError) {
	var errs []fieldError
	rec := &types.CommitmentRecord{
		PONumber:          row["po_number"],
		Vendor:            row["vendor"],
		VendorDescription: row["vendor_description"],
		ProjectNr:         row["project_nr"],
		WBSElement:        row["wbs_element"],
		Currency:          defaultStr(row["currency"], "USD"),
		POStatus:          row["po_status"],
		CostCenter:        row["cost_center"],
		Description:       row["description"],
	}

	if rec.PONumber == "" {
		errs = append(errs, fieldError{"po_number", row["po_number"], "PO number is required"})
	}
	lineNr, err := strconv.Atoi(defaultStr(row["po_line_nr"], "0"))
	if err != nil || lineNr <= 0 {
		errs = append(errs, fieldError{"po_line_nr", row["po_line_nr"], "PO line number must be a positive integer"})
	}
	rec.POLineNr = lineNr

	if rec.ProjectNr == "" && rec.WBSElement == "" {
		errs = append(errs, fieldError{"project_nr", "", "project number or WBS element is required"})
	}

	net, err := parseAmount(row["po_net_amount"])
	if err != nil {
		errs = append(errs, fieldError{"po_net_amount", row["po_net_amount"], err.Error()})
	}
	rec.PONetAmount = net

	if row["total_amount"] != "" {
		total, err := parseAmount(row["total_amount"])
		if err != nil {
			errs = append(errs, fieldError{"total_amount", row["total_amount"], err.Error()})
		}
		rec.TotalAmount = total
	} else {
		rec.TotalAmount = net
	}
	if row["tax_amount"] != "" {
		tax, err := parseAmount(row["tax_amount"])
		if err != nil {
			errs = append(errs, fieldError{"tax_amount", row["tax_amount"], err.Error()})
		}
		rec.TaxAmount = tax
	}

	if d, err := parseDate(row["po_date"]); err != nil {
		errs = append(errs, fieldError{"po_date", row["po_date"], err.Error()})
	} else {
		rec.PODate = d
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return rec, nil
}

// fieldError is one validation failure before it is attached to a row index.
type fieldError struct {
	field string
	value string
	msg   string
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
