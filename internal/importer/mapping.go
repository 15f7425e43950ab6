package importer

import (
	"strings"

	"ppmcore/internal/types"
)

// RawRow is a mapping from canonical field name to raw string value, the
// intermediate shape between file parsing and schema projection.
type RawRow map[string]string

// canonicalFields lists the target fields per import type; synonyms cover the
// column headers seen in SAP-style exports.
var actualFieldSynonyms = map[string][]string{
	"fi_doc_no":     {"fi_doc_no", "fidocno", "fi_document", "document_number", "doc_no", "belegnr"},
	"posting_date":  {"posting_date", "postingdate", "buchungsdatum", "post_date"},
	"document_date": {"document_date", "doc_date", "belegdatum"},
	"vendor":        {"vendor", "vendor_name", "supplier", "kreditor"},
	"project_nr":    {"project_nr", "project_number", "project", "projektnr"},
	"wbs_element":   {"wbs_element", "wbs", "psp_element", "wbs_code"},
	"amount":        {"amount", "amount_in_lc", "value", "betrag"},
	"currency":      {"currency", "curr", "waehrung"},
	"document_type": {"document_type", "doc_type", "belegart"},
	"cost_center":   {"cost_center", "costcenter", "kostenstelle"},
	"description":   {"description", "text", "line_text", "item_text"},
	"personnel_nr":  {"personnel_nr", "personnel_number", "employee_nr", "personalnr"},
}

var commitmentFieldSynonyms = map[string][]string{
	"po_number":          {"po_number", "purchase_order", "po", "ebeln"},
	"po_line_nr":         {"po_line_nr", "po_line", "line_item", "ebelp"},
	"po_date":            {"po_date", "order_date", "bedat"},
	"vendor":             {"vendor", "vendor_name", "supplier", "kreditor"},
	"vendor_description": {"vendor_description", "vendor_desc", "supplier_name"},
	"project_nr":         {"project_nr", "project_number", "project", "projektnr"},
	"wbs_element":        {"wbs_element", "wbs", "psp_element", "wbs_code"},
	"po_net_amount":      {"po_net_amount", "net_amount", "net_value", "netwr"},
	"total_amount":       {"total_amount", "gross_amount", "gross_value", "brtwr"},
	"currency":           {"currency", "curr", "waehrung"},
	"po_status":          {"po_status", "status", "order_status"},
	"tax_amount":         {"tax_amount", "tax", "mwskz_amount"},
	"cost_center":        {"cost_center", "costcenter", "kostenstelle"},
	"description":        {"description", "short_text", "item_text"},
}

func synonymsFor(importType types.ImportType) map[string][]string {
	if importType == types.ImportCommitments {
		return commitmentFieldSynonyms
	}
	return actualFieldSynonyms
}

// DefaultMapping returns the identity mapping (canonical name to itself) for
// an import type. Callers who already produce canonical columns need nothing
// more.
func DefaultMapping(importType types.ImportType) map[string]string {
	out := make(map[string]string)
	for field := range synonymsFor(importType) {
		out[field] = field
	}
	return out
}

// SuggestMappings inspects file headers and proposes source-column to
// canonical-field assignments. Unmatched headers are omitted.
func SuggestMappings(headers []string, importType types.ImportType) map[string]string {
	synonyms := synonymsFor(importType)
	out := make(map[string]string)
	for _, h := range headers {
		norm := normalizeHeader(h)
		for field, alternatives := range synonyms {
			for _, alt := range alternatives {
				if norm == normalizeHeader(alt) {
					out[h] = field
				}
			}
		}
	}
	return out
}

// normalizeHeader lowercases and strips everything but letters and digits so
// "FI Doc. No." and "fi_doc_no" compare equal.
func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// applyMapping renames the keys of a source row according to the column
// mapping; keys without a mapping entry pass through lowercased.
func applyMapping(src map[string]string, mapping map[string]string) RawRow {
	out := make(RawRow, len(src))
	for k, v := range src {
		if canonical, ok := mapping[k]; ok {
			out[canonical] = v
			continue
		}
		out[strings.ToLower(k)] = v
	}
	return out
}
