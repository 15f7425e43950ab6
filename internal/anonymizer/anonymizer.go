// Package anonymizer produces stable pseudonyms for sensitive import fields.
// One Anonymizer instance covers exactly one import session; mappings are
// never persisted, so no pseudonym leaks across sessions.
package anonymizer

import (
	"fmt"
	"sync"

	"ppmcore/internal/types"
)

// genericDescriptions rotates per category; indexes advance per session.
var genericDescriptions = map[string][]string{
	"project":     {"Infrastructure Upgrade", "Digital Transformation", "Process Optimization", "System Migration", "Platform Modernization"},
	"wbs":         {"Phase 1 Delivery", "Core Implementation", "Integration Work", "Quality Assurance", "Deployment Activities"},
	"cost_center": {"Operations Center", "Engineering Division", "Service Delivery", "Shared Services", "Regional Office"},
	"po_line":     {"Professional Services", "Software License", "Hardware Procurement", "Consulting Engagement", "Maintenance Contract"},
	"po_title":    {"Service Agreement", "Purchase Agreement", "Framework Contract", "Supply Order", "Work Order"},
}

// Anonymizer holds the per-session pseudonym maps. Safe for concurrent use
// by the import worker pool.
type Anonymizer struct {
	mu           sync.Mutex
	vendors      map[string]string
	vendorSeq    int
	projectNrs   map[string]string
	projectSeq   int
	personnelNrs map[string]string
	personnelSeq int
	costCenters  map[string]string
	categoryIdx  map[string]int
}

// New returns an empty-session anonymizer.
func New() *Anonymizer {
	return &Anonymizer{
		vendors:      make(map[string]string),
		projectNrs:   make(map[string]string),
		personnelNrs: make(map[string]string),
		costCenters:  make(map[string]string),
		categoryIdx:  make(map[string]int),
	}
}

// Vendor maps a vendor identifier to "Vendor A", "Vendor B", ... in first-seen
// order. Same input returns the same pseudonym for the session's lifetime.
func (a *Anonymizer) Vendor(s string) string {
	if s == "" {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if v, ok := a.vendors[s]; ok {
		return v
	}
	v := "Vendor " + alphaLabel(a.vendorSeq)
	a.vendorSeq++
	a.vendors[s] = v
	// Re-applying a session's own output must be a no-op.
	a.vendors[v] = v
	return v
}

// ProjectNr maps a project number to "P0001", "P0002", ...
func (a *Anonymizer) ProjectNr(s string) string {
	if s == "" {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.projectNrLocked(s)
}

func (a *Anonymizer) projectNrLocked(s string) string {
	if v, ok := a.projectNrs[s]; ok {
		return v
	}
	a.projectSeq++
	v := fmt.Sprintf("P%04d", a.projectSeq)
	a.projectNrs[s] = v
	a.projectNrs[v] = v
	return v
}

// Personnel maps a personnel number to "EMP001", "EMP002", ...
func (a *Anonymizer) Personnel(s string) string {
	if s == "" {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if v, ok := a.personnelNrs[s]; ok {
		return v
	}
	a.personnelSeq++
	v := fmt.Sprintf("EMP%03d", a.personnelSeq)
	a.personnelNrs[s] = v
	a.personnelNrs[v] = v
	return v
}

// Text flattens free text to a fixed placeholder.
func (a *Anonymizer) Text(s string) string {
	if s == "" {
		return ""
	}
	return "Item Description"
}

// GenericDescription rotates through the per-category table with a
// per-session counter. Unknown categories fall back to the po_line table.
func (a *Anonymizer) GenericDescription(category string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.genericDescriptionLocked(category)
}

func (a *Anonymizer) genericDescriptionLocked(category string) string {
	table, ok := genericDescriptions[category]
	if !ok {
		table = genericDescriptions["po_line"]
	}
	idx := a.categoryIdx[category]
	a.categoryIdx[category] = idx + 1
	return table[idx%len(table)]
}

// AnonymizeActual rewrites the sensitive fields of an actual in place.
// Amounts, dates, currency, document numbers and types pass through unchanged.
func (a *Anonymizer) AnonymizeActual(r *types.ActualRecord) {
	r.Vendor = a.Vendor(r.Vendor)
	r.ProjectNr = a.ProjectNr(r.ProjectNr)
	r.WBSElement = a.wbs(r.WBSElement)
	r.PersonnelNr = a.Personnel(r.PersonnelNr)
	r.CostCenter = a.costCenter(r.CostCenter)
	if r.Description != "" {
		r.Description = a.Text(r.Description)
	}
}

// AnonymizeCommitment rewrites the sensitive fields of a commitment in place.
func (a *Anonymizer) AnonymizeCommitment(r *types.CommitmentRecord) {
	r.Vendor = a.Vendor(r.Vendor)
	if r.VendorDescription != "" {
		r.VendorDescription = a.Text(r.VendorDescription)
	}
	r.ProjectNr = a.ProjectNr(r.ProjectNr)
	r.WBSElement = a.wbs(r.WBSElement)
	r.CostCenter = a.costCenter(r.CostCenter)
	if r.Description != "" {
		r.Description = a.GenericDescription("po_line")
	}
}

// wbs reuses the project sequence so WBS codes stay aligned with their
// anonymized project.
func (a *Anonymizer) wbs(s string) string {
	if s == "" {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.projectNrLocked(s)
}

// costCenter assigns one rotating generic name per distinct input.
func (a *Anonymizer) costCenter(s string) string {
	if s == "" {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if v, ok := a.costCenters[s]; ok {
		return v
	}
	v := a.genericDescriptionLocked("cost_center")
	a.costCenters[s] = v
	a.costCenters[v] = v
	return v
}

// alphaLabel converts 0 -> "A", 25 -> "Z", 26 -> "AA" (spreadsheet style).
func alphaLabel(n int) string {
	label := ""
	for {
		label = string(rune('A'+n%26)) + label
		n = n/26 - 1
		if n < 0 {
			break
		}
	}
	return label
}
