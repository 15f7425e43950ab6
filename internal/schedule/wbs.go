package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ppmcore/internal/apperr"
	"ppmcore/internal/logging"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

// CreateWBSElement validates and inserts a WBS node. Level and sort order
// are derived from the parent; explicit values are ignored.
func (s *Service) CreateWBSElement(ctx context.Context, w *types.WBSElement) (*types.WBSElement, error) {
	if w.Code == "" {
		return nil, apperr.Validation("code", "wbs code is required")
	}
	if w.Name == "" {
		return nil, apperr.Validation("name", "wbs name is required")
	}

	level := 1
	if w.ParentID != "" {
		parent, err := s.store.GetWBSElement(ctx, w.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, apperr.NotFound("wbs_element", w.ParentID)
			}
			return nil, err
		}
		if parent.ProjectID != w.ProjectID {
			return nil, apperr.Validation("parent_id", "parent belongs to a different project")
		}
		level = parent.LevelNumber + 1
	}
	w.LevelNumber = level

	sortOrder, err := s.store.NextWBSSortOrder(ctx, w.ProjectID, w.ParentID)
	if err != nil {
		return nil, err
	}
	w.SortOrder = sortOrder

	if err := s.store.CreateWBSElement(ctx, w); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, apperr.Conflict(fmt.Sprintf("wbs code %s already exists in project", w.Code))
		}
		return nil, err
	}
	return w, nil
}

// MoveWBSElement reparents a node:
//  1. refuses moves that would create a cycle,
//  2. closes the sort_order gap among old siblings and shifts new siblings
//     at/after the insertion position,
//  3. recomputes level numbers for the moved subtree.
func (s *Service) MoveWBSElement(ctx context.Context, elementID, newParentID string, position int) error {
	node, err := s.store.GetWBSElement(ctx, elementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("wbs_element", elementID)
		}
		return err
	}

	all, err := s.store.ListWBSElements(ctx, node.ProjectID)
	if err != nil {
		return err
	}
	byID := make(map[string]*types.WBSElement, len(all))
	children := make(map[string][]*types.WBSElement)
	for _, w := range all {
		byID[w.ID] = w
		children[w.ParentID] = append(children[w.ParentID], w)
	}

	newLevel := 1
	if newParentID != "" {
		parent, ok := byID[newParentID]
		if !ok {
			return apperr.NotFound("wbs_element", newParentID)
		}
		// walking up from the new parent must never reach the moved node
		for cur := parent; cur != nil; {
			if cur.ID == elementID {
				return apperr.Conflict("move would create a cycle in the wbs tree")
			}
			cur = byID[cur.ParentID]
		}
		newLevel = parent.LevelNumber + 1
	}

	// close the gap among old siblings
	for _, sib := range children[node.ParentID] {
		if sib.ID != elementID && sib.SortOrder > node.SortOrder {
			if err := s.store.MoveWBSElement(ctx, sib.ID, sib.ParentID, sib.LevelNumber, sib.SortOrder-1); err != nil {
				return err
			}
		}
	}

	// shift new siblings at or after the insertion position
	newSiblings := children[newParentID]
	if position < 0 || position > len(newSiblings) {
		position = len(newSiblings)
	}
	for _, sib := range newSiblings {
		if sib.ID == elementID {
			continue
		}
		order := sib.SortOrder
		if sib.ParentID == node.ParentID && order > node.SortOrder {
			order-- // already shifted above
		}
		if order >= position {
			if err := s.store.MoveWBSElement(ctx, sib.ID, sib.ParentID, sib.LevelNumber, order+1); err != nil {
				return err
			}
		}
	}

	if err := s.store.MoveWBSElement(ctx, elementID, newParentID, newLevel, position); err != nil {
		return err
	}

	// recompute levels down the moved subtree
	delta := newLevel - node.LevelNumber
	if delta != 0 {
		var walk func(id string)
		walk = func(id string) {
			for _, child := range children[id] {
				if err := s.store.UpdateWBSLevel(ctx, child.ID, child.LevelNumber+delta); err != nil {
					logging.Get(logging.CategorySchedule).Warn("level recompute failed for %s: %v", child.ID, err)
				}
				walk(child.ID)
			}
		}
		walk(elementID)
	}

	logging.ScheduleDebug("moved wbs %s under %q at position %d", elementID, newParentID, position)
	return nil
}

// DeleteWBSElement removes a node without children.
func (s *Service) DeleteWBSElement(ctx context.Context, elementID string) error {
	node, err := s.store.GetWBSElement(ctx, elementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("wbs_element", elementID)
		}
		return err
	}

	all, err := s.store.ListWBSElements(ctx, node.ProjectID)
	if err != nil {
		return err
	}
	for _, w := range all {
		if w.ParentID == elementID {
			return apperr.Conflict("wbs element has children; move or delete them first")
		}
	}
	return s.store.DeleteWBSElement(ctx, elementID)
}

// WBSTree lists all WBS nodes of a project in level-then-sibling order.
func (s *Service) WBSTree(ctx context.Context, projectID string) ([]*types.WBSElement, error) {
	return s.store.ListWBSElements(ctx, projectID)
}

// StructureIssue is one finding of the WBS structure validator.
type StructureIssue struct {
	Severity  string `json:"severity"` // "error" or "warning"
	ElementID string `json:"element_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
}

// ValidateStructure audits a project's WBS tree: orphan parents, duplicate
// codes, cycles, and level numbers inconsistent with the parent chain are
// errors; leaves without a work-package manager or deliverable description
// are warnings.
func (s *Service) ValidateStructure(ctx context.Context, projectID string) ([]StructureIssue, error) {
	all, err := s.store.ListWBSElements(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var issues []StructureIssue
	byID := make(map[string]*types.WBSElement, len(all))
	hasChildren := make(map[string]bool)
	codes := make(map[string]string)
	for _, w := range all {
		byID[w.ID] = w
		if w.ParentID != "" {
			hasChildren[w.ParentID] = true
		}
		if firstID, dup := codes[w.Code]; dup {
			issues = append(issues, StructureIssue{
				Severity: "error", ElementID: w.ID, Code: w.Code,
				Message: fmt.Sprintf("duplicate wbs code (also on %s)", firstID),
			})
		} else {
			codes[w.Code] = w.ID
		}
	}

	for _, w := range all {
		if w.ParentID != "" {
			parent, ok := byID[w.ParentID]
			if !ok {
				issues = append(issues, StructureIssue{
					Severity: "error", ElementID: w.ID, Code: w.Code,
					Message: fmt.Sprintf("orphan reference: parent %s does not exist", w.ParentID),
				})
				continue
			}
			if w.LevelNumber != parent.LevelNumber+1 {
				issues = append(issues, StructureIssue{
					Severity: "error", ElementID: w.ID, Code: w.Code,
					Message: fmt.Sprintf("inconsistent level: %d under parent level %d", w.LevelNumber, parent.LevelNumber),
				})
			}
		} else if w.LevelNumber != 1 {
			issues = append(issues, StructureIssue{
				Severity: "error", ElementID: w.ID, Code: w.Code,
				Message: fmt.Sprintf("root element has level %d, expected 1", w.LevelNumber),
			})
		}

		if cycleAt(w, byID) {
			issues = append(issues, StructureIssue{
				Severity: "error", ElementID: w.ID, Code: w.Code,
				Message: "cycle in parent chain",
			})
		}

		if !hasChildren[w.ID] {
			if w.WorkPackageManager == "" {
				issues = append(issues, StructureIssue{
					Severity: "warning", ElementID: w.ID, Code: w.Code,
					Message: "leaf work package has no manager assigned",
				})
			}
			if w.DeliverableDescription == "" {
				issues = append(issues, StructureIssue{
					Severity: "warning", ElementID: w.ID, Code: w.Code,
					Message: "leaf work package has no deliverable description",
				})
			}
		}
	}
	return issues, nil
}

// cycleAt walks up from a node; revisiting the node or walking more steps
// than elements exist means the chain loops.
func cycleAt(w *types.WBSElement, byID map[string]*types.WBSElement) bool {
	steps := 0
	for cur := byID[w.ParentID]; cur != nil; cur = byID[cur.ParentID] {
		if cur.ID == w.ID {
			return true
		}
		steps++
		if steps > len(byID) {
			return true
		}
	}
	return false
}
