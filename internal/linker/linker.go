// Package linker resolves project numbers to project ids during bulk import,
// auto-creating missing projects. A Linker is scoped to one import session so
// anonymized names never leak between concurrent imports.
package linker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"ppmcore/internal/logging"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

// Linker caches project_nr -> project_id for one import session.
type Linker struct {
	store              *store.PPMStore
	defaultPortfolioID string

	mu    sync.Mutex
	cache map[string]string
}

// New returns a linker with an empty cache.
func New(st *store.PPMStore, defaultPortfolioID string) *Linker {
	return &Linker{
		store:              st,
		defaultPortfolioID: defaultPortfolioID,
		cache:              make(map[string]string),
	}
}

// Preload fetches (name, id) for every existing project in one query so the
// ingestion loop never does per-row lookups.
func (l *Linker) Preload(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryImport, "linker.Preload")
	defer timer.Stop()

	names, err := l.store.ListProjectNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to preload project cache: %w", err)
	}

	l.mu.Lock()
	for name, id := range names {
		l.cache[name] = id
	}
	l.mu.Unlock()

	logging.ImportDebug("Linker preloaded %d projects", len(names))
	return nil
}

// GetOrCreate resolves a project number to a project id, creating the project
// on first sight. Idempotent: N calls with the same arguments return the same
// id and create at most one row.
func (l *Linker) GetOrCreate(ctx context.Context, projectNr, wbsElement string) (string, error) {
	if projectNr == "" {
		return "", fmt.Errorf("project number is empty")
	}

	l.mu.Lock()
	if id, ok := l.cache[projectNr]; ok {
		l.mu.Unlock()
		return id, nil
	}
	l.mu.Unlock()

	// Cache miss: check the store before creating. The project name is the
	// stored pseudonym for the project number.
	existing, err := l.store.GetProjectByName(ctx, projectNr)
	if err == nil {
		l.put(projectNr, existing.ID)
		return existing.ID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up project %s: %w", projectNr, err)
	}

	description := ""
	if wbsElement != "" {
		description = fmt.Sprintf("Auto-created project for WBS: %s", wbsElement)
	}
	created, err := l.store.CreateProject(ctx, &types.Project{
		PortfolioID: l.defaultPortfolioID,
		Name:        projectNr,
		Description: description,
		Status:      types.ProjectActive,
		Health:      types.HealthGreen,
	})
	if err != nil {
		return "", fmt.Errorf("failed to auto-create project %s: %w", projectNr, err)
	}

	logging.ImportDebug("Auto-created project %s -> %s", projectNr, created.ID)
	l.put(projectNr, created.ID)
	return created.ID, nil
}

func (l *Linker) put(projectNr, id string) {
	l.mu.Lock()
	l.cache[projectNr] = id
	l.mu.Unlock()
}

// CacheSize reports how many project numbers are cached.
func (l *Linker) CacheSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cache)
}
