package ai

import (
	"context"
	"fmt"
	"strings"

	"ppmcore/internal/logging"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

// Content types recognized by the embedding store and the RAG search.
const (
	ContentProject   = "project"
	ContentPortfolio = "portfolio"
	ContentResource  = "resource"
)

// Indexer keeps the embedding store synchronized with business entities.
// It runs on demand and from entity-change hooks; failures are logged and
// never block the triggering operation.
type Indexer struct {
	store  *store.PPMStore
	engine EmbeddingEngine
}

// NewIndexer builds an Indexer over the given store and engine.
func NewIndexer(st *store.PPMStore, engine EmbeddingEngine) *Indexer {
	return &Indexer{store: st, engine: engine}
}

// ProjectText synthesizes the canonical embedding text for a project.
func ProjectText(p *types.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s.", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&b, " Description: %s.", p.Description)
	}
	fmt.Fprintf(&b, " Status: %s. Health: %s.", p.Status, p.Health)
	if p.Budget > 0 {
		fmt.Fprintf(&b, " Budget: %.2f.", p.Budget)
	}
	return b.String()
}

// PortfolioText synthesizes the canonical embedding text for a portfolio.
func PortfolioText(p *types.Portfolio) string {
	return fmt.Sprintf("Portfolio: %s.", p.Name)
}

// ResourceText synthesizes the canonical embedding text for a resource.
func ResourceText(r *types.Resource) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Resource: %s. Role: %s.", r.Name, r.Role)
	if len(r.Skills) > 0 {
		fmt.Fprintf(&b, " Skills: %s.", strings.Join(r.Skills, ", "))
	}
	if r.Location != "" {
		fmt.Fprintf(&b, " Location: %s.", r.Location)
	}
	return b.String()
}

// IndexProject upserts a project's embedding. Called from entity-change
// hooks; the write is last-writer-wins per (content_type, content_id).
func (ix *Indexer) IndexProject(ctx context.Context, p *types.Project) error {
	return ix.index(ctx, ContentProject, p.ID, ProjectText(p), map[string]interface{}{
		"name":   p.Name,
		"status": string(p.Status),
	})
}

// IndexPortfolio upserts a portfolio's embedding.
func (ix *Indexer) IndexPortfolio(ctx context.Context, p *types.Portfolio) error {
	return ix.index(ctx, ContentPortfolio, p.ID, PortfolioText(p), map[string]interface{}{
		"name": p.Name,
	})
}

// IndexResource upserts a resource's embedding.
func (ix *Indexer) IndexResource(ctx context.Context, r *types.Resource) error {
	return ix.index(ctx, ContentResource, r.ID, ResourceText(r), map[string]interface{}{
		"name": r.Name,
		"role": r.Role,
	})
}

func (ix *Indexer) index(ctx context.Context, contentType, contentID, text string, meta map[string]interface{}) error {
	timer := logging.StartTimer(logging.CategoryAI, "index "+contentType)
	defer timer.Stop()

	vec, err := ix.engine.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed %s %s: %w", contentType, contentID, err)
	}

	err = ix.store.UpsertEmbedding(ctx, &types.EmbeddingRecord{
		ContentType: contentType,
		ContentID:   contentID,
		ContentText: text,
		Vector:      vec,
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("failed to store embedding for %s %s: %w", contentType, contentID, err)
	}
	logging.AIDebug("indexed %s %s (%d dims)", contentType, contentID, len(vec))
	return nil
}

// Remove deletes an entity's embedding after the entity itself is deleted.
func (ix *Indexer) Remove(ctx context.Context, contentType, contentID string) error {
	return ix.store.DeleteEmbedding(ctx, contentType, contentID)
}

// ReindexProjects rebuilds embeddings for all projects in one batch call.
// Used by the on-demand reindex operation.
func (ix *Indexer) ReindexProjects(ctx context.Context) (int, error) {
	projects, err := ix.store.ListProjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list projects for reindex: %w", err)
	}
	if len(projects) == 0 {
		return 0, nil
	}

	texts := make([]string, len(projects))
	for i, p := range projects {
		texts[i] = ProjectText(p)
	}
	vectors, err := ix.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to batch embed projects: %w", err)
	}

	indexed := 0
	for i, p := range projects {
		err := ix.store.UpsertEmbedding(ctx, &types.EmbeddingRecord{
			ContentType: ContentProject,
			ContentID:   p.ID,
			ContentText: texts[i],
			Vector:      vectors[i],
			Metadata:    map[string]interface{}{"name": p.Name, "status": string(p.Status)},
		})
		if err != nil {
			logging.Get(logging.CategoryAI).Warn("reindex skipped project %s: %v", p.ID, err)
			continue
		}
		indexed++
	}
	logging.AI("reindexed %d/%d projects", indexed, len(projects))
	return indexed, nil
}
