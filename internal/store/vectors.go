package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"ppmcore/internal/logging"
	"ppmcore/internal/types"
)

// UpsertEmbedding stores content with its vector, keyed by
// (content_type, content_id). Last writer wins; the write is serialized at
// the store level so concurrent upserts on one key are safe.
func (s *PPMStore) UpsertEmbedding(ctx context.Context, rec *types.EmbeddingRecord) error {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertEmbedding")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	vecJSON, err := json.Marshal(rec.Vector)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}
	metaJSON, _ := json.Marshal(rec.Metadata)

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO embeddings (content_type, content_id, content_text, embedding, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		rec.ContentType, rec.ContentID, rec.ContentText, string(vecJSON), string(metaJSON))
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}

	if s.vectorExt && len(rec.Vector) > 0 {
		if err := s.syncVecIndex(ctx, rec.ContentType, rec.ContentID, string(vecJSON), len(rec.Vector)); err != nil {
			// The JSON column remains the source of truth; index sync failure
			// degrades search to the fallback path.
			logging.Get(logging.CategoryStore).Warn("vec index sync failed: %v", err)
		}
	}
	return nil
}

// syncVecIndex maintains the vec0 virtual table mirroring the embeddings
// table. The side table vec_map assigns stable rowids per content key.
func (s *PPMStore) syncVecIndex(ctx context.Context, contentType, contentID, vecJSON string, dim int) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(embedding float[%d])", dim)); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vec_map (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			content_type TEXT NOT NULL,
			content_id TEXT NOT NULL,
			UNIQUE(content_type, content_id)
		)`); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO vec_map (content_type, content_id) VALUES (?, ?)",
		contentType, contentID); err != nil {
		return err
	}
	var rowid int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT rowid FROM vec_map WHERE content_type = ? AND content_id = ?",
		contentType, contentID).Scan(&rowid); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM vec_embeddings WHERE rowid = ?", rowid); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO vec_embeddings (rowid, embedding) VALUES (?, ?)", rowid, vecJSON)
	return err
}

// DeleteEmbedding removes the embedding for a business entity. Called from
// entity-deletion hooks; embeddings are weak references, so a failure here
// never blocks the business operation.
func (s *PPMStore) DeleteEmbedding(ctx context.Context, contentType, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vectorExt {
		var rowid int64
		if err := s.db.QueryRowContext(ctx,
			"SELECT rowid FROM vec_map WHERE content_type = ? AND content_id = ?",
			contentType, contentID).Scan(&rowid); err == nil {
			_, _ = s.db.ExecContext(ctx, "DELETE FROM vec_embeddings WHERE rowid = ?", rowid)
			_, _ = s.db.ExecContext(ctx, "DELETE FROM vec_map WHERE rowid = ?", rowid)
		}
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM embeddings WHERE content_type = ? AND content_id = ?", contentType, contentID)
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return nil
}

// SearchEmbeddings returns the most similar stored contents for a query
// vector, ordered by cosine similarity descending. The native vec0 index is
// the primary path; without it, the fallback fetches limit*3 candidate rows
// filtered by content type and ranks them in-process.
func (s *PPMStore) SearchEmbeddings(ctx context.Context, queryVec []float32, contentTypes []string, limit int) ([]types.SearchHit, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchEmbeddings")
	defer timer.Stop()

	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vectorExt {
		hits, err := s.searchVecIndex(ctx, queryVec, contentTypes, limit)
		if err == nil {
			return hits, nil
		}
		logging.Get(logging.CategoryStore).Warn("vec index search failed, using fallback: %v", err)
	}
	return s.searchFallback(ctx, queryVec, contentTypes, limit)
}

func (s *PPMStore) searchVecIndex(ctx context.Context, queryVec []float32, contentTypes []string, limit int) ([]types.SearchHit, error) {
	qJSON, err := json.Marshal(queryVec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query vector: %w", err)
	}

	// Over-fetch so post-filtering by content type still fills the limit.
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.rowid, v.distance, m.content_type, m.content_id
		FROM vec_embeddings v
		JOIN vec_map m ON m.rowid = v.rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`, string(qJSON), limit*3)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	typeFilter := make(map[string]bool, len(contentTypes))
	for _, t := range contentTypes {
		typeFilter[t] = true
	}

	var hits []types.SearchHit
	for rows.Next() {
		var rowid int64
		var distance float64
		var cType, cID string
		if err := rows.Scan(&rowid, &distance, &cType, &cID); err != nil {
			continue
		}
		if len(typeFilter) > 0 && !typeFilter[cType] {
			continue
		}
		hit, err := s.loadHit(ctx, cType, cID)
		if err != nil {
			continue
		}
		hit.Similarity = 1 - distance // vec0 reports cosine distance
		hits = append(hits, *hit)
		if len(hits) >= limit {
			break
		}
	}
	return hits, rows.Err()
}

func (s *PPMStore) loadHit(ctx context.Context, cType, cID string) (*types.SearchHit, error) {
	var hit types.SearchHit
	var metaJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT content_type, content_id, content_text, COALESCE(metadata, '{}')
		FROM embeddings WHERE content_type = ? AND content_id = ?`,
		cType, cID).Scan(&hit.ContentType, &hit.ContentID, &hit.ContentText, &metaJSON)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(metaJSON), &hit.Metadata)
	return &hit, nil
}

func (s *PPMStore) searchFallback(ctx context.Context, queryVec []float32, contentTypes []string, limit int) ([]types.SearchHit, error) {
	query := `
		SELECT content_type, content_id, content_text, COALESCE(embedding, ''), COALESCE(metadata, '{}')
		FROM embeddings WHERE embedding IS NOT NULL`
	var args []interface{}
	if len(contentTypes) > 0 {
		query += " AND content_type IN (" + placeholders(len(contentTypes)) + ")"
		for _, t := range contentTypes {
			args = append(args, t)
		}
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit*3)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var hits []types.SearchHit
	for rows.Next() {
		var hit types.SearchHit
		var vecJSON, metaJSON string
		if err := rows.Scan(&hit.ContentType, &hit.ContentID, &hit.ContentText, &vecJSON, &metaJSON); err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
			continue
		}
		hit.Similarity = cosineSimilarity(queryVec, vec)
		_ = json.Unmarshal([]byte(metaJSON), &hit.Metadata)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// cosineSimilarity computes cosine similarity between two vectors.
// Returns 0 on dimension mismatch or zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
