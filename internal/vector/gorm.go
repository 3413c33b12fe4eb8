package vector

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"investigraph/internal/model"
)

// GormIndex scores chunk embeddings persisted in MySQL. Vectors live on the
// chunk rows themselves; Search loads the candidate rows for the scope and
// ranks them by cosine similarity in memory.
type GormIndex struct {
	db *gorm.DB
}

func NewGormIndex(db *gorm.DB) *GormIndex {
	return &GormIndex{db: db}
}

func (g *GormIndex) Upsert(ctx context.Context, _ Scope, chunkID uint, vec []float32) error {
	var c model.Chunk
	c.SetEmbedding(vec)
	if err := g.db.WithContext(ctx).Model(&model.Chunk{}).Where("id = ?", chunkID).
		Update("embedding", c.Embedding).Error; err != nil {
		return fmt.Errorf("upsert chunk embedding failed: %w", err)
	}
	return nil
}

func (g *GormIndex) Search(ctx context.Context, scope Scope, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	q := g.db.WithContext(ctx).Model(&model.Chunk{}).
		Select("chunks.id", "chunks.embedding").
		Joins("JOIN documents ON documents.id = chunks.document_id").
		Where("documents.user_id = ? AND documents.status = ?", scope.UserID, model.StatusReady)
	if scope.DocumentID != 0 {
		q = q.Where("chunks.document_id = ?", scope.DocumentID)
	}

	// Insertion order (ascending id) is the deterministic tie-break order.
	var chunks []model.Chunk
	if err := q.Order("chunks.id").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("load chunk embeddings failed: %w", err)
	}

	results := make([]Result, 0, len(chunks))
	for i := range chunks {
		results = append(results, Result{
			ChunkID: chunks[i].ID,
			Score:   Cosine(query, chunks[i].EmbeddingVector()),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}
