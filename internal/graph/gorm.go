package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"investigraph/internal/model"
)

// GormStore persists graphs in MySQL. Merge runs in a transaction and relies
// on the unique (document_id, norm_name, type) and (source, target, type)
// indexes so concurrent per-chunk merges converge instead of duplicating.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Merge(ctx context.Context, userID, documentID uint, ext Extraction) error {
	if len(ext.Entities) == 0 && len(ext.Relationships) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		types := make(map[string]string, len(ext.Entities))
		ids := make(map[string]uint, len(ext.Entities)) // norm name -> entity id

		for _, raw := range ext.Entities {
			norm := NormalizeName(raw.Name)
			types[norm] = raw.Type
			id, err := upsertEntity(tx, userID, documentID, raw.Name, norm, raw.Type, ext.ChunkID)
			if err != nil {
				return err
			}
			ids[norm] = id
		}

		for _, raw := range ext.Relationships {
			srcID, okSrc := ids[NormalizeName(raw.Source)]
			dstID, okDst := ids[NormalizeName(raw.Target)]
			if !okSrc || !okDst {
				continue
			}
			if err := upsertRelationship(tx, userID, documentID, srcID, dstID, raw, ext.ChunkID); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertEntity(tx *gorm.DB, userID, documentID uint, name, norm, typ string, chunkID uint) (uint, error) {
	var ent model.Entity
	err := tx.Where("document_id = ? AND norm_name = ? AND type = ?", documentID, norm, typ).
		First(&ent).Error
	if err == nil {
		refs := model.MergeChunkRefs(ent.ChunkRefs, []uint{chunkID})
		if refs != ent.ChunkRefs {
			if err := tx.Model(&ent).Update("chunk_refs", refs).Error; err != nil {
				return 0, fmt.Errorf("update entity chunk refs failed: %w", err)
			}
		}
		return ent.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("lookup entity failed: %w", err)
	}

	ent = model.Entity{
		UserID:     userID,
		DocumentID: documentID,
		Name:       name,
		NormName:   norm,
		Type:       typ,
		ChunkRefs:  model.MergeChunkRefs("", []uint{chunkID}),
	}
	if err := tx.Create(&ent).Error; err != nil {
		// A concurrent merge won the insert race; fold into its row.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return upsertEntity(tx, userID, documentID, name, norm, typ, chunkID)
		}
		return 0, fmt.Errorf("create entity failed: %w", err)
	}
	return ent.ID, nil
}

func upsertRelationship(tx *gorm.DB, userID, documentID, srcID, dstID uint, raw ExtractedRelationship, chunkID uint) error {
	var rel model.Relationship
	err := tx.Where("source_entity_id = ? AND target_entity_id = ? AND type = ?", srcID, dstID, raw.Type).
		First(&rel).Error
	if err == nil {
		updates := map[string]interface{}{
			"chunk_refs": model.MergeChunkRefs(rel.ChunkRefs, []uint{chunkID}),
			"attributes": model.MergeAttributes(rel.Attributes, raw.Attributes),
		}
		if err := tx.Model(&rel).Updates(updates).Error; err != nil {
			return fmt.Errorf("update relationship failed: %w", err)
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup relationship failed: %w", err)
	}

	rel = model.Relationship{
		UserID:         userID,
		DocumentID:     documentID,
		SourceEntityID: srcID,
		TargetEntityID: dstID,
		Type:           raw.Type,
		Attributes:     model.MergeAttributes("", raw.Attributes),
		ChunkRefs:      model.MergeChunkRefs("", []uint{chunkID}),
	}
	if err := tx.Create(&rel).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return upsertRelationship(tx, userID, documentID, srcID, dstID, raw, chunkID)
		}
		return fmt.Errorf("create relationship failed: %w", err)
	}
	return nil
}

// escapeLike neutralizes the LIKE wildcards in s so a needle built from user
// input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *GormStore) LookupByName(ctx context.Context, scope Scope, name string) ([]model.Entity, error) {
	needle := NormalizeName(name)
	if needle == "" {
		return nil, nil
	}
	q := s.db.WithContext(ctx).Model(&model.Entity{}).
		Joins("JOIN documents ON documents.id = entities.document_id").
		Where("entities.user_id = ? AND documents.status = ?", scope.UserID, model.StatusReady).
		Where("entities.norm_name LIKE ?", "%"+escapeLike(needle)+"%")
	if scope.DocumentID != 0 {
		q = q.Where("entities.document_id = ?", scope.DocumentID)
	}

	var out []model.Entity
	if err := q.Order("entities.id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("lookup entities by name failed: %w", err)
	}
	return out, nil
}

func (s *GormStore) Neighborhood(ctx context.Context, scope Scope, entityIDs []uint, depth int) ([]Fact, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	if depth <= 0 {
		depth = 1
	}

	frontier := entityIDs
	seen := make(map[uint]struct{})
	var facts []Fact

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		q := s.db.WithContext(ctx).Model(&model.Relationship{}).
			Where("user_id = ?", scope.UserID).
			Where("source_entity_id IN ? OR target_entity_id IN ?", frontier, frontier)
		if scope.DocumentID != 0 {
			q = q.Where("document_id = ?", scope.DocumentID)
		}

		var rels []model.Relationship
		if err := q.Order("id").Find(&rels).Error; err != nil {
			return nil, fmt.Errorf("load neighborhood relationships failed: %w", err)
		}

		entitySet := make(map[uint]struct{})
		var fresh []model.Relationship
		for _, rel := range rels {
			if _, ok := seen[rel.ID]; ok {
				continue
			}
			seen[rel.ID] = struct{}{}
			fresh = append(fresh, rel)
			entitySet[rel.SourceEntityID] = struct{}{}
			entitySet[rel.TargetEntityID] = struct{}{}
		}
		if len(fresh) == 0 {
			break
		}

		ids := make([]uint, 0, len(entitySet))
		for id := range entitySet {
			ids = append(ids, id)
		}
		var ents []model.Entity
		if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&ents).Error; err != nil {
			return nil, fmt.Errorf("load neighborhood entities failed: %w", err)
		}
		byID := make(map[uint]model.Entity, len(ents))
		for _, e := range ents {
			byID[e.ID] = e
		}

		for _, rel := range fresh {
			src, okSrc := byID[rel.SourceEntityID]
			dst, okDst := byID[rel.TargetEntityID]
			if !okSrc || !okDst {
				continue
			}
			facts = append(facts, Fact{Source: src, Relation: rel, Target: dst})
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		frontier = ids
	}
	return facts, nil
}

func (s *GormStore) DocumentGraph(ctx context.Context, userID, documentID uint) (*View, error) {
	var ents []model.Entity
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND document_id = ?", userID, documentID).
		Order("id").Find(&ents).Error; err != nil {
		return nil, fmt.Errorf("load document entities failed: %w", err)
	}
	var rels []model.Relationship
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND document_id = ?", userID, documentID).
		Order("id").Find(&rels).Error; err != nil {
		return nil, fmt.Errorf("load document relationships failed: %w", err)
	}

	view := &View{}
	for _, e := range ents {
		view.Nodes = append(view.Nodes, Node{ID: e.ID, Label: e.Name, Type: e.Type})
	}
	for _, r := range rels {
		view.Edges = append(view.Edges, Edge{Source: r.SourceEntityID, Target: r.TargetEntityID, Relation: r.Type})
	}
	return view, nil
}

func (s *GormStore) DeleteDocument(ctx context.Context, userID, documentID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND document_id = ?", userID, documentID).
			Delete(&model.Relationship{}).Error; err != nil {
			return fmt.Errorf("delete document relationships failed: %w", err)
		}
		if err := tx.Where("user_id = ? AND document_id = ?", userID, documentID).
			Delete(&model.Entity{}).Error; err != nil {
			return fmt.Errorf("delete document entities failed: %w", err)
		}
		return nil
	})
}
