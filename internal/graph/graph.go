// Package graph implements the knowledge-graph side of retrieval: LLM-backed
// entity/relationship extraction from chunks, a deduplicating store with
// bounded neighborhood traversal, and the fact rendering used for context
// fusion and visualization.
package graph

import (
	"context"
	"fmt"
	"strings"

	"investigraph/internal/model"
)

// Scope restricts lookups to one document or a user's whole corpus
// (DocumentID zero). Merges always target a concrete document.
type Scope struct {
	UserID     uint
	DocumentID uint
}

// ExtractedEntity is one node pulled out of a chunk, not yet merged.
type ExtractedEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExtractedRelationship is one typed edge pulled out of a chunk. Source and
// Target reference entity names from the same extraction.
type ExtractedRelationship struct {
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Extraction is the validated, filtered result of extracting one chunk.
// Applying a set of extractions to a Store is commutative: any permutation
// yields the same final graph.
type Extraction struct {
	ChunkID       uint
	Entities      []ExtractedEntity
	Relationships []ExtractedRelationship
}

// Fact is one (entity, relationship, entity) triple returned by traversal.
type Fact struct {
	Source   model.Entity
	Relation model.Relationship
	Target   model.Entity
}

// Line renders the fact the way it is handed to the generator.
func (f Fact) Line() string {
	return fmt.Sprintf("%s --[%s]--> %s", f.Source.Name, f.Relation.Type, f.Target.Name)
}

// ChunkRefs returns the chunk ids evidencing the relationship.
func (f Fact) ChunkRefs() []uint {
	return model.ChunkRefList(f.Relation.ChunkRefs)
}

// View is the visualization payload for one document's graph.
type View struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type Node struct {
	ID    uint   `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

type Edge struct {
	Source   uint   `json:"source"`
	Target   uint   `json:"target"`
	Relation string `json:"relation"`
}

// Store persists the per-document knowledge graph. Merge is the only write
// primitive: it deduplicates by normalized (name, type) within the document
// and unions chunk references, making it idempotent and safe for concurrent
// per-chunk writers.
type Store interface {
	Merge(ctx context.Context, userID, documentID uint, ext Extraction) error
	LookupByName(ctx context.Context, scope Scope, name string) ([]model.Entity, error)
	Neighborhood(ctx context.Context, scope Scope, entityIDs []uint, depth int) ([]Fact, error)
	DocumentGraph(ctx context.Context, userID, documentID uint) (*View, error)
	DeleteDocument(ctx context.Context, userID, documentID uint) error
}

// NormalizeName lowercases and collapses whitespace; the result is the
// entity dedup key together with the type.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// NormalizeType uppercases an entity type tag.
func NormalizeType(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// NormalizeRelType uppercases a relation name and joins words with
// underscores, e.g. "is ceo of" -> "IS_CEO_OF".
func NormalizeRelType(t string) string {
	return strings.Join(strings.Fields(strings.ToUpper(strings.TrimSpace(t))), "_")
}
