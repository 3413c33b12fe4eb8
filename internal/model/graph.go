package model

import (
	"encoding/json"
	"sort"
	"time"
)

// Entity is a node of a document's knowledge graph. Entities are deduplicated
// by (NormName, Type) within the owning document; merging unions ChunkRefs.
type Entity struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	DocumentID uint      `gorm:"not null;uniqueIndex:uq_entity,priority:1" json:"document_id"`
	Name       string    `gorm:"size:256;not null" json:"name"`
	NormName   string    `gorm:"size:256;not null;uniqueIndex:uq_entity,priority:2" json:"-"`
	Type       string    `gorm:"size:64;not null;uniqueIndex:uq_entity,priority:3" json:"type"`
	ChunkRefs  string    `gorm:"type:text" json:"-"` // JSON sorted array of chunk ids
	CreatedAt  time.Time `json:"created_at"`
}

// Relationship is a typed directed edge between two entities of the same
// document graph, deduplicated by (SourceEntityID, TargetEntityID, Type).
type Relationship struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	DocumentID     uint      `gorm:"not null;index" json:"document_id"`
	SourceEntityID uint      `gorm:"not null;uniqueIndex:uq_rel,priority:1" json:"source_entity_id"`
	TargetEntityID uint      `gorm:"not null;uniqueIndex:uq_rel,priority:2" json:"target_entity_id"`
	Type           string    `gorm:"size:64;not null;uniqueIndex:uq_rel,priority:3" json:"type"`
	Attributes     string    `gorm:"type:text" json:"-"` // JSON object
	ChunkRefs      string    `gorm:"type:text" json:"-"` // JSON sorted array of chunk ids
	CreatedAt      time.Time `json:"created_at"`
}

// ChunkRefList parses a JSON chunk-ref column; empty on parse error.
func ChunkRefList(raw string) []uint {
	if raw == "" {
		return nil
	}
	var ids []uint
	_ = json.Unmarshal([]byte(raw), &ids)
	return ids
}

// MergeChunkRefs unions two chunk-ref columns into a sorted, deduplicated
// JSON array. Sorting keeps the stored value independent of merge order.
func MergeChunkRefs(existing string, add []uint) string {
	seen := make(map[uint]struct{})
	for _, id := range ChunkRefList(existing) {
		seen[id] = struct{}{}
	}
	for _, id := range add {
		seen[id] = struct{}{}
	}
	merged := make([]uint, 0, len(seen))
	for id := range seen {
		merged = append(merged, id)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
	b, _ := json.Marshal(merged)
	return string(b)
}

// AttributeMap parses a JSON attribute column; empty on parse error.
func AttributeMap(raw string) map[string]string {
	m := make(map[string]string)
	if raw == "" {
		return m
	}
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}

// MergeAttributes unions attribute maps. On conflicting values the
// lexicographically smaller one wins, so merge order never matters.
func MergeAttributes(existing string, add map[string]string) string {
	merged := AttributeMap(existing)
	for k, v := range add {
		if cur, ok := merged[k]; !ok || v < cur {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return ""
	}
	b, _ := json.Marshal(merged)
	return string(b)
}
