package model

import (
	"encoding/json"
	"time"
)

// Chunk stores one overlapping window of a document's cleaned text together
// with its embedding. Chunks are immutable once written; re-ingestion replaces
// the document's whole chunk set. Embedding is stored as a JSON array of
// float32 for portability.
type Chunk struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocumentID uint      `gorm:"not null;index" json:"document_id"`
	Ordinal    int       `gorm:"not null" json:"ordinal"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Start      int       `gorm:"not null" json:"start"`
	End        int       `gorm:"not null" json:"end"`
	Embedding  string    `gorm:"type:mediumtext" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *Chunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON.
func (c *Chunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}
