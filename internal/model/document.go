package model

import "time"

// Document processing states. Transitions are one-directional:
// Received -> Extracting -> Chunking -> Embedding -> GraphExtracting -> Ready,
// with Failed reachable from any non-terminal state. Only Ready documents
// are visible to query-time retrieval.
const (
	StatusReceived        = "received"
	StatusExtracting      = "extracting"
	StatusChunking        = "chunking"
	StatusEmbedding       = "embedding"
	StatusGraphExtracting = "graph_extracting"
	StatusReady           = "ready"
	StatusFailed          = "failed"
)

// Document kinds determine how the Extracting stage cleans the raw text.
const (
	KindPlain  = "plain"
	KindFiling = "filing"
)

type Document struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Name      string    `gorm:"size:256;not null" json:"name"`
	Kind      string    `gorm:"size:32;not null;default:plain" json:"kind"`
	RawText   string    `gorm:"type:longtext" json:"-"`
	CleanText string    `gorm:"type:longtext" json:"-"`
	Status    string    `gorm:"size:32;not null;index" json:"status"`
	LastError string    `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Queryable reports whether retrieval may touch this document.
func (d *Document) Queryable() bool {
	return d.Status == StatusReady
}
