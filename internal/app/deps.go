package app

import (
	"context"

	"investigraph/internal/ai"
	"investigraph/internal/graph"
	"investigraph/internal/model"
)

// DocumentStore is the document persistence surface the services consume.
// *repository.DocumentRepository satisfies it.
type DocumentStore interface {
	Create(doc *model.Document) error
	GetByID(id uint) (*model.Document, error)
	GetByIDAndUserID(id, userID uint) (*model.Document, error)
	ListByUserID(userID uint) ([]model.Document, error)
	ListReadyIDsByUserID(userID uint) ([]uint, error)
	UpdateStatus(id uint, status, lastError string) error
	UpdateCleanText(id uint, cleanText string) error
	DeleteByIDAndUserID(id, userID uint) error
}

// ChunkStore is the chunk persistence surface. *repository.ChunkRepository
// satisfies it.
type ChunkStore interface {
	CreateBatch(chunks []model.Chunk) error
	GetByIDs(ids []uint) ([]model.Chunk, error)
	CountByDocumentID(documentID uint) (int64, error)
	DeleteByDocumentID(documentID uint) error
}

// Embedder, Generator, and Reranker are the model-backend capabilities split
// per concern; *ai.OpenAICompatibleClient satisfies all three.
type Embedder interface {
	Embed(ctx context.Context, cfg ai.EmbeddingConfig, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, cfg ai.EmbeddingConfig, texts []string) ([][]float32, error)
}

type Generator interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
}

type Reranker interface {
	Rerank(ctx context.Context, cfg ai.RerankConfig, query string, documents []string) ([]float64, error)
}

// ChunkExtractor produces graph extractions from chunk text.
// *graph.Extractor satisfies it.
type ChunkExtractor interface {
	ExtractChunk(ctx context.Context, chunkID uint, text string) (graph.Extraction, error)
}

// QueryEntityExtractor pulls candidate entity names out of a question.
type QueryEntityExtractor interface {
	ExtractQueryEntities(ctx context.Context, question string) ([]string, error)
}

// IngestTask is the queue message scheduling one ingestion run.
type IngestTask struct {
	DocumentID uint `json:"document_id"`
}

// TaskPublisher hands ingest tasks to the background worker.
type TaskPublisher interface {
	PublishIngest(ctx context.Context, task IngestTask) error
}

// Lease serializes ingestion runs per document across processes.
type Lease interface {
	Acquire(ctx context.Context, documentID uint) (bool, error)
	Held(ctx context.Context, documentID uint) (bool, error)
	Release(ctx context.Context, documentID uint) error
}
