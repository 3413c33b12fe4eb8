package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"investigraph/internal/ai"
	"investigraph/internal/chunker"
	"investigraph/internal/config"
	"investigraph/internal/graph"
	"investigraph/internal/metrics"
	"investigraph/internal/model"
	"investigraph/internal/pkg/filing"
	"investigraph/internal/vector"
)

const (
	embeddingBatchSize = 16
	backendAttempts    = 3
)

// IngestService owns the document lifecycle: registration, the ingestion
// pipeline, reprocessing, and deletion. One ingestion run per document at a
// time; concurrent requests for the same document are rejected, in-process
// duplicates are collapsed.
type IngestService struct {
	docs      DocumentStore
	chunks    ChunkStore
	graphs    graph.Store
	index     vector.Index
	embedder  Embedder
	extractor ChunkExtractor
	publisher TaskPublisher
	lease     Lease
	m         *metrics.Metrics
	logger    *slog.Logger

	retr   config.RetrievalConfig
	embCfg ai.EmbeddingConfig

	viewCache GraphViewCache

	retryBase time.Duration
	sf        singleflight.Group
}

// WithViewCache wires graph view invalidation into the document lifecycle.
func (s *IngestService) WithViewCache(c GraphViewCache) *IngestService {
	s.viewCache = c
	return s
}

func (s *IngestService) invalidateView(ctx context.Context, userID, documentID uint) {
	if s.viewCache == nil {
		return
	}
	if err := s.viewCache.DeleteView(ctx, userID, documentID); err != nil {
		s.logger.Warn("invalidate graph view cache failed", "document_id", documentID, "error", err)
	}
}

func NewIngestService(
	docs DocumentStore,
	chunks ChunkStore,
	graphs graph.Store,
	index vector.Index,
	embedder Embedder,
	extractor ChunkExtractor,
	publisher TaskPublisher,
	lease Lease,
	retr config.RetrievalConfig,
	embCfg ai.EmbeddingConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		docs:      docs,
		chunks:    chunks,
		graphs:    graphs,
		index:     index,
		embedder:  embedder,
		extractor: extractor,
		publisher: publisher,
		lease:     lease,
		m:         m,
		logger:    logger,
		retr:      retr,
		embCfg:    embCfg,
		retryBase: time.Second,
	}
}

// CreateInput registers a new document for ingestion.
type CreateInput struct {
	UserID  uint
	Name    string
	Kind    string
	Content string
}

// Create persists the document in the received state and schedules its
// ingestion run. When no queue is wired the run happens on a goroutine.
func (s *IngestService) Create(ctx context.Context, input CreateInput) (*model.Document, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = "Untitled"
	}
	kind := input.Kind
	switch kind {
	case "":
		kind = model.KindPlain
	case model.KindPlain, model.KindFiling:
	default:
		return nil, ErrInvalidInput
	}

	doc := &model.Document{
		UserID:  input.UserID,
		Name:    name,
		Kind:    kind,
		RawText: input.Content,
		Status:  model.StatusReceived,
	}
	if err := s.docs.Create(doc); err != nil {
		return nil, err
	}
	s.schedule(ctx, doc.ID)
	return doc, nil
}

func (s *IngestService) schedule(ctx context.Context, documentID uint) {
	if s.publisher != nil {
		err := s.publisher.PublishIngest(ctx, IngestTask{DocumentID: documentID})
		if err == nil {
			return
		}
		s.logger.Error("publish ingest task failed, running inline",
			"document_id", documentID, "error", err)
	}
	go func() {
		if err := s.Process(context.Background(), documentID); err != nil {
			s.logger.Error("background ingest failed", "document_id", documentID, "error", err)
		}
	}()
}

// Process runs the full ingestion pipeline for one document. It is
// idempotent: rerunning replaces the document's chunks, vectors, and graph.
// A failure at any stage parks the document in Failed with the cause
// recorded; earlier artifacts are kept for diagnosis.
func (s *IngestService) Process(ctx context.Context, documentID uint) error {
	_, err, _ := s.sf.Do(strconv.FormatUint(uint64(documentID), 10), func() (interface{}, error) {
		return nil, s.process(ctx, documentID)
	})
	return err
}

func (s *IngestService) process(ctx context.Context, documentID uint) error {
	doc, err := s.docs.GetByID(documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}

	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx, documentID)
		if err != nil {
			return fmt.Errorf("acquire ingest lease failed: %w", err)
		}
		if !ok {
			s.m.ObserveIngest("skipped", 0)
			return ErrIngestInProgress
		}
		defer func() {
			if err := s.lease.Release(context.WithoutCancel(ctx), documentID); err != nil {
				s.logger.Warn("release ingest lease failed", "document_id", documentID, "error", err)
			}
		}()
	}

	start := time.Now()
	if err := s.run(ctx, doc); err != nil {
		if uerr := s.docs.UpdateStatus(doc.ID, model.StatusFailed, err.Error()); uerr != nil {
			s.logger.Error("record ingest failure failed", "document_id", doc.ID, "error", uerr)
		}
		s.m.ObserveIngest("failed", time.Since(start))
		s.logger.Error("ingest failed", "document_id", doc.ID, "error", err)
		return err
	}
	s.m.ObserveIngest("ready", time.Since(start))
	s.invalidateView(ctx, doc.UserID, doc.ID)
	s.logger.Info("ingest finished", "document_id", doc.ID, "duration", time.Since(start))
	return nil
}

func (s *IngestService) run(ctx context.Context, doc *model.Document) error {
	if err := s.docs.UpdateStatus(doc.ID, model.StatusExtracting, ""); err != nil {
		return err
	}
	clean := doc.RawText
	if doc.Kind == model.KindFiling {
		clean = filing.Clean(doc.RawText)
	}
	if err := s.docs.UpdateCleanText(doc.ID, clean); err != nil {
		return err
	}

	if err := s.docs.UpdateStatus(doc.ID, model.StatusChunking, ""); err != nil {
		return err
	}
	// Replace any artifacts from a previous run before writing new ones.
	if err := s.chunks.DeleteByDocumentID(doc.ID); err != nil {
		return err
	}
	if err := s.graphs.DeleteDocument(ctx, doc.UserID, doc.ID); err != nil {
		return err
	}
	if del, ok := s.index.(interface{ DeleteDocument(userID, documentID uint) }); ok {
		del.DeleteDocument(doc.UserID, doc.ID)
	}

	pieces := chunker.New(s.retr.ChunkSize, s.retr.ChunkOverlap).Split(clean)
	if len(pieces) == 0 {
		// Nothing to retrieve over; the document is still queryable as an
		// empty corpus member.
		return s.docs.UpdateStatus(doc.ID, model.StatusReady, "")
	}

	records := make([]model.Chunk, len(pieces))
	for i, p := range pieces {
		records[i] = model.Chunk{
			DocumentID: doc.ID,
			Ordinal:    p.Ordinal,
			Content:    p.Text,
			Start:      p.Start,
			End:        p.End,
		}
	}
	if err := s.chunks.CreateBatch(records); err != nil {
		return err
	}

	if err := s.docs.UpdateStatus(doc.ID, model.StatusEmbedding, ""); err != nil {
		return err
	}
	if err := s.embedChunks(ctx, doc, records); err != nil {
		return err
	}

	if err := s.docs.UpdateStatus(doc.ID, model.StatusGraphExtracting, ""); err != nil {
		return err
	}
	if err := s.extractGraph(ctx, doc, records); err != nil {
		return err
	}

	return s.docs.UpdateStatus(doc.ID, model.StatusReady, "")
}

func (s *IngestService) embedChunks(ctx context.Context, doc *model.Document, records []model.Chunk) error {
	scope := vector.Scope{UserID: doc.UserID, DocumentID: doc.ID}
	for off := 0; off < len(records); off += embeddingBatchSize {
		end := off + embeddingBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[off:end]
		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = batch[i].Content
		}

		var vecs [][]float32
		err := s.withRetry(ctx, func(ctx context.Context) error {
			var err error
			vecs, err = s.embedder.EmbedBatch(ctx, s.embCfg, texts)
			return err
		})
		if err != nil {
			return fmt.Errorf("embed chunks failed: %w", err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embed chunks failed: got %d vectors for %d inputs", len(vecs), len(batch))
		}

		for i := range batch {
			// Blank chunks come back with a nil slot and stay out of the index.
			if len(vecs[i]) == 0 {
				continue
			}
			if err := s.index.Upsert(ctx, scope, batch[i].ID, vecs[i]); err != nil {
				return fmt.Errorf("store embedding failed: %w", err)
			}
		}
		s.m.AddChunksEmbedded(len(batch))
	}
	return nil
}

func (s *IngestService) extractGraph(ctx context.Context, doc *model.Document, records []model.Chunk) error {
	concurrency := s.retr.ExtractConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range records {
		rec := records[i]
		g.Go(func() error {
			var ext graph.Extraction
			err := s.withRetry(gctx, func(ctx context.Context) error {
				var err error
				ext, err = s.extractor.ExtractChunk(ctx, rec.ID, rec.Content)
				return err
			})
			if err != nil {
				// Graph extraction is best-effort per chunk: an unparseable
				// response or an exhausted backend drops the chunk's graph
				// contribution, never the document.
				if errors.Is(err, graph.ErrMalformedExtraction) || errors.Is(err, ai.ErrBackendUnavailable) {
					skipped.Add(1)
					s.logger.Warn("discarding chunk graph extraction",
						"document_id", doc.ID, "chunk_id", rec.ID, "error", err)
					return nil
				}
				return fmt.Errorf("graph extraction failed: %w", err)
			}
			if err := s.graphs.Merge(gctx, doc.UserID, doc.ID, ext); err != nil {
				return fmt.Errorf("graph merge failed: %w", err)
			}
			s.m.AddGraphMerges(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n := skipped.Load(); n > 0 {
		s.logger.Warn("graph extraction discarded chunks", "document_id", doc.ID, "count", n)
	}
	return nil
}

// withRetry reruns op on backend unavailability with exponential backoff.
// Any other error is returned immediately.
func (s *IngestService) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := s.retryBase
	var err error
	for attempt := 0; attempt < backendAttempts; attempt++ {
		if err = op(ctx); err == nil || !errors.Is(err, ai.ErrBackendUnavailable) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// Reprocess schedules a fresh ingestion run for an existing document. The
// run itself happens on the worker; callers poll the document status. While
// a run is active the request is rejected with ErrIngestInProgress.
func (s *IngestService) Reprocess(ctx context.Context, userID, documentID uint) error {
	if userID == 0 || documentID == 0 {
		return ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	// An active run both races the status reset and would eat the new task
	// (the worker skips documents whose lease is held), so reject outright.
	if s.lease != nil {
		held, err := s.lease.Held(ctx, documentID)
		if err != nil {
			return fmt.Errorf("check ingest lease failed: %w", err)
		}
		if held {
			return ErrIngestInProgress
		}
	}
	if err := s.docs.UpdateStatus(documentID, model.StatusReceived, ""); err != nil {
		return err
	}
	s.schedule(ctx, documentID)
	return nil
}

// StatusView is one document with its chunk count, for status endpoints.
type StatusView struct {
	Document   model.Document `json:"document"`
	ChunkCount int64          `json:"chunk_count"`
}

// Get returns one document with its chunk count.
func (s *IngestService) Get(userID, documentID uint) (*StatusView, error) {
	if userID == 0 || documentID == 0 {
		return nil, ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	count, err := s.chunks.CountByDocumentID(documentID)
	if err != nil {
		return nil, err
	}
	return &StatusView{Document: *doc, ChunkCount: count}, nil
}

// List returns the user's documents without their text columns.
func (s *IngestService) List(userID uint) ([]model.Document, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.docs.ListByUserID(userID)
}

// Delete removes a document and all derived artifacts.
func (s *IngestService) Delete(ctx context.Context, userID, documentID uint) error {
	if userID == 0 || documentID == 0 {
		return ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	if err := s.chunks.DeleteByDocumentID(documentID); err != nil {
		return err
	}
	if err := s.graphs.DeleteDocument(ctx, userID, documentID); err != nil {
		return err
	}
	if del, ok := s.index.(interface{ DeleteDocument(userID, documentID uint) }); ok {
		del.DeleteDocument(userID, documentID)
	}
	s.invalidateView(ctx, userID, documentID)
	return s.docs.DeleteByIDAndUserID(documentID, userID)
}
