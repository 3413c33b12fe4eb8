package app

import (
	"context"
	"log/slog"

	"investigraph/internal/graph"
	"investigraph/internal/metrics"
)

// GraphViewCache is the redis-backed view cache surface.
// *cache.GraphCache satisfies it.
type GraphViewCache interface {
	GetView(ctx context.Context, userID, documentID uint) (*graph.View, bool, error)
	SetView(ctx context.Context, userID, documentID uint, view *graph.View) error
	DeleteView(ctx context.Context, userID, documentID uint) error
}

// GraphService serves document graph visualizations, cache first.
type GraphService struct {
	docs   DocumentStore
	graphs graph.Store
	cache  GraphViewCache
	m      *metrics.Metrics
	logger *slog.Logger
}

func NewGraphService(docs DocumentStore, graphs graph.Store, cache GraphViewCache, m *metrics.Metrics, logger *slog.Logger) *GraphService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphService{docs: docs, graphs: graphs, cache: cache, m: m, logger: logger}
}

// View returns the document's graph payload. Cache trouble falls through to
// the store; the endpoint never fails because redis is down.
func (s *GraphService) View(ctx context.Context, userID, documentID uint) (*graph.View, error) {
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

	if s.cache != nil {
		view, hit, err := s.cache.GetView(ctx, userID, documentID)
		if err != nil {
			s.logger.Warn("graph view cache read failed", "document_id", documentID, "error", err)
		} else if hit {
			s.m.CacheHit()
			return view, nil
		} else {
			s.m.CacheMiss()
		}
	}

	view, err := s.graphs.DocumentGraph(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetView(ctx, userID, documentID, view); err != nil {
			s.logger.Warn("graph view cache write failed", "document_id", documentID, "error", err)
		}
	}
	return view, nil
}
