package app

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrDocumentNotFound = errors.New("document not found")
	ErrNotQueryable     = errors.New("document is not ready for querying")
	ErrNoDocuments      = errors.New("no queryable documents")
	ErrNoContext        = errors.New("retrieval produced no context")
	ErrIngestInProgress = errors.New("document ingestion already in progress")
	ErrGenerationFailed = errors.New("answer generation failed")
)
