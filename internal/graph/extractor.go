package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"investigraph/internal/ai"
)

// ErrMalformedExtraction marks an extractor response that fails schema
// validation as a whole. The offending chunk's extraction is discarded and
// ingestion continues without it.
var ErrMalformedExtraction = errors.New("malformed graph extraction")

// Completer is the chat capability the extractor needs from the LLM client.
type Completer interface {
	CompleteJSON(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
}

// Extractor prompts a language model with a closed instruction format and
// parses the structured response, filtering noise before anything reaches
// the store.
type Extractor struct {
	llm Completer
	cfg ai.ChatConfig
}

func NewExtractor(llm Completer, cfg ai.ChatConfig) *Extractor {
	return &Extractor{llm: llm, cfg: cfg}
}

const extractPrompt = `You are a knowledge graph extraction system for financial filings.
Extract meaningful entities and relationships from the given text.

Rules:
1. Entities: key organizations, people, facilities, products, locations, concepts.
2. Relationships: how entities connect (e.g. "CEO_OF", "SUBSIDIARY_OF", "LOCATED_IN").
3. Output JSON ONLY. No markdown, no explanations.

Format:
{
  "entities": [
    {"name": "Entity Name", "type": "ORGANIZATION/PERSON/FACILITY/PRODUCT/LOCATION/CONCEPT"}
  ],
  "relationships": [
    {"source": "Source Name", "target": "Target Name", "type": "RELATION_NAME", "attributes": {"since": "2020"}}
  ]
}

TEXT TO PROCESS:
`

// ExtractChunk pulls typed entities and relationships out of one chunk's
// text. Malformed individual entries are dropped silently; a response that
// is not parseable at all returns ErrMalformedExtraction.
func (e *Extractor) ExtractChunk(ctx context.Context, chunkID uint, text string) (Extraction, error) {
	ext := Extraction{ChunkID: chunkID}
	text = strings.TrimSpace(text)
	if text == "" {
		return ext, nil
	}

	content, err := e.llm.CompleteJSON(ctx, e.cfg, []ai.ChatMessage{
		{Role: "user", Content: extractPrompt + text},
	})
	if err != nil {
		return ext, fmt.Errorf("graph extraction failed: %w", err)
	}
	return ParseExtraction(chunkID, content)
}

const queryEntityPrompt = `Extract the key entities (companies, people, products, facilities, concepts) mentioned in this question.
Return ONLY a JSON object: {"entities": ["Name", ...]}

Question: `

// ExtractQueryEntities runs the lightweight entity-only mode used at query
// time: it returns candidate entity names mentioned in the question.
func (e *Extractor) ExtractQueryEntities(ctx context.Context, question string) ([]string, error) {
	content, err := e.llm.CompleteJSON(ctx, e.cfg, []ai.ChatMessage{
		{Role: "user", Content: queryEntityPrompt + question},
	})
	if err != nil {
		return nil, fmt.Errorf("query entity extraction failed: %w", err)
	}

	var parsed struct {
		Entities []string `json:"entities"`
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExtraction, err)
	}
	names := parsed.Entities
	if len(names) == 0 {
		names = parsed.Keywords
	}

	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

// ParseExtraction validates a raw model response. Entities failing the noise
// filter and relationships referencing dropped entities are discarded rather
// than failing the chunk.
func ParseExtraction(chunkID uint, content string) (Extraction, error) {
	ext := Extraction{ChunkID: chunkID}

	var parsed struct {
		Entities      []ExtractedEntity       `json:"entities"`
		Relationships []ExtractedRelationship `json:"relationships"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &parsed); err != nil {
		return ext, fmt.Errorf("%w: %v", ErrMalformedExtraction, err)
	}

	kept := make(map[string]string, len(parsed.Entities)) // norm name -> canonical name
	for _, ent := range parsed.Entities {
		ent.Name = strings.TrimSpace(ent.Name)
		ent.Type = NormalizeType(ent.Type)
		if !keepEntity(ent) {
			continue
		}
		norm := NormalizeName(ent.Name)
		if _, ok := kept[norm]; ok {
			continue
		}
		kept[norm] = ent.Name
		ext.Entities = append(ext.Entities, ent)
	}

	for _, rel := range parsed.Relationships {
		rel.Source = strings.TrimSpace(rel.Source)
		rel.Target = strings.TrimSpace(rel.Target)
		rel.Type = NormalizeRelType(rel.Type)
		if rel.Type == "" || rel.Source == "" || rel.Target == "" {
			continue
		}
		srcNorm := NormalizeName(rel.Source)
		dstNorm := NormalizeName(rel.Target)
		if srcNorm == dstNorm {
			continue
		}
		// Edges may only connect entities that survived the filter.
		src, okSrc := kept[srcNorm]
		dst, okDst := kept[dstNorm]
		if !okSrc || !okDst {
			continue
		}
		rel.Source = src
		rel.Target = dst
		ext.Relationships = append(ext.Relationships, rel)
	}
	return ext, nil
}

// XBRL artifacts that leak out of SEC submissions and generic noise terms.
var blacklistTerms = []string{"us-gaap", "srt:", "Member", "Domain", "Table"}

var stopwordNames = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "it": {}, "its": {}, "he": {}, "she": {},
	"they": {}, "them": {}, "we": {}, "us": {}, "this": {}, "that": {},
	"these": {}, "those": {}, "who": {}, "which": {},
}

func keepEntity(ent ExtractedEntity) bool {
	if len([]rune(ent.Name)) < 2 {
		return false
	}
	if strings.Contains(ent.Name, ":") {
		return false
	}
	if ent.Type == "DATE" || ent.Type == "TIMEPERIOD" {
		return false
	}
	for _, term := range blacklistTerms {
		if strings.Contains(ent.Name, term) {
			return false
		}
	}
	if _, ok := stopwordNames[NormalizeName(ent.Name)]; ok {
		return false
	}
	return true
}

func stripFences(content string) string {
	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```", "")
	return strings.TrimSpace(content)
}
