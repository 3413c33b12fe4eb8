// Package fuse assembles the bounded prompt context out of reranked chunks
// and knowledge graph facts.
package fuse

import (
	"sort"
	"strings"

	"investigraph/internal/graph"
	"investigraph/internal/model"
)

// RankedChunk is a retrieved chunk in final rerank order.
type RankedChunk struct {
	Chunk model.Chunk
	Score float64
}

// Result is the fused context handed to the generator. ChunkIDs and
// FactLines record exactly what made it in, for response provenance.
type Result struct {
	Text      string
	ChunkIDs  []uint
	FactLines []string
	Truncated bool
}

// Fuser packs chunks first, in rerank order, then graph facts that add
// information the chunks do not already state. Budget is counted in runes
// over the assembled text.
type Fuser struct {
	budget    int
	factLimit int
}

func New(budget, factLimit int) *Fuser {
	if budget <= 0 {
		budget = 6000
	}
	if factLimit <= 0 {
		factLimit = 20
	}
	return &Fuser{budget: budget, factLimit: factLimit}
}

const factsHeader = "\nKnown facts:\n"

// Fuse builds the context block. The top-ranked chunk is always included,
// truncated to the budget if it alone exceeds it. Remaining chunks are
// appended in rank order while they fit; facts fill what is left, strongest
// evidence first.
func (f *Fuser) Fuse(chunks []RankedChunk, facts []graph.Fact) Result {
	var res Result
	var b strings.Builder
	used := 0

	// The closing footer is reserved up front so the assembled text never
	// exceeds the budget once it is appended.
	const footer = "\n---"
	reserve := len([]rune(footer))

	for i, rc := range chunks {
		section := "\n---\n" + rc.Chunk.Content
		n := len([]rune(section))
		if used+n+reserve > f.budget {
			if i == 0 {
				// Never answer with an empty context when retrieval
				// produced one; cut the chunk instead.
				runes := []rune(section)
				cut := f.budget - reserve
				if cut < 0 {
					cut = 0
				}
				if cut > len(runes) {
					cut = len(runes)
				}
				b.WriteString(string(runes[:cut]))
				used = cut
				res.ChunkIDs = append(res.ChunkIDs, rc.Chunk.ID)
			}
			res.Truncated = true
			break
		}
		b.WriteString(section)
		used += n
		res.ChunkIDs = append(res.ChunkIDs, rc.Chunk.ID)
	}
	if len(res.ChunkIDs) > 0 && used+reserve <= f.budget {
		b.WriteString(footer)
		used += reserve
	}

	included := b.String()
	lowered := strings.ToLower(included)

	kept := make([]graph.Fact, 0, len(facts))
	for _, fact := range facts {
		if impliedBy(lowered, fact) {
			continue
		}
		kept = append(kept, fact)
	}
	// Strongest evidence first; when the budget runs out the weakest
	// facts are the ones dropped.
	sort.SliceStable(kept, func(i, j int) bool {
		return len(kept[i].ChunkRefs()) > len(kept[j].ChunkRefs())
	})
	if len(kept) > f.factLimit {
		res.Truncated = true
		kept = kept[:f.factLimit]
	}

	wroteHeader := false
	for _, fact := range kept {
		line := fact.Line() + "\n"
		n := len([]rune(line))
		if !wroteHeader {
			n += len([]rune(factsHeader))
		}
		if used+n > f.budget {
			res.Truncated = true
			break
		}
		if !wroteHeader {
			b.WriteString(factsHeader)
			wroteHeader = true
		}
		b.WriteString(line)
		used += n
		res.FactLines = append(res.FactLines, fact.Line())
	}

	res.Text = b.String()
	return res
}

// impliedBy reports whether the chunks already state the fact: both entity
// names and a hint of the relation appearing in the included text.
func impliedBy(lowered string, fact graph.Fact) bool {
	src := strings.ToLower(fact.Source.Name)
	dst := strings.ToLower(fact.Target.Name)
	if src == "" || dst == "" {
		return false
	}
	if !strings.Contains(lowered, src) || !strings.Contains(lowered, dst) {
		return false
	}
	rel := strings.ToLower(strings.ReplaceAll(fact.Relation.Type, "_", " "))
	return rel != "" && strings.Contains(lowered, rel)
}
