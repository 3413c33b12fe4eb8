package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEmbeddingStub answers /embeddings with one fixed vector per input.
func newEmbeddingStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input interface{} `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		count := 1
		if list, ok := req.Input.([]interface{}); ok {
			count = len(list)
		}
		data := make([]map[string]interface{}, count)
		for i := range data {
			data[i] = map[string]interface{}{"embedding": []float32{1, 2, 3}}
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{"data": data}))
	}))
}

func TestEmbedBatchKeepsInputAlignment(t *testing.T) {
	srv := newEmbeddingStub(t)
	defer srv.Close()

	c := NewOpenAICompatibleClient()
	vecs, err := c.EmbedBatch(context.Background(), EmbeddingConfig{BaseURL: srv.URL},
		[]string{"real text", "   \n\t "})
	require.NoError(t, err)

	// A whitespace-only chunk keeps its slot with a nil vector instead of
	// shifting every later result.
	require.Len(t, vecs, 2)
	assert.NotEmpty(t, vecs[0])
	assert.Empty(t, vecs[1])
}

func TestEmbedBatchAllBlank(t *testing.T) {
	c := NewOpenAICompatibleClient()
	vecs, err := c.EmbedBatch(context.Background(), EmbeddingConfig{}, []string{" ", "\n"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Empty(t, vecs[0])
	assert.Empty(t, vecs[1])
}
