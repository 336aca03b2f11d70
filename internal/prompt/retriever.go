package prompt

import (
	"context"

	"github.com/philippgille/chromem-go"

	"github.com/jkaninda/msaidizi/internal/domain"
)

// Match is one similarity hit from a retrieval source.
type Match struct {
	Content    string            `json:"content"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Retriever serves crud and bot_content prompt sources.
type Retriever interface {
	Search(ctx context.Context, bot, collection, query string, topResults int, threshold float64) ([]Match, error)
}

// ChromemRetriever backs retrieval with the embedded vector store.
// Collections are scoped per bot, same scheme as the database adapter.
type ChromemRetriever struct {
	db        *chromem.DB
	embedding chromem.EmbeddingFunc
}

func NewChromemRetriever(db *chromem.DB, embedding chromem.EmbeddingFunc) *ChromemRetriever {
	return &ChromemRetriever{db: db, embedding: embedding}
}

func (r *ChromemRetriever) Search(ctx context.Context, bot, collection, query string, topResults int, threshold float64) ([]Match, error) {
	col := r.db.GetCollection(bot+"."+collection, r.embedding)
	if col == nil {
		return nil, nil
	}
	n := topResults
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	docs, err := col.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstream, err, "similarity search failed")
	}

	matches := make([]Match, 0, len(docs))
	for _, d := range docs {
		if threshold > 0 && float64(d.Similarity) < threshold {
			continue
		}
		matches = append(matches, Match{
			Content:    d.Content,
			Similarity: float64(d.Similarity),
			Metadata:   d.Metadata,
		})
	}
	return matches, nil
}
