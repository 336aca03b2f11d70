package integrations

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/philippgille/chromem-go"

	"github.com/jkaninda/msaidizi/internal/domain"
)

// DatabaseAdapter runs parameterized query objects against the embedded
// vector store. Collections are scoped per bot; one payload_search or
// embedding_search carries the semantic query, filter queries narrow by
// metadata equality.
type DatabaseAdapter struct {
	db        *chromem.DB
	embedding chromem.EmbeddingFunc
	logger    *slog.Logger
}

func NewDatabaseAdapter(db *chromem.DB, embedding chromem.EmbeddingFunc, logger *slog.Logger) *DatabaseAdapter {
	return &DatabaseAdapter{db: db, embedding: embedding, logger: logger}
}

func (a *DatabaseAdapter) Kind() domain.Kind { return domain.KindDB }

func (a *DatabaseAdapter) ValidateCredentials(_ context.Context, _ string) error {
	return nil
}

func (a *DatabaseAdapter) Prepare(_ context.Context, _ string) (map[string]any, error) {
	return nil, nil
}

// Execute returns a JSON array of matches for templating. Query values may
// reference resolved parameters by key.
func (a *DatabaseAdapter) Execute(ctx context.Context, req ExecRequest) (*Result, error) {
	cfg, ok := req.Config.(*domain.DBConfig)
	if !ok {
		return nil, domain.E(domain.KindInternal, "db adapter received %T config", req.Config)
	}

	var queryText string
	where := map[string]string{}
	for _, q := range cfg.Queries {
		switch q.QueryType {
		case domain.QueryPayloadSearch, domain.QueryEmbedding:
			// Both carry the text embedded for nearest-neighbour search.
			queryText = resolveQueryValue(q.Value, req.Params)
		case domain.QueryFilter:
			filters, ok := q.Value.(map[string]any)
			if !ok {
				return nil, domain.E(domain.KindValidation, "db action: filter value must be an object")
			}
			for k, v := range filters {
				where[k] = resolveQueryValue(v, req.Params)
			}
		default:
			return nil, domain.E(domain.KindValidation, "db action: unsupported query_type %q", q.QueryType)
		}
	}
	if queryText == "" {
		// Filter-only query: rank by the concatenated filter values; the
		// where clause still applies exactly.
		for _, v := range where {
			queryText += v + " "
		}
	}
	if queryText == "" {
		return nil, domain.E(domain.KindValidation, "db action: empty query")
	}

	col := a.db.GetCollection(collectionName(req.Bot, cfg.Collection), a.embedding)
	if col == nil {
		return &Result{Data: []any{}}, nil
	}
	n := 10
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return &Result{Data: []any{}}, nil
	}
	if len(where) == 0 {
		where = nil
	}

	docs, err := col.Query(ctx, queryText, n, where, nil)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstream, err, "vector query failed")
	}

	out := make([]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, map[string]any{
			"id":         d.ID,
			"content":    d.Content,
			"metadata":   d.Metadata,
			"similarity": d.Similarity,
		})
	}

	a.logger.DebugContext(ctx, "db query completed",
		slog.String("bot", req.Bot),
		slog.String("collection", cfg.Collection),
		slog.Int("results", len(out)),
	)
	return &Result{Data: out}, nil
}

func collectionName(bot, collection string) string {
	return bot + "." + collection
}

// resolveQueryValue substitutes a parameter reference, falling back to the
// literal value.
func resolveQueryValue(v any, params map[string]any) string {
	s := fmt.Sprintf("%v", v)
	if ref, ok := params[s]; ok {
		return fmt.Sprintf("%v", ref)
	}
	return s
}
