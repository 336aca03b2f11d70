package prompt

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/evaluator"
	"github.com/jkaninda/msaidizi/internal/llm"
)

// echoProvider returns its own prompt so assembly order can be asserted.
type echoProvider struct {
	lastReq *llm.Request
	reply   string
}

func (p *echoProvider) Name() string { return "echo" }

func (p *echoProvider) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.lastReq = req
	reply := p.reply
	if reply == "" {
		reply = req.Messages[0].Content
	}
	return &llm.Response{Content: reply, StopReason: "end_turn"}, nil
}

type staticRetriever struct {
	matches map[string][]Match // collection → matches
	queries []string
}

func (r *staticRetriever) Search(_ context.Context, _, collection, query string, _ int, threshold float64) ([]Match, error) {
	r.queries = append(r.queries, query)
	var out []Match
	for _, m := range r.matches[collection] {
		if threshold > 0 && m.Similarity < threshold {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(p llm.Provider, r Retriever) *Runner {
	return NewRunner(p, r, evaluator.New(), nil, testLogger())
}

func snapshot() *domain.TrackerSnapshot {
	return &domain.TrackerSnapshot{
		SenderID:      "u1",
		LatestMessage: domain.UserMessage{Text: "what is the refund policy?"},
		Slots:         map[string]any{"plan": "premium"},
		LastNBotResponses: []domain.BotResponse{
			{Text: "Hello!"},
			{Text: "How can I help?"},
		},
	}
}

func TestRun_AssemblyOrder(t *testing.T) {
	p := &echoProvider{}
	r := newTestRunner(p, &staticRetriever{})

	_, err := r.Run(context.Background(), RunRequest{
		Bot: "support",
		Action: &domain.PromptAction{
			Name: "answer",
			Prompts: []domain.LlmPrompt{
				{Name: "q", Type: domain.PromptQuery, Source: domain.SourceStatic, Data: "QUERY PART"},
				{Name: "sys", Type: domain.PromptSystem, Source: domain.SourceStatic, Data: "You are a support bot."},
				{Name: "ctx", Type: domain.PromptUser, Source: domain.SourceSlot, Data: "plan"},
			},
		},
		Snapshot: snapshot(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.lastReq.SystemPrompt != "You are a support bot." {
		t.Errorf("system = %q", p.lastReq.SystemPrompt)
	}
	content := p.lastReq.Messages[0].Content
	// User pieces come before query pieces regardless of declaration order.
	if !strings.Contains(content, "premium") || !strings.HasSuffix(content, "QUERY PART") {
		t.Errorf("content = %q", content)
	}
}

func TestRun_HistoryWindow(t *testing.T) {
	p := &echoProvider{}
	r := newTestRunner(p, &staticRetriever{})

	_, err := r.Run(context.Background(), RunRequest{
		Bot: "support",
		Action: &domain.PromptAction{
			Name:            "answer",
			NumBotResponses: 1,
			Prompts: []domain.LlmPrompt{
				{Name: "h", Type: domain.PromptUser, Source: domain.SourceHistory},
			},
		},
		Snapshot: snapshot(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	content := p.lastReq.Messages[0].Content
	if strings.Contains(content, "Hello!") {
		t.Errorf("window of 1 leaked older history: %q", content)
	}
	if !strings.Contains(content, "How can I help?") {
		t.Errorf("content = %q", content)
	}
}

func TestRun_CrudSource(t *testing.T) {
	p := &echoProvider{reply: "Refunds take 5 days."}
	ret := &staticRetriever{matches: map[string][]Match{
		"faq": {
			{Content: "Refund policy: 5 business days.", Similarity: 0.92},
			{Content: "Shipping policy.", Similarity: 0.4},
		},
	}}
	r := newTestRunner(p, ret)

	crudQuery := []byte(`"plan"`)
	res, err := r.Run(context.Background(), RunRequest{
		Bot: "support",
		Action: &domain.PromptAction{
			Name: "faq_answer",
			Prompts: []domain.LlmPrompt{
				{
					Name:   "kb",
					Type:   domain.PromptUser,
					Source: domain.SourceCrud,
					CrudConfig: &domain.CrudConfig{
						Collections: []string{"faq"},
						QuerySource: domain.QueryFromSlot,
						Query:       crudQuery,
					},
					Hyperparameters: domain.PromptHyperparams{TopResults: 5, SimilarityThreshold: 0.5},
				},
				{Name: "q", Type: domain.PromptQuery, Source: domain.SourceStatic, Data: "Answer from context."},
			},
		},
		Snapshot: snapshot(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Completion != "Refunds take 5 days." {
		t.Errorf("completion = %q", res.Completion)
	}
	if len(ret.queries) != 1 || ret.queries[0] != "premium" {
		t.Errorf("queries = %v (slot query_source should use slot value)", ret.queries)
	}
	content := p.lastReq.Messages[0].Content
	if !strings.Contains(content, "Refund policy") {
		t.Errorf("retrieved context missing: %q", content)
	}
	if strings.Contains(content, "Shipping policy") {
		t.Errorf("below-threshold match leaked: %q", content)
	}
}

func TestRun_BotContentUsesUserMessage(t *testing.T) {
	p := &echoProvider{}
	ret := &staticRetriever{matches: map[string][]Match{
		"bot_content": {{Content: "doc", Similarity: 0.9}},
	}}
	r := newTestRunner(p, ret)

	_, err := r.Run(context.Background(), RunRequest{
		Bot: "support",
		Action: &domain.PromptAction{
			Name: "answer",
			Prompts: []domain.LlmPrompt{
				{Name: "c", Type: domain.PromptUser, Source: domain.SourceBotContent},
			},
		},
		Snapshot: snapshot(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ret.queries) != 1 || ret.queries[0] != "what is the refund policy?" {
		t.Errorf("queries = %v", ret.queries)
	}
}

func TestRun_SetSlotsExpression(t *testing.T) {
	p := &echoProvider{reply: "YES"}
	r := newTestRunner(p, &staticRetriever{})

	res, err := r.Run(context.Background(), RunRequest{
		Bot: "support",
		Action: &domain.PromptAction{
			Name: "classify",
			Prompts: []domain.LlmPrompt{
				{Name: "q", Type: domain.PromptQuery, Source: domain.SourceStatic, Data: "classify"},
			},
			SetSlots: []domain.PromptSetSlot{
				{Name: "approved", Value: `completion == "YES"`},
			},
		},
		Snapshot: snapshot(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Slots["approved"] != true {
		t.Errorf("slots = %v", res.Slots)
	}
}

func TestRun_EmptyPiecesSkipped(t *testing.T) {
	p := &echoProvider{}
	r := newTestRunner(p, &staticRetriever{})

	_, err := r.Run(context.Background(), RunRequest{
		Bot: "support",
		Action: &domain.PromptAction{
			Name: "answer",
			Prompts: []domain.LlmPrompt{
				{Name: "s", Type: domain.PromptUser, Source: domain.SourceSlot, Data: "missing_slot"},
			},
		},
		Snapshot: snapshot(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// With every piece empty the latest user message is the prompt.
	if p.lastReq.Messages[0].Content != "what is the refund policy?" {
		t.Errorf("content = %q", p.lastReq.Messages[0].Content)
	}
}
