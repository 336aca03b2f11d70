package evaluator

import (
	"testing"

	"github.com/jkaninda/msaidizi/internal/domain"
)

func testEnv() map[string]any {
	return Env(&domain.TrackerSnapshot{
		SenderID: "s1",
		LatestMessage: domain.UserMessage{
			Text:   "book a table",
			Intent: domain.Intent{Name: "booking", Confidence: 0.9},
		},
		Slots: map[string]any{
			"city":  "London",
			"count": 3,
			"tags":  []any{"a", "b"},
			"meta":  map[string]any{"tier": "gold", "ids": []any{10, 20}},
		},
	}, map[string]any{"limit": 5})
}

func TestEvalBool(t *testing.T) {
	e := New()

	tests := []struct {
		expr string
		want bool
	}{
		{`slots.city == "London"`, true},
		{`slots.count >= 3 and slots.count < 10`, true},
		{`slots.city != "Paris" or false`, true},
		{`not (slots.count > 5)`, true},
		{`"a" in slots.tags`, true},
		{`contains(user_message, "table")`, true},
		{`starts_with(slots.city, "Lon")`, true},
		{`ends_with(slots.city, "don")`, true},
		{`matches(slots.city, "^L.+n$")`, true},
		{`is_none(slots.unknown)`, true},
		{`is_not_none(slots.city)`, true},
		{`intent == "booking"`, true},
		{`slots.meta.tier == "gold"`, true},
		{`slots.meta.ids[1] == 20`, true},
		{`params.limit > 10`, false},
		{`sender_id == "other"`, false},
	}

	for _, tc := range tests {
		got, err := e.EvalBool(tc.expr, testEnv())
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEval_Value(t *testing.T) {
	e := New()
	out, err := e.Eval(`slots.city + "-" + intent`, testEnv())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if out != "London-booking" {
		t.Errorf("got %v, want London-booking", out)
	}
}

func TestEval_CompileError(t *testing.T) {
	e := New()
	_, err := e.Eval(`slots.city ==`, testEnv())
	if err == nil {
		t.Fatal("expected compile error")
	}
	if domain.KindOf(err) != domain.KindValidation {
		t.Errorf("got kind %v, want ValidationError", domain.KindOf(err))
	}
}

func TestEvalBool_NonBoolean(t *testing.T) {
	e := New()
	_, err := e.EvalBool(`slots.city`, testEnv())
	if err == nil {
		t.Fatal("expected type error for non-boolean expression")
	}
}
