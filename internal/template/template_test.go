package template

import "testing"

func data() map[string]any {
	return map[string]any{
		"params": map[string]any{"city": "London"},
		"RESPONSE": map[string]any{
			"summary": "Rain",
			"code":    "R1",
			"days":    []any{map[string]any{"high": 21.5}, map[string]any{"high": 19.0}},
		},
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		tmpl string
		want string
	}{
		{"Today in ${params.city}: ${RESPONSE.summary}", "Today in London: Rain"},
		{"${RESPONSE.code}", "R1"},
		{"${RESPONSE.days[0].high}", "21.5"},
		{"${RESPONSE.days[1].high} degrees", "19 degrees"},
		{"missing: ${RESPONSE.nope.deep}", "missing: "},
		{"missing index: ${RESPONSE.days[9]}", "missing index: "},
		{"no placeholders", "no placeholders"},
		{"${}", ""},
	}
	for _, tc := range tests {
		if got := Render(tc.tmpl, data()); got != tc.want {
			t.Errorf("Render(%q) = %q, want %q", tc.tmpl, got, tc.want)
		}
	}
}

func TestRender_RawResponse(t *testing.T) {
	d := map[string]any{"RESPONSE": map[string]any{"a": float64(1)}}
	if got := Render("${RESPONSE}", d); got != `{"a":1}` {
		t.Errorf("got %q", got)
	}

	d = map[string]any{"RESPONSE": "plain text body"}
	if got := Render("${RESPONSE}", d); got != "plain text body" {
		t.Errorf("got %q", got)
	}
}

func TestProject(t *testing.T) {
	v, ok := Project(data(), "RESPONSE.days[1].high")
	if !ok || v != 19.0 {
		t.Errorf("got %v ok=%v", v, ok)
	}
	if _, ok := Project(data(), "RESPONSE.days[2].high"); ok {
		t.Error("out-of-range index should not resolve")
	}
	if _, ok := Project(data(), "params.city.deeper"); ok {
		t.Error("projection through a scalar should not resolve")
	}
}
