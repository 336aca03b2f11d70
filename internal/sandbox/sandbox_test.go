package sandbox

import (
	"strings"
	"testing"
)

func TestParseOutput(t *testing.T) {
	out, err := parseOutput([]byte("log line one\n{\"bot_response\":\"hi\",\"slots\":{\"a\":1}}\n"))
	if err != nil {
		t.Fatalf("parseOutput: %v", err)
	}
	if out.BotResponse != "hi" {
		t.Errorf("got bot_response %q", out.BotResponse)
	}
	if out.Slots["a"] != float64(1) {
		t.Errorf("got slots %v", out.Slots)
	}
	if len(out.Logs) != 1 || out.Logs[0] != "log line one" {
		t.Errorf("got logs %v", out.Logs)
	}
}

func TestParseOutput_NoResult(t *testing.T) {
	out, err := parseOutput([]byte("just logging\n"))
	if err != nil {
		t.Fatalf("parseOutput: %v", err)
	}
	if out.BotResponse != "" || len(out.Logs) != 1 {
		t.Errorf("got %+v", out)
	}
}

func TestParseOutput_InvalidJSON(t *testing.T) {
	_, err := parseOutput([]byte("{not json"))
	var se *ScriptError
	if !asScriptError(err, &se) || se.Class != FailRuntime {
		t.Fatalf("got %v, want SandboxRuntime", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		exitCode int
		stderr   string
		want     FailureClass
	}{
		{1, "Traceback...\nSyntaxError: invalid syntax", FailCompile},
		{1, "Traceback...\nMemoryError", FailMemory},
		{137, "", FailMemory},
		{152, "", FailTimeout},
		{1, "Traceback...\nKeyError: 'city'", FailRuntime},
		{3, "", FailRuntime},
	}
	for _, tc := range tests {
		got := classify(tc.exitCode, tc.stderr)
		if got.Class != tc.want {
			t.Errorf("classify(%d, %q) = %s, want %s", tc.exitCode, tc.stderr, got.Class, tc.want)
		}
	}
}

func TestClassify_MessageIsLastStderrLine(t *testing.T) {
	got := classify(1, "Traceback (most recent call last):\n  File x\nKeyError: 'city'")
	if !strings.Contains(got.Message, "KeyError") {
		t.Errorf("got message %q", got.Message)
	}
}

func asScriptError(err error, target **ScriptError) bool {
	se, ok := err.(*ScriptError)
	if ok {
		*target = se
	}
	return ok
}
