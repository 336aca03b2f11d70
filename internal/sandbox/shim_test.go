package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestExtractShimLogs(t *testing.T) {
	stderr := logMarker + ` {"level":"info","msg":"looked up order"}` + "\n" +
		"Traceback (most recent call last):\n" +
		logMarker + ` {"level":"warn","msg":"stale cache"}` + "\n" +
		"KeyError: 'city'"

	logs, rest := extractShimLogs(stderr)
	if len(logs) != 2 {
		t.Fatalf("logs = %v", logs)
	}
	if logs[0].Level != "info" || logs[0].Msg != "looked up order" {
		t.Errorf("first log = %+v", logs[0])
	}
	if logs[1].Level != "warn" || logs[1].Msg != "stale cache" {
		t.Errorf("second log = %+v", logs[1])
	}
	if !strings.Contains(rest, "KeyError") || strings.Contains(rest, logMarker) {
		t.Errorf("diagnostics = %q", rest)
	}
}

func TestScriptSource_ShimOnlyForPython(t *testing.T) {
	py := NewProcessSandbox(ProcessConfig{}, testLogger())
	if !strings.HasPrefix(py.scriptSource("x = 1"), "import json as _json") {
		t.Error("python script missing shim preamble")
	}
	sh := NewProcessSandbox(ProcessConfig{Interpreter: "/bin/sh"}, testLogger())
	if got := sh.scriptSource("echo hi"); got != "echo hi" {
		t.Errorf("shell script altered: %q", got)
	}
}

func TestRun_LogHelper(t *testing.T) {
	requirePython(t)
	s := NewProcessSandbox(ProcessConfig{}, testLogger())

	out, err := s.Run(context.Background(), Request{
		Script: "log.info('looked up order')\n" +
			"log.warn('stale cache')\n" +
			`print('{"bot_response": "done"}')`,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.BotResponse != "done" {
		t.Errorf("bot_response = %q", out.BotResponse)
	}
	joined := strings.Join(out.Logs, "\n")
	if !strings.Contains(joined, "looked up order") || !strings.Contains(joined, "stale cache") {
		t.Errorf("logs = %v", out.Logs)
	}
}

func TestRun_HTTPHelper(t *testing.T) {
	requirePython(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "order-42" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"msg":"pong"}`))
	}))
	defer srv.Close()

	script := fmt.Sprintf(`import json
res = http.get(%q, params={"q": "order-42"})
print(json.dumps({"bot_response": res["json"]["msg"], "slots": {"status": res["status"]}}))`, srv.URL)

	s := NewProcessSandbox(ProcessConfig{}, testLogger())
	out, err := s.Run(context.Background(), Request{Script: script})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.BotResponse != "pong" {
		t.Errorf("bot_response = %q", out.BotResponse)
	}
	if out.Slots["status"] != float64(200) {
		t.Errorf("slots = %v", out.Slots)
	}
}

func TestRun_CapabilityContextExposed(t *testing.T) {
	requirePython(t)
	script := `import json
print(json.dumps({"bot_response": bot + ":" + tracker["sender_id"], "slots": {"city": params["city"]}}))`

	s := NewProcessSandbox(ProcessConfig{}, testLogger())
	out, err := s.Run(context.Background(), Request{
		Script: script,
		Input: Input{
			Bot:     "support",
			Tracker: TrackerView{SenderID: "u1", Slots: map[string]any{}},
			Params:  map[string]any{"city": "London"},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.BotResponse != "support:u1" {
		t.Errorf("bot_response = %q", out.BotResponse)
	}
	if out.Slots["city"] != "London" {
		t.Errorf("slots = %v", out.Slots)
	}
}

func TestRun_RuntimeErrorStillClassified(t *testing.T) {
	requirePython(t)
	s := NewProcessSandbox(ProcessConfig{}, testLogger())

	_, err := s.Run(context.Background(), Request{
		Script: "log.info('before failure')\nraise KeyError('city')",
	})
	var se *ScriptError
	if !asScriptError(err, &se) || se.Class != FailRuntime {
		t.Fatalf("err = %v, want SandboxRuntime", err)
	}
	if !strings.Contains(se.Message, "KeyError") {
		t.Errorf("message = %q", se.Message)
	}
}
