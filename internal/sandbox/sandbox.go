// Package sandbox runs author-supplied scripts in isolated environments.
// Untrusted code never runs in the request loop — each execution is a
// fresh, stateless worker with OS-level resource limits.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jkaninda/msaidizi/internal/domain"
)

// FailureClass classifies sandbox failures for the dispatcher.
type FailureClass string

const (
	FailTimeout FailureClass = "SandboxTimeout"
	FailMemory  FailureClass = "SandboxMemory"
	FailCompile FailureClass = "SandboxCompile"
	FailRuntime FailureClass = "SandboxRuntime"
)

// ScriptError is a classified sandbox failure.
type ScriptError struct {
	Class   FailureClass
	Message string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// EngineError adapts the failure for the turn boundary.
func (e *ScriptError) EngineError() *domain.EngineError {
	return &domain.EngineError{Kind: domain.KindSandboxFailure, Message: e.Message, Err: e}
}

// Input is the capability surface handed to a script: a read-only bot name,
// a read-only tracker projection and the resolved parameter dictionary.
// Outbound HTTP and logging helpers are provided by the script runtime shim;
// everything else (filesystem, environment, inter-script state) is absent.
type Input struct {
	Bot     string         `json:"bot"`
	Tracker TrackerView    `json:"tracker"`
	Params  map[string]any `json:"params,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// TrackerView is the read-only tracker projection visible to scripts.
type TrackerView struct {
	SenderID    string         `json:"sender_id"`
	Intent      string         `json:"intent"`
	UserMessage string         `json:"user_message"`
	Slots       map[string]any `json:"slots"`
}

// View projects a snapshot into the script-visible form.
func View(snapshot *domain.TrackerSnapshot) TrackerView {
	if snapshot == nil {
		return TrackerView{Slots: map[string]any{}}
	}
	slots := make(map[string]any, len(snapshot.Slots))
	for k, v := range snapshot.Slots {
		slots[k] = v
	}
	return TrackerView{
		SenderID:    snapshot.SenderID,
		Intent:      snapshot.LatestMessage.Intent.Name,
		UserMessage: snapshot.LatestMessage.Text,
		Slots:       slots,
	}
}

// Output is what a script yields through its return sink.
type Output struct {
	BotResponse string         `json:"bot_response,omitempty"`
	Slots       map[string]any `json:"slots,omitempty"`
	Type        string         `json:"type,omitempty"`
	Logs        []string       `json:"logs,omitempty"`
}

// Request defines one script execution.
type Request struct {
	Script  string
	Input   Input
	Timeout time.Duration  // Zero = sandbox default.
	Limits  ResourceLimits // Zero values = sandbox defaults.
}

// ResourceLimits constrains the sandboxed worker.
type ResourceLimits struct {
	MaxCPUSeconds int // CPU time limit (ulimit -t).
	MaxMemoryMB   int // Virtual memory limit in MB (ulimit -v).
}

// Sandbox executes scripts in an isolated environment.
type Sandbox interface {
	Run(ctx context.Context, req Request) (*Output, error)
}
