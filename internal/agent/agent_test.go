package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shellpilot/internal/audit"
	"shellpilot/internal/config"
	"shellpilot/internal/llm"
	"shellpilot/internal/llm/mockclient"
	"shellpilot/internal/policy"
	"shellpilot/internal/shell"
	"shellpilot/internal/state"
	"shellpilot/internal/tooling"
)

func newTestAgent(t *testing.T, mock *mockclient.Client, confirm bool) *Agent {
	t.Helper()

	runner, err := shell.NewRunner(t.TempDir(), 5*time.Second, nil)
	if err != nil {
		t.Fatalf("Expected runner, got error: %v", err)
	}

	recorder, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Expected audit recorder, got error: %v", err)
	}
	t.Cleanup(func() { recorder.Close() })

	logger := log.New(io.Discard, "", 0)
	mgr, err := state.NewManager("", t.TempDir(), 40, logger)
	if err != nil {
		t.Fatalf("Expected state manager, got error: %v", err)
	}

	pol := policy.Default(false)
	registry := tooling.NewRegistry(tooling.NewExecTool(pol, runner, recorder, mgr.CurrentKey))

	cfg := config.Config{ConfirmBeforeRun: &confirm}
	resilient := llm.NewResilient(mock, "test-model", 0.1, 0.95, logger)
	return New(resilient, cfg, mgr, registry, pol, runner, recorder, logger, Options{})
}

func lastMessageByRole(messages []state.Message, role string) (state.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == role {
			return messages[i], true
		}
	}
	return state.Message{}, false
}

func TestRespondExecutesToolAndLoops(t *testing.T) {
	mock := mockclient.New()
	mock.EnqueueToolCall("call-1", tooling.ExecToolName, `{"cmd":"echo hello"}`)
	mock.EnqueueText("The command printed hello.")

	a := newTestAgent(t, mock, false)
	if err := a.respond(context.Background(), "say hello"); err != nil {
		t.Fatalf("Expected respond to succeed, got %v", err)
	}

	msgs := a.sessions.Current().Messages()
	if msgs[0].Role != state.RoleSystem {
		t.Errorf("Expected system message first, got role %q", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Content, "only allowed to execute") {
		t.Error("Expected the rendered system prompt on the conversation")
	}

	user, ok := lastMessageByRole(msgs, state.RoleUser)
	if !ok {
		t.Fatal("Expected a user message")
	}
	if !strings.Contains(user.Content, "Current working directory: `") {
		t.Errorf("Expected working directory suffix on user message, got %q", user.Content)
	}

	toolMsg, ok := lastMessageByRole(msgs, state.RoleTool)
	if !ok {
		t.Fatal("Expected a tool message")
	}
	if toolMsg.ToolCallID != "call-1" {
		t.Errorf("Expected tool call id call-1, got %q", toolMsg.ToolCallID)
	}
	if toolMsg.Name != tooling.ExecToolName {
		t.Errorf("Expected tool name %q, got %q", tooling.ExecToolName, toolMsg.Name)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(toolMsg.Content), &payload); err != nil {
		t.Fatalf("Expected JSON tool payload, got %v (%q)", err, toolMsg.Content)
	}
	if stdout, _ := payload["stdout"].(string); !strings.Contains(stdout, "hello") {
		t.Errorf("Expected hello on stdout, got %q", stdout)
	}

	assistant, ok := lastMessageByRole(msgs, state.RoleAssistant)
	if !ok {
		t.Fatal("Expected an assistant message")
	}
	if assistant.Content != "The command printed hello." {
		t.Errorf("Expected final assistant text, got %q", assistant.Content)
	}

	requests := mock.Requests()
	if len(requests) != 2 {
		t.Fatalf("Expected 2 provider rounds, got %d", len(requests))
	}
	if len(requests[0].Tools) != 1 || requests[0].Tools[0].Function.Name != tooling.ExecToolName {
		t.Error("Expected the exec tool schema on the first request")
	}
	second := requests[1].Messages
	if _, ok := lastMessageByRole(second, state.RoleTool); !ok {
		t.Error("Expected the tool result inside the second request")
	}
}

func TestRespondStripsThinkPrefix(t *testing.T) {
	mock := mockclient.New()
	mock.EnqueueText("/think\nAll set.")

	a := newTestAgent(t, mock, false)
	if err := a.respond(context.Background(), "anything"); err != nil {
		t.Fatalf("Expected respond to succeed, got %v", err)
	}

	assistant, ok := lastMessageByRole(a.sessions.Current().Messages(), state.RoleAssistant)
	if !ok {
		t.Fatal("Expected an assistant message")
	}
	if assistant.Content != "All set." {
		t.Errorf("Expected think marker stripped, got %q", assistant.Content)
	}
}

func TestRespondDeclinedConfirmation(t *testing.T) {
	mock := mockclient.New()
	mock.EnqueueToolCall("call-2", tooling.ExecToolName, `{"cmd":"touch created.txt"}`)
	mock.EnqueueText("Okay, skipping it.")

	a := newTestAgent(t, mock, true)
	a.stdin = bufio.NewReader(strings.NewReader("n\n"))

	if err := a.respond(context.Background(), "make a file"); err != nil {
		t.Fatalf("Expected respond to succeed, got %v", err)
	}

	toolMsg, ok := lastMessageByRole(a.sessions.Current().Messages(), state.RoleTool)
	if !ok {
		t.Fatal("Expected a tool message")
	}
	if toolMsg.Content != "Command cancelled by user." {
		t.Errorf("Expected cancellation notice, got %q", toolMsg.Content)
	}
	if _, err := os.Stat(filepath.Join(a.runner.Dir(), "created.txt")); !os.IsNotExist(err) {
		t.Error("Expected the declined command to leave no file behind")
	}

	entries, err := a.recorder.Recent(5)
	if err != nil {
		t.Fatalf("Expected audit entries, got error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Allowed {
		t.Error("Expected the declined proposal to be audited as not allowed")
	}
	if entries[0].Reason != "Declined at the confirmation prompt." {
		t.Errorf("Expected decline reason, got %q", entries[0].Reason)
	}
}

func TestRespondConfirmedExecution(t *testing.T) {
	mock := mockclient.New()
	mock.EnqueueToolCall("call-3", tooling.ExecToolName, `{"cmd":"touch made.txt"}`)
	mock.EnqueueText("Created it.")

	a := newTestAgent(t, mock, true)
	a.stdin = bufio.NewReader(strings.NewReader("y\n"))

	if err := a.respond(context.Background(), "make a file"); err != nil {
		t.Fatalf("Expected respond to succeed, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(a.runner.Dir(), "made.txt")); err != nil {
		t.Errorf("Expected made.txt to exist after confirmation, got %v", err)
	}
}

func TestRespondConfirmationEOFDeclines(t *testing.T) {
	mock := mockclient.New()
	mock.EnqueueToolCall("call-4", tooling.ExecToolName, `{"cmd":"touch never.txt"}`)
	mock.EnqueueText("Understood.")

	a := newTestAgent(t, mock, true)
	a.stdin = bufio.NewReader(strings.NewReader(""))

	if err := a.respond(context.Background(), "make a file"); err != nil {
		t.Fatalf("Expected respond to succeed, got %v", err)
	}
	toolMsg, _ := lastMessageByRole(a.sessions.Current().Messages(), state.RoleTool)
	if toolMsg.Content != "Command cancelled by user." {
		t.Errorf("Expected EOF to decline, got %q", toolMsg.Content)
	}
	if _, err := os.Stat(filepath.Join(a.runner.Dir(), "never.txt")); !os.IsNotExist(err) {
		t.Error("Expected no file when confirmation input ended")
	}
}

func TestRespondUnknownFunction(t *testing.T) {
	mock := mockclient.New()
	mock.EnqueueToolCall("call-9", "make_coffee", `{}`)
	mock.EnqueueText("Sorry, I cannot do that.")

	a := newTestAgent(t, mock, false)
	if err := a.respond(context.Background(), "coffee please"); err != nil {
		t.Fatalf("Expected respond to survive unknown function, got %v", err)
	}

	toolMsg, ok := lastMessageByRole(a.sessions.Current().Messages(), state.RoleTool)
	if !ok {
		t.Fatal("Expected a tool message for the unknown function")
	}
	if toolMsg.Content != "Unknown function: make_coffee" {
		t.Errorf("Expected unknown function notice, got %q", toolMsg.Content)
	}
	if len(mock.Requests()) != 2 {
		t.Errorf("Expected the loop to continue after the unknown function, got %d requests", len(mock.Requests()))
	}
}

func TestRespondBlockedCommandFeedsReasonBack(t *testing.T) {
	mock := mockclient.New()
	mock.EnqueueToolCall("call-5", tooling.ExecToolName, `{"cmd":"rm -rf /tmp/scratch"}`)
	mock.EnqueueText("I am not allowed to run that.")

	a := newTestAgent(t, mock, false)
	if err := a.respond(context.Background(), "delete everything"); err != nil {
		t.Fatalf("Expected respond to succeed, got %v", err)
	}

	toolMsg, ok := lastMessageByRole(a.sessions.Current().Messages(), state.RoleTool)
	if !ok {
		t.Fatal("Expected a tool message")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(toolMsg.Content), &payload); err != nil {
		t.Fatalf("Expected JSON tool payload, got %v", err)
	}
	if errText, _ := payload["error"].(string); errText != "Destructive file operations are not allowed." {
		t.Errorf("Expected rejection reason in payload, got %q", errText)
	}
}

func TestRespondInvalidToolArguments(t *testing.T) {
	mock := mockclient.New()
	mock.EnqueueToolCall("call-6", tooling.ExecToolName, `{not json`)
	mock.EnqueueText("Something went wrong with my call.")

	a := newTestAgent(t, mock, false)
	if err := a.respond(context.Background(), "list files"); err != nil {
		t.Fatalf("Expected respond to survive bad arguments, got %v", err)
	}

	toolMsg, _ := lastMessageByRole(a.sessions.Current().Messages(), state.RoleTool)
	if !strings.Contains(toolMsg.Content, "invalid arguments") {
		t.Errorf("Expected invalid arguments notice, got %q", toolMsg.Content)
	}
}

func TestHandleLineExitWords(t *testing.T) {
	a := newTestAgent(t, mockclient.New(), false)
	ctx := context.Background()

	for _, word := range []string{"quit", "exit", "q", "QUIT", ":quit", ":exit"} {
		if !a.handleLine(ctx, word) {
			t.Errorf("Expected %q to exit the loop", word)
		}
	}
	for _, word := range []string{"", "   ", "help", ":help", ":cwd", ":sessions"} {
		if a.handleLine(ctx, word) {
			t.Errorf("Expected %q to keep the loop running", word)
		}
	}
}

func TestHandleCommandUseRefreshesSystemPrompt(t *testing.T) {
	a := newTestAgent(t, mockclient.New(), false)

	conv, err := a.sessions.EnsureSession("stale-session")
	if err != nil {
		t.Fatalf("Expected session, got error: %v", err)
	}
	conv.SetSystem("stale prompt")
	if err := a.sessions.Save(conv); err != nil {
		t.Fatalf("Expected save to succeed, got %v", err)
	}

	if exit := a.handleCommand(":use stale-session"); exit {
		t.Fatal("Expected :use to keep the loop running")
	}
	if got := a.sessions.Current().System(); got != a.systemPrompt {
		t.Errorf("Expected refreshed system prompt, got %q", got)
	}
}

func TestStripThinkPrefix(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"marker with newline", "/think\nHello", "Hello"},
		{"marker with space", "/think Hello", "Hello"},
		{"bare marker", "/think", ""},
		{"no marker", "Hello there", "Hello there"},
		{"marker mid-text kept", "say /think out loud", "say /think out loud"},
		{"leading whitespace", "  /think\n\nDone.", "Done."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripThinkPrefix(tc.input); got != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestResolveSessionChoice(t *testing.T) {
	keys := []string{"alpha", "beta", "gamma"}
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"1", "alpha", true},
		{"3", "gamma", true},
		{"0", "", false},
		{"4", "", false},
		{"beta", "beta", true},
		{"BETA", "beta", true},
		{"delta", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := resolveSessionChoice(tc.input, keys)
		if got != tc.want || ok != tc.ok {
			t.Errorf("resolveSessionChoice(%q): expected (%q, %v), got (%q, %v)", tc.input, tc.want, tc.ok, got, ok)
		}
	}
}

func TestInputHistoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")

	first := loadInputHistory(path)
	first.Add("ls -la")
	first.Add("   ")
	first.Add("cd projects")

	second := loadInputHistory(path)
	entries := second.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 persisted entries, got %d (%v)", len(entries), entries)
	}
	if entries[0] != "ls -la" || entries[1] != "cd projects" {
		t.Errorf("Expected entries in order, got %v", entries)
	}
}

func TestInputHistoryMissingFile(t *testing.T) {
	h := loadInputHistory(filepath.Join(t.TempDir(), "absent"))
	if len(h.Entries()) != 0 {
		t.Errorf("Expected empty history, got %v", h.Entries())
	}
}
