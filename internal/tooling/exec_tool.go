package tooling

import (
	"context"
	"encoding/json"

	"shellpilot/internal/audit"
	"shellpilot/internal/logging"
	"shellpilot/internal/policy"
	"shellpilot/internal/shell"
)

// ExecToolName is the function name the model calls to run a command.
const ExecToolName = "exec_bash_command"

// ExecTool vets a proposed command against the policy, runs it through
// the shell runner, and reports both to the audit log. Rejections come
// back as an error payload in the tool result rather than a Go error so
// the model can read the reason and adjust.
type ExecTool struct {
	policy   *policy.Policy
	runner   *shell.Runner
	recorder *audit.Recorder
	session  func() string
}

// NewExecTool wires the gate, the runner, and the audit log together.
// recorder may be nil when auditing is unavailable; session names the
// conversation for audit attribution and may be nil.
func NewExecTool(pol *policy.Policy, runner *shell.Runner, recorder *audit.Recorder, session func() string) *ExecTool {
	return &ExecTool{policy: pol, runner: runner, recorder: recorder, session: session}
}

func (e *ExecTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        ExecToolName,
			Description: "Execute a bash command and return stdout/stderr and the working directory",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"cmd": map[string]any{
						"type":        "string",
						"description": "The bash command to execute",
					},
				},
				"required": []string{"cmd"},
			},
		},
	}
}

func (e *ExecTool) Call(ctx context.Context, args map[string]any) (string, error) {
	cmd, _ := stringArg(args, "cmd")

	verdict := e.policy.Evaluate(cmd)
	if !verdict.Allowed {
		logging.ErrorLog("exec: rejected %q (%s): %s", cmd, verdict.Reason, verdict.Detail)
		e.recordProposal(cmd, verdict)
		return marshalResult(map[string]any{"error": verdict.Detail})
	}

	logging.DevLog("exec: running %q in %s", cmd, e.runner.Dir())
	id := e.recordProposal(cmd, verdict)
	res := e.runner.Run(ctx, cmd)
	if e.recorder != nil && id != 0 {
		if err := e.recorder.RecordResult(id, res.ExitCode, res.Duration); err != nil {
			logging.ErrorLog("exec: audit result write failed: %v", err)
		}
	}

	return marshalResult(map[string]any{
		"stdout":      res.Stdout,
		"stderr":      res.Stderr,
		"cwd":         res.Dir,
		"exit_code":   res.ExitCode,
		"duration_ms": res.Duration.Milliseconds(),
	})
}

func (e *ExecTool) recordProposal(cmd string, verdict policy.Verdict) int64 {
	if e.recorder == nil {
		return 0
	}
	key := ""
	if e.session != nil {
		key = e.session()
	}
	id, err := e.recorder.RecordProposal(key, cmd, verdict.Allowed, string(verdict.Reason))
	if err != nil {
		logging.ErrorLog("exec: audit write failed: %v", err)
		return 0
	}
	return id
}

func marshalResult(payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
