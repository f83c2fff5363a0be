// Package agent runs the interactive loop: it reads user prompts,
// queries the model with the registered tool schema, gates every
// proposed command behind a confirmation prompt, and feeds execution
// results back to the model until it has nothing more to run.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"shellpilot/internal/audit"
	"shellpilot/internal/config"
	"shellpilot/internal/llm"
	"shellpilot/internal/logging"
	"shellpilot/internal/policy"
	"shellpilot/internal/prompts"
	"shellpilot/internal/shell"
	"shellpilot/internal/state"
	"shellpilot/internal/tooling"
)

var commandSuggestions = []prompt.Suggest{
	{Text: ":help", Description: "show available commands"},
	{Text: ":sessions", Description: "list stored conversations"},
	{Text: ":use", Description: "switch to a session (creates it if missing)"},
	{Text: ":new", Description: "create and switch to a blank session"},
	{Text: ":drop", Description: "delete a stored session"},
	{Text: ":clear", Description: "wipe the current session's history"},
	{Text: ":policy", Description: "show the allowlist and blocklist"},
	{Text: ":audit", Description: "show recent audited commands (:audit [n])"},
	{Text: ":cwd", Description: "print the shell working directory"},
	{Text: ":quit", Description: "exit the program"},
}

// maxToolResultSize bounds what one tool call may feed back into the
// conversation; anything larger is cut with a note to the model.
const maxToolResultSize = 50000

type interruptTracker struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
}

func newInterruptTracker(window time.Duration) *interruptTracker {
	return &interruptTracker{window: window}
}

func (t *interruptTracker) secondPress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		t.last = time.Time{}
		return true
	}
	t.last = now
	return false
}

type promptExit struct{}

// Agent wires the REPL, conversation state, policy surface, shell
// runner, and provider client together. One Agent serves one terminal.
type Agent struct {
	llm      *llm.Resilient
	cfg      config.Config
	sessions *state.Manager
	tools    *tooling.Registry
	pol      *policy.Policy
	runner   *shell.Runner
	recorder *audit.Recorder
	logger   *log.Logger

	systemPrompt string
	isTTY        bool
	quiet        bool
	render       *glamour.TermRenderer
	stdin        *bufio.Reader

	requestCancelMu sync.Mutex
	requestCancel   context.CancelFunc

	sessionOnce    sync.Once
	sessionOnceErr error
	resumeKey      string

	tokenMu     sync.Mutex
	totalTokens int
}

// Options carries the startup switches that change how the agent binds
// to its first session.
type Options struct {
	ResumeKey string
}

// New returns an Agent ready for Run or RunOneShot. The recorder may be
// nil; auditing is then skipped. The session manager's system prompt is
// replaced with the rendered one so new conversations carry the live
// allowlist.
func New(client *llm.Resilient, cfg config.Config, mgr *state.Manager, registry *tooling.Registry, pol *policy.Policy, runner *shell.Runner, recorder *audit.Recorder, logger *log.Logger, opts Options) *Agent {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	var renderer *glamour.TermRenderer
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		); err == nil {
			renderer = r
		}
	}

	a := &Agent{
		llm:          client,
		cfg:          cfg,
		sessions:     mgr,
		tools:        registry,
		pol:          pol,
		runner:       runner,
		recorder:     recorder,
		logger:       logger,
		systemPrompt: prompts.Combine(pol.Allowlist(), cfg.SystemPrompt),
		isTTY:        term.IsTerminal(int(os.Stdin.Fd())),
		render:       renderer,
		stdin:        bufio.NewReader(os.Stdin),
		resumeKey:    strings.TrimSpace(opts.ResumeKey),
	}

	a.sessions.SetSystemPrompt(a.systemPrompt)
	return a
}

// Run starts the interactive loop and blocks until the user exits.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.printBanner()
	if err := a.ensureSessionSelected(); err != nil {
		return err
	}

	tracker := newInterruptTracker(2 * time.Second)
	if a.isTTY {
		return a.runPrompt(ctx, cancel, tracker)
	}
	go a.handleInterrupts(ctx, cancel, tracker)
	return a.runNonInteractive(ctx, cancel)
}

// RunOneShot handles a single prompt without the banner or the REPL.
// The confirmation gate still applies when the config asks for it.
func (a *Agent) RunOneShot(ctx context.Context, input string) error {
	a.quiet = true
	if err := a.ensureSessionSelected(); err != nil {
		return err
	}
	return a.respond(ctx, input)
}

func (a *Agent) printBanner() {
	bar := strings.Repeat("=", 60)
	fmt.Println("\n" + bar)
	fmt.Println("🚀 BASH COMPUTER USE AGENT")
	fmt.Println(bar)
	fmt.Println("\n[INFO] Type 'quit' or 'exit' at any time to exit the agent loop.")
	fmt.Println("[INFO] Type 'help' for examples of what you can do.")
	fmt.Printf("[INFO] Current working directory: %s\n", a.runner.Dir())
	fmt.Println(bar + "\n")
}

func (a *Agent) runPrompt(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) (err error) {
	history := loadInputHistory(a.cfg.HistoryPath)

	var restore func()
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if st, terr := term.GetState(fd); terr == nil {
			restore = func() { _ = term.Restore(fd, st) }
		}
	}
	if restore != nil {
		defer restore()
	}

	var exitRequested atomic.Bool
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(promptExit); ok {
				err = nil
				return
			}
			panic(r)
		}
	}()

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(in)
		if line == "" {
			return
		}
		history.Add(line)
		if exit := a.handleLine(ctx, line); exit {
			exitRequested.Store(true)
			cancel()
			panic(promptExit{})
		}
	}

	p := prompt.New(
		executor,
		a.commandCompleter(),
		prompt.OptionHistory(history.Entries()),
		prompt.OptionTitle("Shellpilot"),
		prompt.OptionLivePrefix(func() (string, bool) {
			return fmt.Sprintf("[%s] 👤 You: ", a.runner.Dir()), true
		}),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn: func(buf *prompt.Buffer) {
					if a.cancelInFlightRequest() {
						fmt.Println("\n(Current request cancelled.)")
						return
					}
					if tracker.secondPress() {
						fmt.Println("\n\n[🤖] Interrupted by user. Shutting down. Bye! 👋")
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
					fmt.Println("\n(Press Ctrl+C again within 2s to exit)")
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						fmt.Println("\n\n[🤖] Input ended. Shutting down. Bye! 👋")
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
				},
			},
			prompt.KeyBind{
				Key: prompt.Escape,
				Fn: func(buf *prompt.Buffer) {
					if a.cancelInFlightRequest() {
						fmt.Println("\n(Request cancelled.)")
					}
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			if exitRequested.Load() {
				return true
			}
			select {
			case <-ctx.Done():
				return true
			default:
				return false
			}
		}),
	)

	p.Run()
	return nil
}

func (a *Agent) commandCompleter() func(prompt.Document) []prompt.Suggest {
	return func(doc prompt.Document) []prompt.Suggest {
		word := doc.GetWordBeforeCursor()
		prefix := strings.TrimLeft(doc.TextBeforeCursor(), " \t")
		if !strings.HasPrefix(prefix, ":") {
			return nil
		}
		return prompt.FilterHasPrefix(commandSuggestions, word, true)
	}
}

func (a *Agent) runNonInteractive(ctx context.Context, cancel context.CancelFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Printf("[%s] 👤 You: ", a.runner.Dir())
		line, err := a.stdin.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				fmt.Println("\n\n[🤖] Input ended. Shutting down. Bye! 👋")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if exit := a.handleLine(ctx, trimLineEnding(line)); exit {
			cancel()
			return nil
		}
	}
}

func (a *Agent) handleInterrupts(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if tracker.secondPress() {
				fmt.Println("\n\n[🤖] Interrupted by user. Shutting down. Bye! 👋")
				cancel()
				return
			}
			fmt.Println("\n(Press Ctrl+C again within 2s to exit)")
		}
	}
}

// handleLine dispatches one line of input and reports whether the REPL
// should exit.
func (a *Agent) handleLine(ctx context.Context, input string) bool {
	line := strings.TrimSpace(input)
	if line == "" {
		return false
	}

	switch strings.ToLower(line) {
	case "quit", "exit", "q":
		fmt.Println("\n[🤖] Shutting down. Bye! 👋")
		return true
	case "help":
		a.printHelp()
		return false
	}

	if strings.HasPrefix(line, ":") {
		return a.handleCommand(line)
	}

	logging.DevLog("dispatching prompt: %d chars", len(line))
	if err := a.respond(ctx, line); err != nil {
		logging.ErrorLog("agent error: %v", err)
		fmt.Printf("\n❌ Error: %v\n", err)
		fmt.Println("Continuing...")
	}
	return false
}

// respond appends the user input, suffixed with the shell's working
// directory, and drives provider rounds until the model stops
// proposing commands.
func (a *Agent) respond(ctx context.Context, userInput string) error {
	conv := a.sessions.Current()
	conv.AddUser(prompts.WithWorkingDirectory(userInput, a.runner.Dir()))
	if err := a.sessions.Save(conv); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return a.respondLoop(ctx, conv)
}

func (a *Agent) respondLoop(ctx context.Context, conv *state.Conversation) error {
	for {
		if !a.quiet {
			fmt.Println("\n[🤖] Thinking...")
		}

		messages := conv.Messages()
		logging.DevLog("querying provider with %d messages (~%d chars)", len(messages), conversationCharCount(messages))

		reqCtx, reqCancel := context.WithCancel(ctx)
		a.setInFlightCancel(reqCancel)
		reply, err := a.llm.Query(reqCtx, messages, a.tools.Definitions())
		a.clearInFlightCancel()
		reqCancel()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Println("(request cancelled)")
				return nil
			}
			return fmt.Errorf("chat completion: %w", err)
		}
		if reply.Usage != nil {
			total := a.addTokens(reply.Usage.TotalTokens)
			logging.DevLog("token usage: prompt=%d completion=%d total=%d (run total %d)",
				reply.Usage.PromptTokens, reply.Usage.CompletionTokens, reply.Usage.TotalTokens, total)
		}

		text := stripThinkPrefix(reply.Text)
		conv.AddAssistant(state.Message{Content: text, ToolCalls: reply.ToolCalls})
		if err := a.sessions.Save(conv); err != nil {
			return fmt.Errorf("save conversation: %w", err)
		}
		if text != "" {
			a.printAssistant(text)
		}

		if len(reply.ToolCalls) == 0 {
			return nil
		}
		if err := a.processToolCalls(ctx, conv, reply.ToolCalls); err != nil {
			return err
		}
	}
}

// stripThinkPrefix removes the /think marker the reasoning prompt puts
// in front of some replies so it never reaches the terminal or the
// stored history.
func stripThinkPrefix(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "/think") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "/think"))
	}
	return trimmed
}

// processToolCalls handles one round of proposals in provider order.
// Every call gets a tool message, whatever happens: executions feed
// back their payload, declines say so, unknown names get a warning
// result instead of crashing the turn.
func (a *Agent) processToolCalls(ctx context.Context, conv *state.Conversation, calls []state.ToolCall) error {
	for _, call := range calls {
		name := call.Function.Name

		tool, ok := a.tools.Lookup(name)
		if !ok {
			fmt.Printf("\n⚠️  Unknown function called: %s\n", name)
			logging.ErrorLog("model requested unregistered tool %q", name)
			if err := a.appendToolResult(conv, call, fmt.Sprintf("Unknown function: %s", name)); err != nil {
				return err
			}
			continue
		}

		var args map[string]any
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				msg := fmt.Sprintf("invalid arguments for %s: %v", name, err)
				logging.ErrorLog("%s", msg)
				if err := a.appendToolResult(conv, call, msg); err != nil {
					return err
				}
				continue
			}
		} else {
			args = map[string]any{}
		}

		if name == tooling.ExecToolName {
			cmd, _ := args["cmd"].(string)
			fmt.Printf("\n[🛠️] Suggested command: %s\n", cmd)
			if !a.confirmExecution(cmd) {
				fmt.Println("[❌] Command execution cancelled by user.")
				a.recordDecline(cmd)
				if err := a.appendToolResult(conv, call, "Command cancelled by user."); err != nil {
					return err
				}
				continue
			}
			fmt.Println("[⚡] Executing...")
		}

		start := time.Now()
		result, err := tool.Call(ctx, args)
		if err != nil {
			result = fmt.Sprintf("tool error: %v", err)
			logging.ErrorLog("tool %s failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
		} else {
			logging.DevLog("tool %s completed: %d bytes in %s", name, len(result), time.Since(start).Round(time.Millisecond))
			if len(result) > maxToolResultSize {
				result = result[:maxToolResultSize] + fmt.Sprintf("\n\n[TRUNCATED: tool result was %d chars; showing the first %d.]", len(result), maxToolResultSize)
			}
		}

		if name == tooling.ExecToolName && err == nil {
			a.printExecResult(result)
		}

		if err := a.appendToolResult(conv, call, result); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) appendToolResult(conv *state.Conversation, call state.ToolCall, content string) error {
	conv.AddTool(call.ID, call.Function.Name, content)
	if err := a.sessions.Save(conv); err != nil {
		return fmt.Errorf("save tool result: %w", err)
	}
	return nil
}

// confirmExecution asks before running a command. A read failure (EOF
// on a closed pipe) counts as a decline, never as consent.
func (a *Agent) confirmExecution(cmd string) bool {
	if !a.cfg.ShouldConfirm() {
		return true
	}
	fmt.Printf("\n    ▶️  Execute '%s'? [y/N]: ", cmd)
	line, err := a.stdin.ReadString('\n')
	if err != nil {
		fmt.Println()
		return false
	}
	return strings.ToLower(strings.TrimSpace(line)) == "y"
}

// recordDecline writes declined proposals to the audit log; the exec
// tool never sees them, so the agent accounts for them here.
func (a *Agent) recordDecline(cmd string) {
	if a.recorder == nil {
		return
	}
	if _, err := a.recorder.RecordProposal(a.sessions.CurrentKey(), cmd, false, "Declined at the confirmation prompt."); err != nil {
		logging.ErrorLog("audit decline failed: %v", err)
	}
}

// printExecResult renders the exec tool's JSON payload the way the
// terminal user expects: output, stderr, or the rejection reason.
func (a *Agent) printExecResult(payload string) {
	var result struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		logging.DevLog("unparseable exec payload: %v", err)
		return
	}
	if result.Error != "" {
		fmt.Printf("\n❌ Error: %s\n", result.Error)
		return
	}
	if result.Stdout != "" {
		fmt.Printf("\n📤 Output:\n%s\n", result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Printf("\n⚠️  Stderr:\n%s\n", result.Stderr)
	}
}

func (a *Agent) setInFlightCancel(cancel context.CancelFunc) {
	a.requestCancelMu.Lock()
	a.requestCancel = cancel
	a.requestCancelMu.Unlock()
}

func (a *Agent) clearInFlightCancel() {
	a.requestCancelMu.Lock()
	a.requestCancel = nil
	a.requestCancelMu.Unlock()
}

func (a *Agent) cancelInFlightRequest() bool {
	a.requestCancelMu.Lock()
	cancel := a.requestCancel
	a.requestCancel = nil
	a.requestCancelMu.Unlock()
	if cancel != nil {
		cancel()
		return true
	}
	return false
}

func (a *Agent) addTokens(tokens int) int {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()
	a.totalTokens += tokens
	return a.totalTokens
}

func (a *Agent) ensureSessionSelected() error {
	a.sessionOnce.Do(func() {
		a.sessionOnceErr = a.initSessionSelection()
	})
	return a.sessionOnceErr
}

func (a *Agent) initSessionSelection() error {
	if key := a.resumeKey; key != "" {
		conv, err := a.sessions.Use(key)
		if err != nil {
			logging.ErrorLog("failed to resume session %s: %v", key, err)
			return fmt.Errorf("resume session %s: %w", key, err)
		}
		a.refreshSystemPrompt(conv)
		logging.UserLog("Resumed session '%s'", key)
		return nil
	}

	keys := a.sessions.ListKeys()
	if len(keys) == 0 {
		return a.startFreshSession()
	}
	if !a.isTTY || a.quiet {
		return a.startFreshSession()
	}

	fmt.Printf("Found %d stored session(s):\n", len(keys))
	for i, key := range keys {
		fmt.Printf("  %d) %s\n", i+1, key)
	}
	loadExisting, err := promptYesNo(a.stdin, "Load one of these sessions? [y/N]: ")
	if err != nil {
		return err
	}
	if !loadExisting {
		return a.startFreshSession()
	}

	for attempts := 0; attempts < 3; attempts++ {
		fmt.Print("Enter the session number or name to load: ")
		selection, err := a.stdin.ReadString('\n')
		if err != nil {
			return err
		}
		key, ok := resolveSessionChoice(strings.TrimSpace(selection), keys)
		if ok {
			conv, err := a.sessions.Use(key)
			if err != nil {
				return err
			}
			a.refreshSystemPrompt(conv)
			fmt.Printf("Loaded session '%s'.\n", key)
			return nil
		}
		fmt.Println("Invalid selection. Try again.")
	}

	fmt.Println("No valid selection provided. Starting a new session instead.")
	return a.startFreshSession()
}

// refreshSystemPrompt rebinds a stored conversation to the current
// prompt. A resumed session talks under today's allowlist, not the one
// it was saved with.
func (a *Agent) refreshSystemPrompt(conv *state.Conversation) {
	if conv.System() == a.systemPrompt {
		return
	}
	conv.SetSystem(a.systemPrompt)
	if err := a.sessions.Save(conv); err != nil {
		logging.ErrorLog("refresh system prompt: %v", err)
	}
}

func promptYesNo(reader *bufio.Reader, label string) (bool, error) {
	fmt.Print(label)
	resp, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	val := strings.ToLower(strings.TrimSpace(resp))
	return val == "y" || val == "yes", nil
}

func resolveSessionChoice(input string, keys []string) (string, bool) {
	if input == "" {
		return "", false
	}
	if idx, err := strconv.Atoi(input); err == nil {
		if idx >= 1 && idx <= len(keys) {
			return keys[idx-1], true
		}
	}
	for _, key := range keys {
		if strings.EqualFold(key, input) {
			return key, true
		}
	}
	return "", false
}

func (a *Agent) startFreshSession() error {
	base := fmt.Sprintf("session-%s", time.Now().Format("20060102-150405"))
	key := base
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			key = fmt.Sprintf("%s-%d", base, attempt+1)
		}
		if _, err := a.sessions.NewSession(key); err == nil {
			logging.UserLog("Starting new session '%s'", key)
			return nil
		} else if !strings.Contains(err.Error(), "already exists") {
			logging.ErrorLog("failed to create session %s: %v", key, err)
			return err
		}
	}
	fallback := fmt.Sprintf("session-%d", time.Now().UnixNano())
	if _, err := a.sessions.NewSession(fallback); err != nil {
		logging.ErrorLog("failed to create fallback session %s: %v", fallback, err)
		return err
	}
	logging.UserLog("Starting new session '%s'", fallback)
	return nil
}

func (a *Agent) printHelp() {
	fmt.Println("\n📚 Examples of what you can ask:")
	fmt.Println("  • 'List all files in the current directory'")
	fmt.Println("  • 'Open Chrome browser'")
	fmt.Println("  • 'Open https://google.com in my browser'")
	fmt.Println("  • 'Create a new folder called test'")
	fmt.Println("  • 'Show me what Python is installed'")
	fmt.Println("  • 'What's the current date and time?'")
	fmt.Println("  • 'Find all Python files in this directory'")

	allowed := a.pol.Allowlist()
	preview := allowed
	if len(preview) > 10 {
		preview = preview[:10]
	}
	fmt.Printf("\n📝 Available commands: %s ...\n", strings.Join(preview, ", "))
	fmt.Println("\nType ':help' for session and inspection commands.")
}

func (a *Agent) handleCommand(cmd string) bool {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false
	}
	switch parts[0] {
	case ":help":
		fmt.Println(`Commands:
  :help          show this text
  :sessions      list stored conversations
  :use <key>     switch to a session (creates it if missing)
  :new <key>     create and switch to a blank session
  :drop <key>    delete a stored session
  :clear         wipe the current session's history
  :policy        show the allowlist and blocklist categories
  :audit [n]     show the n most recent audited commands (default 20)
  :cwd           print the shell working directory
  :quit          exit the program
Plain 'quit', 'exit', or 'help' work too.`)
	case ":sessions":
		summaries := a.sessions.Summaries()
		if len(summaries) == 0 {
			fmt.Println("No sessions yet. Use :new <name> to create one.")
			return false
		}
		fmt.Println("Sessions:")
		for _, s := range summaries {
			marker := " "
			if s.Key == a.sessions.CurrentKey() {
				marker = "*"
			}
			fmt.Printf(" %s %s  (%d messages, updated %s)\n", marker, s.Key, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
		}
	case ":use":
		if len(parts) < 2 {
			fmt.Println(":use requires a session key")
			return false
		}
		conv, err := a.sessions.EnsureSession(parts[1])
		if err != nil {
			fmt.Println(err)
			return false
		}
		a.refreshSystemPrompt(conv)
		fmt.Printf("Switched to %s\n", parts[1])
	case ":new":
		if len(parts) < 2 {
			fmt.Println(":new requires a session key")
			return false
		}
		if _, err := a.sessions.NewSession(parts[1]); err != nil {
			fmt.Println(err)
			return false
		}
		fmt.Printf("Created new session %s\n", parts[1])
	case ":drop":
		if len(parts) < 2 {
			fmt.Println(":drop requires a session key")
			return false
		}
		if err := a.sessions.Delete(parts[1]); err != nil {
			fmt.Println(err)
			return false
		}
		fmt.Printf("Removed session %s\n", parts[1])
	case ":clear":
		if err := a.sessions.ClearCurrent(); err != nil {
			fmt.Printf("Clear failed: %v\n", err)
			return false
		}
		fmt.Println("Cleared current session.")
	case ":policy":
		a.showPolicy()
	case ":audit":
		limit := 20
		if len(parts) >= 2 {
			val, err := strconv.Atoi(parts[1])
			if err != nil || val <= 0 {
				fmt.Println(":audit expects a positive integer limit (e.g. :audit 50).")
				return false
			}
			limit = val
		}
		a.showAudit(limit)
	case ":cwd":
		fmt.Println(a.runner.Dir())
	case ":quit", ":exit":
		fmt.Println("\n[🤖] Shutting down. Bye! 👋")
		return true
	default:
		fmt.Printf("Unknown command %s. Try :help\n", parts[0])
	}
	return false
}

func (a *Agent) showPolicy() {
	allowed := a.pol.Allowlist()
	fmt.Printf("Allowed commands (%d):\n  %s\n", len(allowed), strings.Join(allowed, ", "))

	rules := a.pol.Rules()
	fmt.Printf("Blocklist (%d rules):\n", len(rules))
	for _, rule := range rules {
		fmt.Printf("  - %-22s %s\n", rule.Category, rule.Message)
	}

	if a.cfg.AllowPipes {
		fmt.Println("Pipes and redirects: allowed (allow_pipes: true)")
	} else {
		fmt.Println("Pipes and redirects: blocked (allow_pipes: false)")
	}
	fmt.Println("The gate is pattern matching, not a sandbox; review every command before confirming it.")
}

func (a *Agent) showAudit(limit int) {
	if a.recorder == nil {
		fmt.Println("Audit log is not available.")
		return
	}
	entries, err := a.recorder.Recent(limit)
	if err != nil {
		fmt.Printf("Audit read failed: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Println("No audited commands yet.")
		return
	}
	for _, e := range entries {
		status := "✗"
		detail := e.Reason
		if e.Allowed {
			status = "✓"
			detail = "allowed"
			if e.ExitCode != nil {
				detail = fmt.Sprintf("exit %d", *e.ExitCode)
			}
		}
		fmt.Printf("%s %s [%s] %s  (%s)\n", e.Time.Local().Format("2006-01-02 15:04:05"), status, e.Session, e.Command, detail)
	}
}

func trimLineEnding(s string) string {
	s = strings.TrimSuffix(s, "\r\n")
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s
}

func (a *Agent) printAssistant(text string) {
	if a.render == nil {
		if a.quiet {
			fmt.Println(text)
		} else {
			fmt.Printf("\n🤖: %s\n", text)
		}
		return
	}
	rendered, err := a.render.Render(text)
	if err != nil {
		a.logger.Printf("markdown render failed: %v", err)
		fmt.Printf("\n🤖: %s\n", text)
		return
	}
	if a.quiet {
		fmt.Print(strings.TrimRight(rendered, "\n") + "\n")
		return
	}
	fmt.Print("\n🤖:\n" + strings.TrimRight(rendered, "\n") + "\n")
}

func conversationCharCount(messages []state.Message) int {
	data, err := json.Marshal(messages)
	if err != nil {
		total := 0
		for _, msg := range messages {
			total += len(msg.Content)
			for _, call := range msg.ToolCalls {
				total += len(call.Function.Arguments)
			}
		}
		return total
	}
	return len(data)
}
