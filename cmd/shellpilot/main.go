package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"shellpilot/internal/agent"
	"shellpilot/internal/audit"
	"shellpilot/internal/config"
	"shellpilot/internal/credentials"
	"shellpilot/internal/llm"
	"shellpilot/internal/llm/mockclient"
	"shellpilot/internal/logging"
	"shellpilot/internal/openrouter"
	"shellpilot/internal/policy"
	"shellpilot/internal/prompts"
	"shellpilot/internal/shell"
	"shellpilot/internal/state"
	"shellpilot/internal/tooling"
)

// Version is set via -ldflags during build
var Version = "dev"

func main() {
	var (
		workdirFlag  = flag.String("workdir", "", "Override the shell's starting directory")
		resumeKey    = flag.String("resume", "", "Resume an existing session key")
		listSessions = flag.Bool("list-sessions", false, "List stored sessions and exit")
		promptFlag   = flag.String("p", "", "Execute a single prompt and exit (non-interactive mode)")
		setupFlag    = flag.Bool("setup", false, "Run the credential setup wizard")
		versionFlag  = flag.Bool("version", false, "Print version and exit")
	)
	flag.StringVar(promptFlag, "prompt", "", "Execute a single prompt and exit (non-interactive mode)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("Shellpilot version %s\n", Version)
		return
	}

	credManager := credentials.NewManager()
	if *setupFlag {
		if err := credentials.SetupMenu(credManager); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	mockMode := os.Getenv("SHELLPILOT_MOCK_LLM") == "1"
	apiKey := ""
	if !mockMode {
		key, err := credManager.APIKey()
		if err != nil {
			log.Fatalf("Failed to load credentials: %v", err)
		}
		if key == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				log.Fatal("No API key configured. Set OPENROUTER_API_KEY or run: shellpilot --setup")
			}
			if _, err := credentials.Onboard(credManager); err != nil {
				log.Fatalf("Onboarding failed: %v", err)
			}
			if key, err = credManager.APIKey(); err != nil || key == "" {
				log.Fatal("No API key configured. Set OPENROUTER_API_KEY or run: shellpilot --setup")
			}
		}
		apiKey = key
	}

	if err := config.EnsureDefaultConfig(); err != nil {
		log.Fatalf("Failed to write default config: %v", err)
	}
	cfg, err := config.LoadUserConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if dir := strings.TrimSpace(*workdirFlag); dir != "" {
		cfg.WorkspaceRoot = dir
	}

	root := cfg.WorkspaceRoot
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		log.Fatalf("Failed to resolve working directory: %v", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		log.Fatalf("Failed to create working directory: %v", err)
	}

	logger := logging.NewRotating(cfg.LogPath, "shellpilot ")
	logger.Printf("starting shellpilot %s (workdir %s)", Version, absRoot)

	var client llm.Client
	if mockMode {
		logger.Println("SHELLPILOT_MOCK_LLM=1 detected; using mock LLM client")
		client = mockclient.New()
	} else {
		client = openrouter.NewClient(cfg.BaseURL, apiKey, cfg.RequestTimeout(), logger)
	}
	resilient := llm.NewResilient(client, cfg.Model, cfg.Temperature, cfg.TopP, logger)

	doc, err := policy.LoadDocument(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("Failed to load policy: %v", err)
	}
	pol, err := policy.New(doc, cfg.AllowPipes)
	if err != nil {
		log.Fatalf("Failed to compile policy: %v", err)
	}

	runner, err := shell.NewRunner(absRoot, cfg.CommandTimeout(), logging.NewStructuredLogger(logger, "shell", false))
	if err != nil {
		log.Fatalf("Failed to start shell runner: %v", err)
	}

	recorder, err := audit.Open(cfg.AuditLogPath)
	if err != nil {
		// Auditing is best-effort: the agent still runs without it.
		logger.Printf("audit log unavailable: %v", err)
	} else {
		defer recorder.Close()
	}

	systemPrompt := prompts.Combine(pol.Allowlist(), cfg.SystemPrompt)
	states, err := state.NewManager(systemPrompt, cfg.ConversationDir, cfg.MaxHistoryMessages, logger)
	if err != nil {
		log.Fatalf("Failed to init state manager: %v", err)
	}

	if *listSessions {
		printSessionList(states.Summaries())
		return
	}

	registry := tooling.NewRegistry(tooling.NewExecTool(pol, runner, recorder, states.CurrentKey))

	agentInstance := agent.New(resilient, cfg, states, registry, pol, runner, recorder, logger, agent.Options{
		ResumeKey: strings.TrimSpace(*resumeKey),
	})

	go probeConnectivity(resilient, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Interrupt handling lives in the agent; SIGTERM cancels here so a
	// service manager can stop the process cleanly.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("received SIGTERM, shutting down")
		cancel()
	}()

	if *promptFlag != "" {
		if err := agentInstance.RunOneShot(ctx, *promptFlag); err != nil {
			log.Fatalf("Prompt failed: %v", err)
		}
		return
	}

	if err := agentInstance.Run(ctx); err != nil {
		log.Fatalf("Agent failed: %v", err)
	}
}

func probeConnectivity(client *llm.Resilient, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.TestConnection(ctx); err != nil {
		logger.Printf("connectivity probe failed: %v", err)
		return
	}
	logger.Printf("connectivity probe ok")
}

func printSessionList(summaries []state.Summary) {
	if len(summaries) == 0 {
		fmt.Println("No stored sessions yet.")
		return
	}
	fmt.Printf("Stored sessions (%d):\n", len(summaries))
	for i, s := range summaries {
		fmt.Printf("  %d) %s  (%d messages, updated %s)\n", i+1, s.Key, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
}
