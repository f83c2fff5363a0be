package credentials

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// Onboard runs the interactive first-time setup wizard.
func Onboard(manager *Manager) (*Credentials, error) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Println("  Welcome to Shellpilot! Let's get you set up.")
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Println()
	fmt.Println("Shellpilot talks to OpenRouter. You'll need an API key.")
	fmt.Println("Get one free at: https://openrouter.ai/keys")
	fmt.Println()

	apiKey, err := readAPIKey()
	if err != nil {
		return nil, err
	}

	creds := &Credentials{APIKey: apiKey}
	if err := manager.Save(creds); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ API key saved securely to:", manager.Path())
	fmt.Println()
	fmt.Println("Setup complete! Starting Shellpilot...")
	fmt.Println()

	return creds, nil
}

// SetupMenu shows the credential management menu.
func SetupMenu(manager *Manager) error {
	creds, err := manager.Load()
	if err != nil {
		return err
	}

	for {
		fmt.Println()
		fmt.Println("═══════════════════════════════════════════════════════════")
		fmt.Println("  Shellpilot Setup")
		fmt.Println("═══════════════════════════════════════════════════════════")
		fmt.Println()
		if creds.APIKey != "" {
			fmt.Println("  API key: configured (" + manager.Path() + ")")
		} else {
			fmt.Println("  API key: (not set)")
		}
		if os.Getenv("OPENROUTER_API_KEY") != "" {
			fmt.Println("  Note: OPENROUTER_API_KEY is set and takes precedence.")
		}
		fmt.Println()
		fmt.Println("Options:")
		fmt.Println("  1) Set/update API key")
		fmt.Println("  2) Remove stored API key")
		fmt.Println("  3) Exit")
		fmt.Println()

		choice := promptWithDefault("Choice", "3")

		switch choice {
		case "1":
			apiKey, err := readAPIKey()
			if err != nil {
				fmt.Println("❌ Error:", err)
				continue
			}
			creds.APIKey = apiKey
			if err := manager.Save(creds); err != nil {
				fmt.Println("❌ Error:", err)
				continue
			}
			fmt.Println()
			fmt.Println("✓ API key saved")
		case "2":
			confirm := promptWithDefault("Really remove the stored key? [y/n]", "n")
			if !strings.HasPrefix(strings.ToLower(confirm), "y") {
				fmt.Println("Cancelled")
				continue
			}
			creds.APIKey = ""
			if err := manager.Save(creds); err != nil {
				fmt.Println("❌ Error:", err)
				continue
			}
			fmt.Println()
			fmt.Println("✓ Removed")
		case "3", "exit", "quit", "q":
			return nil
		default:
			fmt.Println("❌ Invalid choice")
		}
	}
}

// readAPIKey asks for the key, hiding input when stdin is a terminal.
func readAPIKey() (string, error) {
	for {
		apiKey, err := promptSecret("Enter your OpenRouter API key")
		if err != nil {
			return "", err
		}
		apiKey = strings.TrimSpace(apiKey)

		if apiKey == "" {
			fmt.Println("❌ API key cannot be empty. Please try again.")
			continue
		}
		if !strings.HasPrefix(apiKey, "sk-") {
			fmt.Println("⚠ Warning: API key doesn't look valid (should start with 'sk-')")
			confirm := promptWithDefault("Continue anyway? [y/n]", "n")
			if !strings.HasPrefix(strings.ToLower(confirm), "y") {
				continue
			}
		}
		return apiKey, nil
	}
}

// Helper functions
func promptSecret(msg string) (string, error) {
	fmt.Printf("%s: ", msg)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptWithDefault(msg, defaultValue string) string {
	fmt.Printf("%s [%s]: ", msg, defaultValue)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultValue
	}
	return line
}
