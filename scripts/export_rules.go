package main

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"shellpilot/internal/policy"
)

// Prints the built-in policy tables as YAML, or writes them to the path
// given as the first argument. The output is a valid policy file, so
//
//	go run scripts/export_rules.go ~/.shellpilot/policy.yaml
//
// seeds a file you can edit and point policy_path at in config.yaml.
func main() {
	doc := policy.DefaultDocument()

	if len(os.Args) > 1 {
		path := os.Args[1]
		if err := policy.SaveDocument(path, doc); err != nil {
			log.Fatalf("Failed to write policy file: %v", err)
		}
		fmt.Printf("Wrote %d allowlist entries and %d blocklist rules to %s\n",
			len(doc.Rules.Allowlist), len(doc.Rules.Blocklist), path)
		return
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		log.Fatalf("Failed to marshal policy: %v", err)
	}
	os.Stdout.Write(data)
}
