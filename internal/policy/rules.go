package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Rule is one blocklist entry: a regular expression matched against the
// whole command string, the category it belongs to, and the rejection
// message reported on a match.
type Rule struct {
	Category string `yaml:"category"`
	Pattern  string `yaml:"pattern"`
	Message  string `yaml:"message"`
}

// Document is the YAML schema for an external policy file.
type Document struct {
	Rules struct {
		Allowlist []string `yaml:"allowlist"`
		Blocklist []Rule   `yaml:"blocklist"`
	} `yaml:"rules"`
}

// DefaultDocument returns the built-in policy tables.
func DefaultDocument() Document {
	var doc Document
	doc.Rules.Allowlist = DefaultAllowlist()
	doc.Rules.Blocklist = DefaultRules()
	return doc
}

// LoadDocument reads a policy file. A missing file is not an error and
// yields the built-in tables; empty sections fall back to the built-in
// tables as well, so a file can override just one of them.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultDocument(), nil
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if len(doc.Rules.Allowlist) == 0 {
		doc.Rules.Allowlist = DefaultAllowlist()
	}
	if len(doc.Rules.Blocklist) == 0 {
		doc.Rules.Blocklist = DefaultRules()
	}
	return doc, nil
}

// SaveDocument writes the policy tables to disk as YAML.
func SaveDocument(path string, doc Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultAllowlist returns the base commands permitted by default.
func DefaultAllowlist() []string {
	return []string{
		// File operations
		"cd", "cp", "ls", "cat", "find", "touch", "echo", "grep", "pwd", "mkdir",
		"sort", "head", "tail", "du", "wc", "which", "whereis", "file",

		// macOS application and file launching
		"open",

		// Network
		"curl", "wget", "ping",

		// Text processing
		"sed", "awk", "tr", "cut", "uniq",

		// System info
		"date", "whoami", "uname", "df", "ps", "top", "uptime",

		// Python
		"python", "python3", "pip", "pip3",

		// Git
		"git",

		// Archives
		"tar", "zip", "unzip",

		// Process management (the blocklist still rejects kill forms)
		"kill", "killall",
	}
}

// DefaultRules returns the built-in blocklist. Order matters: the first
// matching rule decides the reported category and message. The anchor
// fragment (^|[;&|]\s*) restricts a name to command position so that
// file arguments like "cat rm.txt" do not trip it.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category: "injection",
			Pattern:  "[`$()]",
			Message:  "Command injection patterns are not allowed.",
		},
		{
			Category: "indirect-execution",
			Pattern:  `\bxargs\b|-exec(dir)?\b|-ok(dir)?\b`,
			Message:  "Delegating execution through find -exec or xargs is not allowed.",
		},
		{
			Category: "destructive-file-op",
			Pattern:  `(^|[;&|]\s*)(rm|rmdir|mv|shred|unlink)\b`,
			Message:  "Destructive file operations are not allowed.",
		},
		{
			Category: "permission-change",
			Pattern:  `(^|[;&|]\s*)(chmod|chown|chgrp)\b`,
			Message:  "Changing file permissions or ownership is not allowed.",
		},
		{
			Category: "privilege-escalation",
			Pattern:  `\b(sudo|doas)\b`,
			Message:  "Privilege escalation commands are not allowed.",
		},
		{
			Category: "privilege-escalation",
			Pattern:  `(^|[;&|]\s*)(su|passwd)\b`,
			Message:  "Privilege escalation commands are not allowed.",
		},
		{
			Category: "process-kill",
			Pattern:  `(^|[;&|]\s*)(kill|killall|pkill)\b`,
			Message:  "Killing processes is not allowed.",
		},
		{
			Category: "disk-destruction",
			Pattern:  `(^|[;&|]\s*)(mkfs|fdisk|parted)\b|\bdd\s+(if|of)=`,
			Message:  "Disk formatting and raw device writes are not allowed.",
		},
		{
			Category: "service-management",
			Pattern:  `(^|[;&|]\s*)(systemctl|service|launchctl)\b`,
			Message:  "Managing system services is not allowed.",
		},
		{
			Category: "system-dir-write",
			Pattern:  `>>?\s*/(etc|usr|bin|sbin|boot|dev|sys|proc|lib|var)(/|\s|$)`,
			Message:  "Writing into system directories is not allowed.",
		},
		{
			Category: "package-install",
			Pattern:  `(^|[;&|]\s*)(apt|apt-get|yum|dnf|apk|brew)\s+(install|remove|purge|upgrade|uninstall)\b`,
			Message:  "System package management is not allowed.",
		},
		{
			Category: "package-install",
			Pattern:  `\bnpm\s+(install|i)\b[^;&|]*\s(-g|--global)\b`,
			Message:  "Global package installation is not allowed.",
		},
		{
			Category: "container-mutation",
			Pattern:  `(^|[;&|]\s*)(docker|podman|kubectl)\s+(rm|rmi|kill|stop|delete|apply|exec|run|scale|drain)\b`,
			Message:  "Container and cluster mutation commands are not allowed.",
		},
		{
			Category: "firewall-mutation",
			Pattern:  `(^|[;&|]\s*)(iptables|ip6tables|nft|ufw|firewall-cmd)\b`,
			Message:  "Firewall changes are not allowed.",
		},
		{
			Category: "cron-mutation",
			Pattern:  `(^|[;&|]\s*)crontab\b`,
			Message:  "Editing scheduled jobs is not allowed.",
		},
		{
			Category: "raw-network",
			Pattern:  `(^|[;&|]\s*)(nc|ncat|netcat|socat|telnet)\b`,
			Message:  "Raw network tools are not allowed.",
		},
		{
			Category: "sensitive-port",
			Pattern:  `\b(curl|wget|ssh|scp|ftp)\b[^;|&]*:(22|23|25|135|139|445|3389|5900)\b`,
			Message:  "Connections to sensitive ports are not allowed.",
		},
	}
}
