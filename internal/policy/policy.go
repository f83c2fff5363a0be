// Package policy decides whether a proposed shell command may run.
//
// The gate is pattern matching, not a sandbox. A command must carry an
// allowlisted base command in every segment and must not match any
// blocklist rule; there is no namespace, seccomp, or privilege
// isolation behind the verdict. Treat an allowed verdict as best-effort
// denial of a known-dangerous surface, never as a security boundary.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Reason classifies the outcome of evaluating a command.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonEmpty            Reason = "empty"
	ReasonNotInAllowlist   Reason = "not_in_allowlist"
	ReasonBlockedPattern   Reason = "blocked_pattern"
	ReasonDisallowedSyntax Reason = "disallowed_syntax"
)

// Verdict is the decision for one command string. Detail carries the
// user-facing rejection text and is empty when Allowed is true. Rule is
// set only for ReasonBlockedPattern.
type Verdict struct {
	Allowed bool
	Reason  Reason
	Rule    *Rule
	Detail  string
}

type compiledRule struct {
	re   *regexp.Regexp
	rule Rule
}

// Policy evaluates commands against an allowlist and a blocklist.
// Evaluation is pure: the same string always yields the same verdict.
type Policy struct {
	allowed    map[string]struct{}
	allowlist  []string
	rules      []compiledRule
	allowPipes bool
}

var (
	segmentSplit = regexp.MustCompile(`[;&|]+`)
	pipeSyntax   = regexp.MustCompile(`[|>]`)
)

// New compiles a policy from the given document. Multi-word allowlist
// entries are dropped: the allowlist matches base tokens only.
func New(doc Document, allowPipes bool) (*Policy, error) {
	p := &Policy{
		allowed:    make(map[string]struct{}, len(doc.Rules.Allowlist)),
		allowPipes: allowPipes,
	}
	for _, name := range doc.Rules.Allowlist {
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsAny(name, " \t") {
			continue
		}
		if _, ok := p.allowed[name]; !ok {
			p.allowed[name] = struct{}{}
			p.allowlist = append(p.allowlist, name)
		}
	}
	for _, rule := range doc.Rules.Blocklist {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile blocklist pattern %q: %w", rule.Pattern, err)
		}
		p.rules = append(p.rules, compiledRule{re: re, rule: rule})
	}
	return p, nil
}

// Default builds a policy from the built-in tables.
func Default(allowPipes bool) *Policy {
	p, err := New(DefaultDocument(), allowPipes)
	if err != nil {
		panic(err)
	}
	return p
}

// Evaluate decides whether command may run. Blocklist rules are checked
// before the allowlist, so a blocked pattern rejects even when every
// base command is allowlisted; the first matching rule decides the
// reported message.
func (p *Policy) Evaluate(command string) Verdict {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return Verdict{Reason: ReasonEmpty, Detail: "No command was provided"}
	}

	for i := range p.rules {
		if p.rules[i].re.MatchString(trimmed) {
			rule := p.rules[i].rule
			return Verdict{Reason: ReasonBlockedPattern, Rule: &rule, Detail: rule.Message}
		}
	}

	if !p.allowPipes && pipeSyntax.MatchString(trimmed) {
		return Verdict{Reason: ReasonDisallowedSyntax, Detail: "Pipes and redirects are not currently allowed for safety."}
	}

	for _, base := range baseCommands(trimmed) {
		if _, ok := p.allowed[base]; !ok {
			return Verdict{Reason: ReasonNotInAllowlist, Detail: fmt.Sprintf("Command '%s' is not in the allowlist.", base)}
		}
	}

	return Verdict{Allowed: true, Reason: ReasonOK}
}

// Allowlist returns the permitted base commands in declaration order.
func (p *Policy) Allowlist() []string {
	out := make([]string, len(p.allowlist))
	copy(out, p.allowlist)
	return out
}

// Rules returns the blocklist entries in evaluation order.
func (p *Policy) Rules() []Rule {
	out := make([]Rule, 0, len(p.rules))
	for i := range p.rules {
		out = append(out, p.rules[i].rule)
	}
	return out
}

// baseCommands returns the first token of every simple command in a
// possibly compound string. Segments are separated by ;, & or |; an
// empty segment produces no entry.
func baseCommands(command string) []string {
	parts := segmentSplit.Split(command, -1)
	bases := make([]string, 0, len(parts))
	for _, part := range parts {
		tokens := Tokenize(part)
		if len(tokens) > 0 {
			bases = append(bases, tokens[0])
		}
	}
	return bases
}
