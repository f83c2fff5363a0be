package prompts

import (
	"strings"
	"testing"
)

func TestBaseRendersAllowlist(t *testing.T) {
	prompt := Base([]string{"ls", "cat", "pwd"})

	if !strings.HasPrefix(prompt, "/think") {
		t.Errorf("Expected prompt to start with /think, got %q", prompt[:20])
	}
	if !strings.Contains(prompt, "```\nls, cat, pwd\n```") {
		t.Errorf("Expected allowlist inside the code fence, got:\n%s", prompt)
	}
	if strings.Contains(prompt, allowlistMarker) {
		t.Error("Expected the allowlist marker to be replaced")
	}
	if !strings.Contains(prompt, "politely refuse") {
		t.Error("Expected the refusal instruction to survive rendering")
	}
}

func TestCombineWithUserExtension(t *testing.T) {
	combined := Combine([]string{"ls"}, "  Always answer in French.  ")

	if !strings.HasSuffix(combined, "Always answer in French.") {
		t.Errorf("Expected trimmed user extension at the end, got %q", combined[len(combined)-40:])
	}
	if !strings.Contains(combined, "allowed command list!") {
		t.Error("Expected the base prompt ahead of the extension")
	}
}

func TestCombineWithoutUserExtension(t *testing.T) {
	if got, want := Combine([]string{"ls"}, "   "), Base([]string{"ls"}); got != want {
		t.Error("Expected blank extension to leave the base prompt unchanged")
	}
}

func TestWithWorkingDirectory(t *testing.T) {
	got := WithWorkingDirectory("list the files", "/tmp/work")
	want := "list the files\n\nCurrent working directory: `/tmp/work`"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
