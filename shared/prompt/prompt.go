// Package prompt turns a repository snapshot into the instruction sent to
// the model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/forge-ai/readmeforge/shared/harvest"
)

type Style string

const (
	Light  Style = "light"
	Simple Style = "simple"
	Normal Style = "normal"
	Medium Style = "medium"
	Deep   Style = "deep"
)

const System = "You are an expert developer and technical writer. You generate high-quality, comprehensive README.md files for GitHub repositories."

var styleGuides = map[Style]string{
	Light:  "Keep it brief and concise. Focus on what it does and how to run it.",
	Simple: "Simple language, easy to understand. Good for beginners.",
	Normal: "Standard professional README. Installation, Usage, Features.",
	Medium: "Detailed. Include configuration, API reference if applicable, and contributing.",
	Deep:   "Extremely comprehensive. Deep dive into architecture, design choices, full API docs, testing, and deployment.",
}

// NormalizeStyle maps unknown styles to Normal.
func NormalizeStyle(s string) Style {
	st := Style(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := styleGuides[st]; ok {
		return st
	}
	return Normal
}

// Build assembles the user prompt. details is expected to be sanitized
// already and is omitted when empty.
func Build(snap *harvest.Snapshot, style Style, details string) string {
	style = NormalizeStyle(string(style))

	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate a %s README.md for the following GitHub repository: %s/%s.\n", style, snap.Owner, snap.Repo)
	fmt.Fprintf(&sb, "Description: %s\n", snap.Description)

	if details != "" {
		sb.WriteString("\nAdditional project details provided by the user:\n")
		sb.WriteString(details)
		sb.WriteString("\n")
	}

	sb.WriteString("\nHere are the contents of some key files:\n")
	for i, f := range snap.Files {
		if i > 0 {
			sb.WriteString("\n")
		}
		fence := fenceFor(f.Content)
		fmt.Fprintf(&sb, "File: %s\n%s\n%s\n%s\n", f.Path, fence, f.Content, fence)
	}

	sb.WriteString("\nRequirements:\n")
	fmt.Fprintf(&sb, "- Use the %q style: %s\n", string(style), styleGuides[style])
	sb.WriteString("- Use proper Markdown formatting.\n")
	sb.WriteString("- Include badges if possible.\n")
	sb.WriteString("- Make it look professional and polished.\n")
	sb.WriteString("- Use the file contents only for context; do not repeat them verbatim in the output.\n")
	return sb.String()
}

// fenceFor returns a backtick fence longer than any run inside content, so
// a README with its own code blocks cannot close the fence early.
func fenceFor(content string) string {
	longest, run := 0, 0
	for _, r := range content {
		if r == '`' {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	return strings.Repeat("`", max(3, longest+1))
}
