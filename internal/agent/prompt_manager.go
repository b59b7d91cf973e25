package agent

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rahul/makeprogress/internal/protocol"
)

const (
	plannerPromptFile = "planner.md"
	contextPromptFile = "context.md"

	// SummaryPlaceholder is replaced by the completed-step lines in context.md.
	SummaryPlaceholder = "{completed_summary}"
)

//go:embed prompts/*.md
var defaultPrompts embed.FS

// PromptManager loads prompt files from Directory, falling back to the
// built-in copies for files the directory does not have.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

func (pm *PromptManager) GetPlannerPrompt() (string, error) {
	return pm.read(plannerPromptFile)
}

func (pm *PromptManager) GetContextPrompt() (string, error) {
	return pm.read(contextPromptFile)
}

// SystemPrompt is the planner prompt, followed by the context section when
// there is history to continue from.
func (pm *PromptManager) SystemPrompt(completed []protocol.CompletedStep) (string, error) {
	prompt, err := pm.GetPlannerPrompt()
	if err != nil {
		return "", err
	}
	summary := CompletedSummary(completed)
	if summary == "" {
		return prompt, nil
	}

	tmpl, err := pm.GetContextPrompt()
	if err != nil {
		return "", err
	}
	return prompt + "\n" + strings.ReplaceAll(tmpl, SummaryPlaceholder, summary), nil
}

// CompletedSummary renders one line per history entry.
func CompletedSummary(completed []protocol.CompletedStep) string {
	lines := make([]string, 0, len(completed))
	for _, c := range completed {
		lines = append(lines, fmt.Sprintf("- %s | subtitle: %s | feedback: %s -> answer: %s",
			c.Title, c.Subtitle, c.FeedbackQuestion, c.FeedbackAnswer))
	}
	return strings.Join(lines, "\n")
}

func (pm *PromptManager) read(name string) (string, error) {
	if pm.Directory != "" {
		data, err := os.ReadFile(filepath.Join(pm.Directory, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read prompt %s: %w", name, err)
		}
	}

	data, err := defaultPrompts.ReadFile("prompts/" + name)
	if err != nil {
		return "", fmt.Errorf("no built-in prompt %s: %w", name, err)
	}
	return string(data), nil
}
