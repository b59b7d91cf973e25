package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/makeprogress/internal/observability"
	"github.com/rahul/makeprogress/internal/protocol"
	"github.com/tmc/langchaingo/llms"
)

// DefaultTemperature keeps step wording stable between replans.
const DefaultTemperature = 0.4

// StreamHandler receives a streamed generation as it happens. Either
// callback may be nil. A returned error aborts the generation.
type StreamHandler struct {
	Token func(text string) error
	Step  func(step protocol.StepPayload) error
}

// Planner turns a task and its completed history into steps.
type Planner struct {
	Model       llms.Model
	Prompts     *PromptManager
	Temperature float64
	Logger      *observability.Logger
}

func NewPlanner(model llms.Model, prompts *PromptManager, logger *observability.Logger) *Planner {
	return &Planner{
		Model:       model,
		Prompts:     prompts,
		Temperature: DefaultTemperature,
		Logger:      logger,
	}
}

func (p *Planner) messages(task string, completed []protocol.CompletedStep) ([]llms.MessageContent, error) {
	systemPrompt, err := p.Prompts.SystemPrompt(completed)
	if err != nil {
		return nil, fmt.Errorf("failed to load planner prompt: %w", err)
	}
	return []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(strings.TrimSpace(task))},
		},
	}, nil
}

// Stream generates steps and hands every model delta and every extracted
// step to h while the model is still writing. It returns the number of
// steps emitted, or ErrNoSteps when the model produced none.
func (p *Planner) Stream(ctx context.Context, task string, completed []protocol.CompletedStep, h StreamHandler) (int, error) {
	id := uuid.NewString()
	start := time.Now()

	messages, err := p.messages(task, completed)
	if err != nil {
		return 0, err
	}

	var (
		x   Extractor
		raw strings.Builder
	)
	onChunk := func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		delta := string(chunk)
		raw.WriteString(delta)
		if h.Token != nil {
			if err := h.Token(delta); err != nil {
				return err
			}
		}
		for _, step := range x.Feed(delta) {
			if h.Step != nil {
				if err := h.Step(step); err != nil {
					return err
				}
			}
		}
		return nil
	}

	_, err = p.Model.GenerateContent(ctx, messages,
		llms.WithStreamingFunc(onChunk),
		llms.WithJSONMode(),
		llms.WithTemperature(p.Temperature),
	)
	p.Logger.LogLLM(id, task, messages, raw.String())
	if err == nil && x.Count() == 0 {
		err = ErrNoSteps
	}
	p.Logger.LogGeneration(id, task, x.Count(), time.Since(start), err)
	return x.Count(), err
}

// Generate asks for the whole plan in one response.
func (p *Planner) Generate(ctx context.Context, task string, completed []protocol.CompletedStep) ([]protocol.StepPayload, error) {
	id := uuid.NewString()
	start := time.Now()

	messages, err := p.messages(task, completed)
	if err != nil {
		return nil, err
	}

	resp, err := p.Model.GenerateContent(ctx, messages,
		llms.WithJSONMode(),
		llms.WithTemperature(p.Temperature),
	)
	if err != nil {
		p.Logger.LogGeneration(id, task, 0, time.Since(start), err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		err = ErrNoValidSteps
		p.Logger.LogGeneration(id, task, 0, time.Since(start), err)
		return nil, err
	}

	content := resp.Choices[0].Content
	p.Logger.LogLLM(id, task, messages, content)
	steps, err := ParseSteps(content)
	p.Logger.LogGeneration(id, task, len(steps), time.Since(start), err)
	return steps, err
}
