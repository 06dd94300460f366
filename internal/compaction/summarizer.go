package compaction

import (
	"context"
	"fmt"

	"github.com/agentcore/nexus/internal/modelclient"
	"github.com/agentcore/nexus/internal/models"
)

// summaryPromptBase is the dedicated system prompt used for every
// summarization turn, never the session's own system prompt: the
// summarizer must not pick up the assistant persona it is summarizing.
const summaryPromptBase = "Summarize the conversation excerpt below for an AI agent that will continue the work. " +
	"Preserve concrete facts, decisions, file paths, and open items; omit pleasantries and narration."

// ModelSummarizer adapts a modelclient.Registry into this package's
// Summarizer interface, driving one non-interactive turn per chunk/merge
// call and returning its text. It never streams partials back to a
// caller — compaction always runs off the agent's visible event stream.
type ModelSummarizer struct {
	Clients *modelclient.Registry
	API     string
	Model   string
}

// GenerateSummary implements Summarizer.
func (m *ModelSummarizer) GenerateSummary(ctx context.Context, messages []*Message, config *SummarizationConfig) (string, error) {
	prompt := summaryPromptBase
	if config != nil && config.CustomInstructions != "" {
		prompt = prompt + "\n\n" + config.CustomInstructions
	}

	req := modelclient.Request{
		API:       m.API,
		Model:     m.Model,
		System:    prompt,
		Messages:  []models.Message{*models.NewUserText(FormatMessagesForSummary(messages))},
		MaxTokens: reserveTokens(config),
	}
	if config != nil {
		req.Model = firstNonEmpty(config.Model, m.Model)
		req.APIKey = config.APIKey
	}

	stream, err := m.Clients.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	for ev := range stream {
		switch ev.Kind {
		case modelclient.EventDone:
			if ev.Message != nil {
				return ev.Message.Text(), nil
			}
		case modelclient.EventError:
			if ev.Err != nil {
				return "", ev.Err
			}
			return "", fmt.Errorf("compaction: summarizer stream reported an error with no cause")
		}
	}
	return "", fmt.Errorf("compaction: summarizer stream closed without a terminal event")
}

func reserveTokens(config *SummarizationConfig) int {
	if config == nil || config.ReserveTokens <= 0 {
		return DefaultSummarizationConfig().ReserveTokens
	}
	return config.ReserveTokens
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
