package turnengine

import "github.com/agentcore/nexus/internal/models"

// accumulator collects partial content blocks from a stream attempt so
// that a cancellation or an after-partial transport failure can still
// produce a faithful AssistantMessage instead of silently discarding
// whatever the model had already emitted. Adjacent Text/Thinking deltas
// are merged by concatenation; ToolCall and Image blocks are appended as
// discrete entries since the modelclient contract only yields those once
// complete.
type accumulator struct {
	blocks []models.ContentBlock
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

func (a *accumulator) hasContent() bool {
	return len(a.blocks) > 0
}

func (a *accumulator) append(block models.ContentBlock) {
	if len(a.blocks) > 0 {
		last := &a.blocks[len(a.blocks)-1]
		switch {
		case block.Text != nil && last.Text != nil:
			last.Text.Text += block.Text.Text
			return
		case block.Thinking != nil && last.Thinking != nil:
			last.Thinking.Text += block.Thinking.Text
			if block.Thinking.Signature != "" {
				last.Thinking.Signature = block.Thinking.Signature
			}
			return
		}
	}
	a.blocks = append(a.blocks, block)
}

func (a *accumulator) toAborted() *models.AssistantMessage {
	return &models.AssistantMessage{
		Content:      append([]models.ContentBlock(nil), a.blocks...),
		StopReason:   models.StopReasonAborted,
		ErrorMessage: "Request was aborted",
	}
}

func (a *accumulator) toError(message string) *models.AssistantMessage {
	return &models.AssistantMessage{
		Content:      append([]models.ContentBlock(nil), a.blocks...),
		StopReason:   models.StopReasonError,
		ErrorMessage: message,
	}
}
