package session

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/ai-analytics/internal/ai"
)

var ErrEmptySummary = errors.New("session: summarizer returned no text")

type Summarizer interface {
	Summarize(ctx context.Context, msgs []Message) (string, error)
}

// SummarizerFunc adapts a plain function to Summarizer.
type SummarizerFunc func(ctx context.Context, msgs []Message) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, msgs []Message) (string, error) {
	return f(ctx, msgs)
}

const summaryInstruction = "Summarize the following conversation between user and assistant. " +
	"Only include the user's key questions and the assistant's key answers. " +
	"Keep it under 5 sentences. Do not include formatting like **bold** or bullet points. " +
	"Conversation:\n"

// ModelSummarizer asks a text model for a short plain-prose digest.
type ModelSummarizer struct {
	provider ai.Provider
}

func NewModelSummarizer(p ai.Provider) *ModelSummarizer {
	return &ModelSummarizer{provider: p}
}

func (s *ModelSummarizer) Summarize(ctx context.Context, msgs []Message) (string, error) {
	reply, err := s.provider.Chat(ctx, []ai.Message{{Role: ai.RoleUser, Content: SummaryPrompt(msgs)}})
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", ErrEmptySummary
	}
	return reply, nil
}

// SummaryPrompt renders msgs as "ROLE: text" lines under the summary instruction.
func SummaryPrompt(msgs []Message) string {
	var b strings.Builder
	b.WriteString(summaryInstruction)
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.ToUpper(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Text)
	}
	return b.String()
}
