package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"healthq/internal/ai"
	"healthq/internal/model"
)

const contextualizePrompt = "Given a chat history and the latest user question " +
	"which might reference context in the chat history, " +
	"formulate a standalone question which can be understood " +
	"without the chat history. Do NOT answer the question, " +
	"just reformulate it if needed and otherwise return it as is."

var errEmptyRewrite = errors.New("model returned an empty rewrite")

// Rewriter turns a follow-up question into a standalone query using the
// session transcript.
type Rewriter struct {
	generator ai.Generator
	fallback  bool
	log       *zap.Logger
}

// NewRewriter builds a rewriter. With fallbackToQuestion set, a failed
// model call yields the raw question instead of ErrRewrite.
func NewRewriter(generator ai.Generator, fallbackToQuestion bool, log *zap.Logger) *Rewriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Rewriter{generator: generator, fallback: fallbackToQuestion, log: log}
}

func (r *Rewriter) Rewrite(ctx context.Context, transcript []model.Turn, question string) (string, error) {
	if len(transcript) == 0 {
		return question, nil
	}

	messages := make([]ai.ChatMessage, 0, 2*len(transcript)+2)
	messages = append(messages, ai.ChatMessage{Role: ai.RoleSystem, Content: contextualizePrompt})
	messages = append(messages, transcriptMessages(transcript)...)
	messages = append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: question})

	standalone, err := r.generator.Generate(ctx, messages)
	if err == nil {
		standalone = strings.TrimSpace(standalone)
		if standalone == "" {
			err = errEmptyRewrite
		}
	}
	if err != nil {
		if r.fallback {
			r.log.Warn("query rewrite failed, using raw question", zap.Error(err))
			return question, nil
		}
		return "", fmt.Errorf("%w: %w", model.ErrRewrite, err)
	}
	return standalone, nil
}

// transcriptMessages renders turns as alternating user/assistant messages.
func transcriptMessages(turns []model.Turn) []ai.ChatMessage {
	messages := make([]ai.ChatMessage, 0, 2*len(turns))
	for _, t := range turns {
		messages = append(messages,
			ai.ChatMessage{Role: ai.RoleUser, Content: t.Question},
			ai.ChatMessage{Role: ai.RoleAssistant, Content: t.Answer},
		)
	}
	return messages
}
