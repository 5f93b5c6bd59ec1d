package app

import (
	"context"
	"fmt"
	"strings"

	"healthq/internal/ai"
	"healthq/internal/model"
)

const (
	PromptVariantPolicy  = "policy"
	PromptVariantConcise = "concise"
)

const (
	PolicyDeclinePhrase  = "I'm sorry, I couldn't find that information in the provided policy documents."
	ConciseDeclinePhrase = "I don't know."
)

const policyPromptTemplate = `You are an intelligent and reliable insurance assistant tasked with helping users understand health insurance policies.

Carefully analyze the context provided from official insurance documents to answer the user's question. Your response must be:
- Accurate, complete, and free of assumptions
- Written in at least 50 words
- Structured clearly and easy to understand for a general audience
- Detailed if the context includes multiple points

Do not fabricate information. If the answer is not found in the context, simply respond with: "%s"

Avoid redundancy and overly generic language.

---
Context:
%s

Answer:`

const concisePromptTemplate = "You are an assistant for question-answering tasks. " +
	"Use the following retrieved context to answer the question. " +
	"If you don't know the answer, say you don't know. " +
	"Use three sentences maximum and keep the answer concise." +
	"\n\n%s"

// Composer asks the model to answer from the retrieved chunks only. The
// instructions in the prompt are not checked against the model output.
type Composer struct {
	generator ai.Generator
	variant   string
}

func NewComposer(generator ai.Generator, variant string) *Composer {
	if variant != PromptVariantConcise {
		variant = PromptVariantPolicy
	}
	return &Composer{generator: generator, variant: variant}
}

// DeclinePhrase is the answer given when nothing relevant was retrieved.
func (c *Composer) DeclinePhrase() string {
	if c.variant == PromptVariantConcise {
		return ConciseDeclinePhrase
	}
	return PolicyDeclinePhrase
}

func (c *Composer) Compose(ctx context.Context, question string, transcript []model.Turn, chunks []model.ScoredChunk) (string, error) {
	if len(chunks) == 0 {
		return c.DeclinePhrase(), nil
	}

	messages := make([]ai.ChatMessage, 0, 2*len(transcript)+2)
	messages = append(messages, ai.ChatMessage{Role: ai.RoleSystem, Content: c.systemPrompt(chunks)})
	messages = append(messages, transcriptMessages(transcript)...)
	messages = append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: question})

	answer, err := c.generator.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrAnswer, err)
	}
	return strings.TrimSpace(answer), nil
}

func (c *Composer) systemPrompt(chunks []model.ScoredChunk) string {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Chunk.Text
	}
	contextBlock := strings.Join(texts, "\n\n")
	if c.variant == PromptVariantConcise {
		return fmt.Sprintf(concisePromptTemplate, contextBlock)
	}
	return fmt.Sprintf(policyPromptTemplate, PolicyDeclinePhrase, contextBlock)
}
