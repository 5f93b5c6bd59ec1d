package ai

import "context"

// Generator produces a completion for a structured prompt: system
// instruction, prior turns, then the user turn.
type Generator interface {
	Generate(ctx context.Context, messages []ChatMessage) (string, error)
}

// Embedder turns texts into fixed-dimension vectors, one per text, in order.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type ChatGenerator struct {
	client *OpenAICompatibleClient
	cfg    ChatConfig
}

func NewChatGenerator(client *OpenAICompatibleClient, cfg ChatConfig) *ChatGenerator {
	return &ChatGenerator{client: client, cfg: cfg}
}

func (g *ChatGenerator) Generate(ctx context.Context, messages []ChatMessage) (string, error) {
	return g.client.Complete(ctx, g.cfg, messages)
}

func (g *ChatGenerator) Model() string {
	return g.cfg.Model
}

type RemoteEmbedder struct {
	client *OpenAICompatibleClient
	cfg    EmbeddingConfig
}

func NewRemoteEmbedder(client *OpenAICompatibleClient, cfg EmbeddingConfig) *RemoteEmbedder {
	return &RemoteEmbedder{client: client, cfg: cfg}
}

func (e *RemoteEmbedder) Name() string {
	return "remote:" + e.cfg.Model
}

func (e *RemoteEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.client.EmbedBatch(ctx, e.cfg, texts)
}
