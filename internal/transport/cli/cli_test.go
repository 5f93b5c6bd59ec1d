package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthq/internal/app"
	"healthq/internal/model"
	"healthq/internal/pkg/jwtutil"
)

type fakeChat struct {
	builds   []bool
	turns    []model.Turn
	failNext bool
}

func (f *fakeChat) BuildKnowledgeBase(_ context.Context, refs []model.DocumentRef, rebuild bool) (*app.KnowledgeBaseInfo, error) {
	f.builds = append(f.builds, rebuild)
	return &app.KnowledgeBaseInfo{Documents: len(refs), Chunks: 3, Reused: !rebuild && len(f.builds) > 1}, nil
}

func (f *fakeChat) Ask(_ context.Context, sessionID, question string) (*app.TurnResult, error) {
	if f.failNext {
		f.failNext = false
		return nil, model.ErrAnswer
	}
	turn := model.Turn{SessionID: sessionID, Question: question, Answer: "answer to " + question}
	f.turns = append(f.turns, turn)
	return &app.TurnResult{Turn: turn, Sources: []model.ScoredChunk{{Chunk: model.Chunk{Source: "policy.pdf"}, Score: 0.5}}}, nil
}

func (f *fakeChat) Transcript(context.Context, string) ([]model.Turn, error) {
	return f.turns, nil
}

func (f *fakeChat) ResetSession(context.Context, string) error {
	f.turns = nil
	return nil
}

func TestREPL(t *testing.T) {
	chat := &fakeChat{}
	var out bytes.Buffer
	r := &repl{
		qa:        chat,
		refs:      []model.DocumentRef{{Path: "policy.pdf"}},
		sessionID: "s1",
		in:        strings.NewReader("What is covered?\n:history\n:rebuild\n:reset\n:history\n:quit\nnever asked\n"),
		out:       &out,
	}

	require.NoError(t, r.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "knowledge base built: 1 document(s), 3 chunk(s)")
	assert.Contains(t, text, "answer to What is covered?")
	assert.Contains(t, text, "[policy.pdf p.1]")
	assert.Contains(t, text, "1. Q: What is covered?")
	assert.Contains(t, text, "session history cleared.")
	assert.Contains(t, text, "no history yet.")
	assert.NotContains(t, text, "never asked")
	assert.Equal(t, []bool{false, true}, chat.builds)
}

func TestREPL_ErrorsAreInline(t *testing.T) {
	chat := &fakeChat{failNext: true}
	var out bytes.Buffer
	r := &repl{
		qa:        chat,
		sessionID: "s1",
		in:        strings.NewReader("first\nsecond\n"),
		out:       &out,
	}

	require.NoError(t, r.run(context.Background()))
	assert.Contains(t, out.String(), "error: answer generation failed")
	assert.Contains(t, out.String(), "answer to second")
	assert.Len(t, chat.turns, 1)
}

type failingBuild struct{ fakeChat }

func (f *failingBuild) BuildKnowledgeBase(context.Context, []model.DocumentRef, bool) (*app.KnowledgeBaseInfo, error) {
	return nil, model.ErrDocumentParse
}

func TestREPL_BuildFailureStops(t *testing.T) {
	r := &repl{qa: &failingBuild{}, sessionID: "s1", in: strings.NewReader(""), out: &bytes.Buffer{}}
	err := r.run(context.Background())
	assert.True(t, errors.Is(err, model.ErrDocumentParse))
}

func isolateConfig(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("JWT_SECRET", "")
}

func TestChatCmd_MissingKeyWarnsAndExitsCleanly(t *testing.T) {
	isolateConfig(t)

	var stderr bytes.Buffer
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"chat", "--file", "policy.pdf"})
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetErr(nil)
	}()

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, stderr.String(), "warning:")
}

func TestTokenCmd(t *testing.T) {
	isolateConfig(t)
	t.Setenv("JWT_SECRET", "cli-secret")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"token", "--client", "streamlit", "--ttl", "1h"})
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	}()

	require.NoError(t, rootCmd.Execute())
	claims, err := jwtutil.ParseToken("cli-secret", strings.TrimSpace(stdout.String()))
	require.NoError(t, err)
	assert.Equal(t, "streamlit", claims.ClientID)
}
