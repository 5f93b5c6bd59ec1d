package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"healthq/internal/app"
	"healthq/internal/model"
)

// chatService is the part of app.QAService the REPL drives.
type chatService interface {
	BuildKnowledgeBase(ctx context.Context, refs []model.DocumentRef, rebuild bool) (*app.KnowledgeBaseInfo, error)
	Ask(ctx context.Context, sessionID, question string) (*app.TurnResult, error)
	Transcript(ctx context.Context, sessionID string) ([]model.Turn, error)
	ResetSession(ctx context.Context, sessionID string) error
}

type repl struct {
	qa        chatService
	refs      []model.DocumentRef
	sessionID string
	in        io.Reader
	out       io.Writer
}

// run builds the knowledge base and then serves one question per line until
// :quit or end of input. Errors are printed and leave state untouched.
func (r *repl) run(ctx context.Context) error {
	if err := r.build(ctx, false); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "session %s ready. Ask a question or type :quit.\n", r.sessionID)

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case ":quit", ":q", ":exit":
			return nil
		case ":history":
			r.history(ctx)
		case ":reset":
			if err := r.qa.ResetSession(ctx, r.sessionID); err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(r.out, "session history cleared.")
		case ":rebuild":
			if err := r.build(ctx, true); err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
		default:
			result, err := r.qa.Ask(ctx, r.sessionID, line)
			if err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(r.out, result.Turn.Answer)
			for _, src := range result.Sources {
				fmt.Fprintf(r.out, "  [%s p.%d] %.3f\n", src.Chunk.Source, src.Chunk.PageIndex+1, src.Score)
			}
		}
	}
}

func (r *repl) build(ctx context.Context, rebuild bool) error {
	info, err := r.qa.BuildKnowledgeBase(ctx, r.refs, rebuild)
	if err != nil {
		return fmt.Errorf("build knowledge base failed: %w", err)
	}
	state := "built"
	if info.Reused {
		state = "reused"
	}
	fmt.Fprintf(r.out, "knowledge base %s: %d document(s), %d chunk(s)\n", state, info.Documents, info.Chunks)
	return nil
}

func (r *repl) history(ctx context.Context) {
	turns, err := r.qa.Transcript(ctx, r.sessionID)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	if len(turns) == 0 {
		fmt.Fprintln(r.out, "no history yet.")
		return
	}
	for i, t := range turns {
		fmt.Fprintf(r.out, "%d. Q: %s\n   A: %s\n", i+1, t.Question, t.Answer)
	}
}
