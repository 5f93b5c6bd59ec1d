package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"healthq/internal/bootstrap"
	"healthq/internal/config"
	"healthq/internal/model"
	"healthq/internal/platform/logger"
)

var (
	chatFiles     []string
	chatSessionID string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with one or more PDF documents",
	Long: `Builds a knowledge base from the given PDFs (reusing it when the files
are unchanged) and answers questions line by line. Follow-up questions are
resolved against the conversation so far.

Commands: :history, :reset, :rebuild, :quit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringArrayVarP(&chatFiles, "file", "f", nil, "PDF file to load (repeatable)")
	chatCmd.Flags().StringVarP(&chatSessionID, "session", "s", "", "session id (random when empty)")
	_ = chatCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, model.ErrConfiguration) {
			cmd.PrintErrf("warning: %v\n", err)
			return nil
		}
		return err
	}

	level := "warn"
	if verbose {
		level = cfg.Log.Level
	}
	log, err := logger.New(level, cfg.App.Env)
	if err != nil {
		return fmt.Errorf("init logger failed: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("close resources failed", zap.Error(err))
		}
	}()

	sessionID := chatSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	refs := make([]model.DocumentRef, 0, len(chatFiles))
	for _, f := range chatFiles {
		refs = append(refs, model.DocumentRef{Path: f})
	}

	r := &repl{
		qa:        app.QA,
		refs:      refs,
		sessionID: sessionID,
		in:        cmd.InOrStdin(),
		out:       cmd.OutOrStdout(),
	}
	return r.run(ctx)
}
