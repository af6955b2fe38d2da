package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cchalm/applybot/internal/ai"
	"github.com/cchalm/applybot/internal/changeset"
	"github.com/cchalm/applybot/internal/pipeline"
	"github.com/cchalm/applybot/internal/session"
)

const recentChangesInPrompt = 5

var generateFlags struct {
	edit    bool
	dryRun  bool
	session string
}

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate code for a prompt and apply it",
	Long: `Streams a response for the prompt from the model, reporting each file as it completes,
then applies the response to the configured sandbox. The session's recent changes and known
files are included in the prompt.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().BoolVar(&generateFlags.edit, "edit", false, "Edit the existing project instead of building a new one")
	generateCmd.Flags().BoolVar(&generateFlags.dryRun, "dry-run", false, "Generate and parse the response without applying it")
	generateCmd.Flags().StringVar(&generateFlags.session, "session", "default", "Session to generate in")

	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := setupContext()

	if err := config.RequireAnthropic(); err != nil {
		return err
	}

	env, err := newEnvironment(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := env.Close(ctx); err != nil {
			logger.Warn("failed to release resources", zap.Error(err))
		}
	}()

	sess, err := env.loadSession(ctx, generateFlags.session)
	if err != nil {
		return err
	}

	data := ai.GenerateData{
		Prompt:     args[0],
		IsEdit:     generateFlags.edit,
		KnownFiles: sess.Index.Paths(),
	}
	if sess.Conversation != nil {
		data.RecentChanges, err = sess.Conversation.RecentChanges(recentChangesInPrompt)
		if err != nil {
			return err
		}
	}
	prompt, err := ai.GeneratePrompt(data)
	if err != nil {
		return err
	}

	stream := changeset.NewStream(changeset.NewParser(logger))
	reported := 0
	reply, err := env.sender.Send(ctx, ai.SystemPrompt(), prompt, func(delta string) {
		stream.WriteString(delta)
		completed := stream.CompletedFiles()
		for _, p := range completed[min(reported, len(completed)):] {
			fmt.Fprintf(cmd.ErrOrStderr(), "generated %s\n", p)
		}
		reported = max(reported, len(completed))
	})
	if err != nil {
		return err
	}

	if sess.Conversation != nil {
		now := time.Now()
		sess.Conversation.AddMessage(session.RoleUser, args[0], now)
		sess.Conversation.AddMessage(session.RoleAssistant, reply, now)
	}

	var res *pipeline.Result
	if generateFlags.dryRun || env.sandbox == nil {
		res, err = env.applier.Preview(reply)
	} else {
		res, err = env.applier.Apply(ctx, sess, pipeline.Request{Response: reply, IsEdit: generateFlags.edit})
	}
	if err != nil {
		return fmt.Errorf("failed to apply generated response: %w", err)
	}

	if err := env.saveSession(ctx, sess); err != nil {
		logger.Error("failed to save session", zap.Error(err))
	}
	return printJSON(cmd.OutOrStdout(), res)
}
