package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cchalm/applybot/internal/pipeline"
)

var applyFlags struct {
	edit     bool
	packages []string
	dryRun   bool
	session  string
}

var applyCmd = &cobra.Command{
	Use:   "apply [file]",
	Short: "Apply a model response to the project",
	Long: `Reads a model response from a file, or from stdin when no file is given, and applies it
to the configured sandbox. Without a sandbox, or with --dry-run, the response is only parsed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyFlags.edit, "edit", false, "Treat the response as an edit of an existing project")
	applyCmd.Flags().StringSliceVar(&applyFlags.packages, "package", nil, "Package to install in addition to those in the response")
	applyCmd.Flags().BoolVar(&applyFlags.dryRun, "dry-run", false, "Parse the response without applying it")
	applyCmd.Flags().StringVar(&applyFlags.session, "session", "default", "Session to apply the response to")

	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := setupContext()

	raw, err := readInput(args, cmd.InOrStdin())
	if err != nil {
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

	if applyFlags.dryRun || env.sandbox == nil {
		res, err := env.applier.Preview(raw)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	}

	sess, err := env.loadSession(ctx, applyFlags.session)
	if err != nil {
		return err
	}
	res, err := env.applier.Apply(ctx, sess, pipeline.Request{
		Response: raw,
		IsEdit:   applyFlags.edit,
		Packages: applyFlags.packages,
	})
	if err != nil {
		return fmt.Errorf("failed to apply response: %w", err)
	}
	if err := env.saveSession(ctx, sess); err != nil {
		logger.Error("failed to save session", zap.Error(err))
	}
	return printJSON(cmd.OutOrStdout(), res)
}
