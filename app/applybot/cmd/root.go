package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appconfig "github.com/cchalm/applybot/internal/config"
)

var (
	config appconfig.Config
	logger = zap.NewNop()

	flags struct {
		logLevel   string
		layoutFile string
		projectDir string
		sandboxURL string
		sandboxID  string
		stateDir   string
		stateDB    string
	}
)

var rootCmd = &cobra.Command{
	Use:   "applybot",
	Short: "Apply generated code to a live project",
	Long: `applybot turns a model response written in the file/package/command tag format into
changes to a live Vite + React project: it installs packages, writes files, scaffolds a
missing entry point, heals missing component imports and records the change history.`,
	PersistentPreRunE: loadRootConfig,
	SilenceUsage:      true,
}

func Execute() error {
	defer func() { _ = logger.Sync() }()
	return rootCmd.Execute()
}

func loadRootConfig(cmd *cobra.Command, _ []string) error {
	var err error
	logger, err = newLogger(flags.logLevel)
	if err != nil {
		return err
	}

	// Load .env file
	err = godotenv.Load()
	if err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	config, err = appconfig.Load()
	if err != nil {
		return err
	}

	overrideFromFlag(cmd, &config.LayoutFile, "layout", flags.layoutFile)
	overrideFromFlag(cmd, &config.ProjectDir, "project-dir", flags.projectDir)
	overrideFromFlag(cmd, &config.SandboxURL, "sandbox-url", flags.sandboxURL)
	overrideFromFlag(cmd, &config.SandboxID, "sandbox-id", flags.sandboxID)
	overrideFromFlag(cmd, &config.StateDir, "state-dir", flags.stateDir)
	overrideFromFlag(cmd, &config.StateDB, "state-db", flags.stateDB)

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func overrideFromFlag(cmd *cobra.Command, dest *string, name, value string) {
	if cmd.Flags().Changed(name) {
		*dest = value
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.layoutFile, "layout", "", "YAML file describing the project layout")
	pf.StringVar(&flags.projectDir, "project-dir", "", "Local project directory to use as the sandbox")
	pf.StringVar(&flags.sandboxURL, "sandbox-url", "", "Base URL of a remote sandbox service")
	pf.StringVar(&flags.sandboxID, "sandbox-id", "", "Sandbox ID on the remote sandbox service")
	pf.StringVar(&flags.stateDir, "state-dir", "", "Directory for session snapshots")
	pf.StringVar(&flags.stateDB, "state-db", "", "SQLite database for session snapshots")
	rootCmd.MarkFlagsMutuallyExclusive("project-dir", "sandbox-url")
	rootCmd.MarkFlagsMutuallyExclusive("state-dir", "state-db")
}
