package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cchalm/applybot/internal/ai"
	"github.com/cchalm/applybot/internal/api"
	"github.com/cchalm/applybot/internal/deps"
	"github.com/cchalm/applybot/internal/filesync"
	"github.com/cchalm/applybot/internal/heal"
	"github.com/cchalm/applybot/internal/pipeline"
	"github.com/cchalm/applybot/internal/project"
	"github.com/cchalm/applybot/internal/session"
	"github.com/cchalm/applybot/internal/telemetry"
	"github.com/cchalm/applybot/internal/transport"
	"github.com/cchalm/applybot/internal/workspace"
)

// environment is everything a command needs to apply responses
type environment struct {
	layout    project.Layout
	sandbox   workspace.Sandbox // nil when only previews are possible
	sender    *ai.StreamingSender
	applier   *pipeline.Applier
	seed      api.Seeder
	store     session.Store // may be nil
	telemetry *telemetry.Provider

	closers []func() error
}

func newEnvironment(ctx context.Context) (*environment, error) {
	env := &environment{layout: project.DefaultLayout()}
	if config.LayoutFile != "" {
		layout, err := project.LoadLayout(config.LayoutFile)
		if err != nil {
			return nil, err
		}
		env.layout = layout
	}

	tp, err := createTelemetryProvider(ctx)
	if err != nil {
		return nil, err
	}
	env.telemetry = tp

	if config.AnthropicAPIKey != "" {
		env.sender = ai.NewStreamingSender(createAnthropicClient(config.AnthropicAPIKey), config.Model, 0, logger)
	}

	var (
		installer   deps.Installer
		devServer   deps.DevServer
		regenerator heal.Regenerator
	)
	switch {
	case config.SandboxURL != "":
		remote := workspace.NewRemoteSandbox(config.SandboxURL, config.SandboxID, config.Model, &http.Client{
			Transport: transport.WithRetryAfter(nil, logger),
			Timeout:   workspace.DefaultCommandTimeout + 10*time.Second,
		})
		env.sandbox = remote
		installer, devServer, regenerator = remote, remote, remote
		logger.Info("using remote sandbox", zap.String("url", config.SandboxURL), zap.String("sandbox", config.SandboxID))
	case config.ProjectDir != "":
		local, err := workspace.NewLocalSandbox(env.layout.Root, config.ProjectDir)
		if err != nil {
			return nil, err
		}
		env.sandbox = local
		installer = workspace.NewCommandInstaller(local, logger)
		devServer = workspace.NewCommandDevServer(local, workspace.DefaultRestartCommand)
		logger.Info("using local project directory", zap.String("dir", config.ProjectDir))
	}

	// With a model configured, missing components are generated here instead of by the remote service
	if env.sender != nil && env.sandbox != nil {
		writer := filesync.NewWriter(env.layout, env.sandbox, logger)
		regenerator = ai.NewComponentRegenerator(env.sender, writer, logger)
	}

	env.applier = pipeline.NewApplier(pipeline.Options{
		Layout:      env.layout,
		Packages:    deps.NewManager(installer, devServer, config.SettleInterval, logger),
		Regenerator: regenerator,
		Tracer:      tp.Tracer(),
		Logger:      logger,
	})

	env.seed, err = newSeeder(ctx, env.layout, env.sandbox)
	if err != nil {
		return nil, err
	}

	switch {
	case config.StateDB != "":
		store, err := session.OpenSQLiteStore(config.StateDB)
		if err != nil {
			return nil, err
		}
		env.store = store
		env.closers = append(env.closers, store.Close)
	case config.StateDir != "":
		store, err := session.NewFileStore(config.StateDir)
		if err != nil {
			return nil, err
		}
		env.store = store
	}

	return env, nil
}

func newSeeder(ctx context.Context, layout project.Layout, sandbox workspace.Sandbox) (api.Seeder, error) {
	if config.TemplateRepo != "" {
		owner, repo, ref, err := config.TemplateRepoRef()
		if err != nil {
			return nil, err
		}
		gh := createGithubClient(ctx, config.GitHubToken)
		return workspace.NewTemplateRepo(gh.Git, owner, repo, ref).SeedIndex, nil
	}
	if sandbox != nil {
		return func(ctx context.Context, index *project.FileIndex) error {
			return workspace.SeedIndex(ctx, sandbox, layout, index)
		}, nil
	}
	return nil, nil
}

// loadSession returns the stored session with the given name, or a new seeded one
func (env *environment) loadSession(ctx context.Context, name string) (*session.Session, error) {
	if env.store != nil {
		snap, err := env.store.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			logger.Debug("resuming session", zap.String("session", name), zap.Int("known_files", len(snap.Files)))
			return session.Restore(*snap, env.sandbox), nil
		}
	}

	sess := session.Restore(session.Snapshot{
		ID:           name,
		CreatedAt:    time.Now(),
		Conversation: &session.Conversation{},
	}, env.sandbox)
	if env.seed != nil && env.sandbox != nil {
		if err := env.seed(ctx, sess.Index); err != nil {
			return nil, fmt.Errorf("failed to seed file index: %w", err)
		}
	}
	return sess, nil
}

func (env *environment) saveSession(ctx context.Context, sess *session.Session) error {
	if env.store == nil {
		return nil
	}
	return env.store.Set(ctx, sess.ID, sess.Snapshot())
}

// Close releases the environment. It still flushes telemetry when ctx has been cancelled.
func (env *environment) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs []error
	for _, c := range env.closers {
		errs = append(errs, c())
	}
	if env.telemetry != nil {
		errs = append(errs, env.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
