package deps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Report partitions the outcome of an install request
type Report struct {
	Installed        []string `json:"installed"`
	AlreadyInstalled []string `json:"alreadyInstalled"`
	Failed           []string `json:"failed"`
}

// Installer installs packages into the live project
type Installer interface {
	InstallPackages(ctx context.Context, names []string) (Report, error)
}

// DevServer restarts the live development server and returns its status message
type DevServer interface {
	RestartDevServer(ctx context.Context) (string, error)
}

// Outcome is what Ensure reports back to the pipeline
type Outcome struct {
	Report
	Errors    []string
	Restarted bool
}

const DefaultSettleInterval = time.Second

// Manager installs packages and, when anything new was installed, restarts the dev server and waits
// for the bundler to settle before file writes resume.
type Manager struct {
	installer Installer
	devServer DevServer
	settle    time.Duration
	logger    *zap.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration)
}

func NewManager(installer Installer, devServer DevServer, settle time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		installer: installer,
		devServer: devServer,
		settle:    settle,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// Ensure installs names. Failures are recorded in the outcome and never returned as an error.
func (m *Manager) Ensure(ctx context.Context, names []string) Outcome {
	names = Merge(names)
	var out Outcome
	if len(names) == 0 {
		return out
	}
	if m.installer == nil {
		out.Failed = names
		out.Errors = append(out.Errors, "no package installer configured")
		return out
	}

	m.logger.Info("installing packages", zap.Strings("packages", names))
	report, err := m.installer.InstallPackages(ctx, names)
	if err != nil {
		m.logger.Error("package installation failed", zap.Strings("packages", names), zap.Error(err))
		out.Failed = names
		out.Errors = append(out.Errors, fmt.Sprintf("failed to install packages: %v", err))
		return out
	}
	out.Report = report

	if len(report.Failed) > 0 {
		out.Errors = append(out.Errors, fmt.Sprintf("failed to install packages: %s", strings.Join(report.Failed, ", ")))
	}

	if len(report.Installed) == 0 {
		return out
	}

	if m.devServer != nil {
		msg, err := m.devServer.RestartDevServer(ctx)
		if err != nil {
			m.logger.Warn("failed to restart dev server", zap.Error(err))
		} else {
			out.Restarted = true
			m.logger.Info("restarted dev server", zap.String("message", msg))
		}
	}
	m.sleep(ctx, m.settle)
	return out
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
