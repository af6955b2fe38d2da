package workspace

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/cchalm/applybot/internal/deps"
)

// DefaultRestartCommand restarts a Vite dev server running in the project directory
const DefaultRestartCommand = "pkill -f vite || true; nohup npm run dev > /tmp/vite.log 2>&1 &"

var packageNamePattern = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._~-]*/)?[a-z0-9][a-z0-9._~-]*(@[A-Za-z0-9.^~<>=*|-]+)?$`)

var manifestSections = []string{"dependencies", "devDependencies", "peerDependencies"}

// CommandInstaller installs npm packages by running commands in a sandbox. Packages already
// declared in package.json are reported as already installed.
type CommandInstaller struct {
	sandbox Sandbox
	logger  *zap.Logger
}

func NewCommandInstaller(sandbox Sandbox, logger *zap.Logger) *CommandInstaller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandInstaller{sandbox: sandbox, logger: logger}
}

func (ci *CommandInstaller) InstallPackages(ctx context.Context, names []string) (deps.Report, error) {
	declared, err := ci.declaredPackages(ctx)
	if err != nil {
		return deps.Report{}, err
	}

	var report deps.Report
	var toInstall []string
	for _, name := range names {
		switch {
		case !packageNamePattern.MatchString(name):
			ci.logger.Warn("refusing to install invalid package name", zap.String("package", name))
			report.Failed = append(report.Failed, name)
		case declared[packageBase(name)]:
			report.AlreadyInstalled = append(report.AlreadyInstalled, name)
		default:
			toInstall = append(toInstall, name)
		}
	}
	if len(toInstall) == 0 {
		return report, nil
	}

	ok, err := ci.npmInstall(ctx, toInstall)
	if err != nil {
		return deps.Report{}, err
	}
	if ok {
		report.Installed = append(report.Installed, toInstall...)
		return report, nil
	}
	if len(toInstall) == 1 {
		report.Failed = append(report.Failed, toInstall...)
		return report, nil
	}

	// The batch failed; find out which packages are to blame
	for _, name := range toInstall {
		ok, err := ci.npmInstall(ctx, []string{name})
		if err != nil {
			return deps.Report{}, err
		}
		if ok {
			report.Installed = append(report.Installed, name)
		} else {
			report.Failed = append(report.Failed, name)
		}
	}
	return report, nil
}

func (ci *CommandInstaller) npmInstall(ctx context.Context, names []string) (bool, error) {
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		quoted = append(quoted, shellQuote(n))
	}
	res, err := ci.sandbox.RunCommand(ctx, "npm install --save "+strings.Join(quoted, " "))
	if err != nil {
		return false, fmt.Errorf("failed to run npm install: %w", err)
	}
	if !res.Succeeded() {
		ci.logger.Warn("npm install failed",
			zap.Strings("packages", names),
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", res.Stderr),
		)
	}
	return res.Succeeded(), nil
}

func (ci *CommandInstaller) declaredPackages(ctx context.Context) (map[string]bool, error) {
	res, err := ci.sandbox.RunCommand(ctx, "cat package.json")
	if err != nil {
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}
	declared := map[string]bool{}
	if !res.Succeeded() || !gjson.Valid(res.Stdout) {
		ci.logger.Warn("no readable package.json, installing every package")
		return declared, nil
	}
	for _, section := range manifestSections {
		gjson.Get(res.Stdout, section).ForEach(func(key, _ gjson.Result) bool {
			declared[key.String()] = true
			return true
		})
	}
	return declared, nil
}

// packageBase strips a version suffix: "@scope/pkg@1.2" -> "@scope/pkg", "pkg@latest" -> "pkg"
func packageBase(name string) string {
	start := 0
	if strings.HasPrefix(name, "@") {
		start = 1
	}
	if i := strings.Index(name[start:], "@"); i >= 0 {
		return name[:start+i]
	}
	return name
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// CommandDevServer restarts the dev server by running a command in the sandbox
type CommandDevServer struct {
	sandbox Sandbox
	command string
}

func NewCommandDevServer(sandbox Sandbox, command string) *CommandDevServer {
	if command == "" {
		command = DefaultRestartCommand
	}
	return &CommandDevServer{sandbox: sandbox, command: command}
}

func (cds *CommandDevServer) RestartDevServer(ctx context.Context) (string, error) {
	res, err := cds.sandbox.RunCommand(ctx, cds.command)
	if err != nil {
		return "", fmt.Errorf("failed to restart dev server: %w", err)
	}
	if !res.Succeeded() {
		return "", fmt.Errorf("dev server restart exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return "Dev server restarted", nil
}
