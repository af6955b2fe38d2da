package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/cchalm/applybot/internal/deps"
	"github.com/cchalm/applybot/internal/heal"
	"github.com/cchalm/applybot/internal/project"
	"github.com/cchalm/applybot/internal/session"
	"github.com/cchalm/applybot/internal/workspace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeInstaller struct {
	mu        sync.Mutex
	requested [][]string
	err       error
}

func (f *fakeInstaller) InstallPackages(ctx context.Context, names []string) (deps.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, names)
	if f.err != nil {
		return deps.Report{}, f.err
	}
	return deps.Report{Installed: names}, nil
}

type fakeRegenerator struct {
	sandbox *workspace.MemorySandbox
	files   map[string]string
	err     error
	calls   []heal.Request
}

func (f *fakeRegenerator) RegenerateMissing(ctx context.Context, req heal.Request) (heal.Result, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return heal.Result{}, f.err
	}
	var written []string
	for p, content := range f.files {
		err := f.sandbox.WriteFile(ctx, project.DefaultLayout().AbsPath(p), content)
		if err != nil {
			return heal.Result{}, err
		}
		written = append(written, p)
	}
	return heal.Result{Success: len(written) > 0, Components: written, Files: len(written)}, nil
}

type testEnv struct {
	applier   *Applier
	sandbox   *workspace.MemorySandbox
	session   *session.Session
	installer *fakeInstaller
}

func newTestEnv(t *testing.T, regenerator heal.Regenerator, sandbox *workspace.MemorySandbox) *testEnv {
	t.Helper()
	if sandbox == nil {
		sandbox = workspace.NewMemorySandbox(nil)
	}
	installer := &fakeInstaller{}
	applier := NewApplier(Options{
		Layout:      project.DefaultLayout(),
		Packages:    deps.NewManager(installer, nil, 0, zap.NewNop()),
		Regenerator: regenerator,
		Logger:      zap.NewNop(),
	})
	applier.now = func() time.Time { return t0 }

	conv := &session.Conversation{}
	conv.AddMessage(session.RoleUser, "build me a landing page", t0.Add(-time.Minute))
	return &testEnv{
		applier:   applier,
		sandbox:   sandbox,
		session:   session.New(sandbox, nil, conv),
		installer: installer,
	}
}

func (e *testEnv) apply(t *testing.T, req Request) *Result {
	t.Helper()
	res, err := e.applier.Apply(context.Background(), e.session, req)
	require.NoError(t, err)
	require.True(t, res.Success)
	return res
}

func (e *testEnv) read(t *testing.T, p string) string {
	t.Helper()
	content, err := e.sandbox.Read(project.DefaultLayout().AbsPath(p))
	require.NoError(t, err)
	return content
}

func TestApply_EmptyResponseRejected(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	for _, raw := range []string{"", "  \n\t"} {
		res, err := env.applier.Apply(context.Background(), env.session, Request{Response: raw})
		require.ErrorIs(t, err, ErrEmptyResponse)
		require.Nil(t, res)
	}
	require.Empty(t, env.sandbox.Commands())
	require.Zero(t, env.session.Index.Len())
}

func TestApply_NewProjectIsScaffolded(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	res := env.apply(t, Request{Response: `<explanation>A landing page with a header and hero.</explanation>
<file path="src/components/Header.jsx">import { FiMenu } from 'react-icons/fi'
export default function Header() { return <header><FiMenu /></header> }</file>
<file path="src/components/Hero.jsx">export default function Hero() { return <section>Hi</section> }</file>`})

	require.Equal(t, []string{
		"src/components/Header.jsx",
		"src/components/Hero.jsx",
		"src/App.jsx",
		"src/index.css",
	}, res.Results.FilesCreated)
	require.Empty(t, res.Results.FilesUpdated)
	require.Empty(t, res.Results.Errors)
	require.Equal(t, "Applied 4 files successfully", res.Message)
	require.Equal(t, "A landing page with a header and hero.", res.Explanation)

	app := env.read(t, "src/App.jsx")
	require.Contains(t, app, "import Header from './components/Header';")
	require.Contains(t, app, "import Hero from './components/Hero';")
	require.Contains(t, app, "<Header />")
	require.Contains(t, env.read(t, "src/index.css"), "@tailwind base;")

	// Packages are detected from imports when none are declared
	require.Equal(t, [][]string{{"react-icons"}}, env.installer.requested)
	require.Equal(t, []string{"react-icons"}, res.Results.PackagesInstalled)
}

func TestApply_EditIsNeverScaffolded(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	res := env.apply(t, Request{
		Response: `<file path="src/components/Hero.jsx">export default function Hero() {}</file>`,
		IsEdit:   true,
	})

	require.Equal(t, []string{"src/components/Hero.jsx"}, res.Results.FilesCreated)
	require.False(t, env.session.Index.Has("src/App.jsx"))
}

func TestApply_KnownEntryPointIsNotScaffolded(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.session.Index.Add("src/App.jsx")

	res := env.apply(t, Request{Response: `<file path="src/components/Hero.jsx">x</file>`})

	require.Equal(t, []string{"src/components/Hero.jsx"}, res.Results.FilesCreated)
}

func TestApply_ExistingStylesheetIsKept(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.session.Index.Add("src/index.css")

	res := env.apply(t, Request{Response: `<file path="src/components/Hero.jsx">x</file>`})

	require.Equal(t, []string{"src/components/Hero.jsx", "src/App.jsx"}, res.Results.FilesCreated)
}

func TestApply_ConfigFilesAreNeverWritten(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.session.Index.Add("src/App.jsx")

	res := env.apply(t, Request{Response: `<file path="package.json">{"name":"x"}</file>
<file path="vite.config.js">export default {}</file>
<file path="src/components/Hero.jsx">x</file>`})

	require.Equal(t, []string{"src/components/Hero.jsx"}, res.Results.FilesCreated)
	require.Empty(t, res.Results.FilesUpdated)
	_, err := env.sandbox.Read("/home/user/app/package.json")
	require.ErrorIs(t, err, workspace.ErrFileNotFound)
}

func TestApply_OneWriteFailureAmongFive(t *testing.T) {
	sb := workspace.NewMemorySandbox(nil)
	sb.FailWrites("/home/user/app/src/components/C.jsx", errors.New("disk full"))
	env := newTestEnv(t, nil, sb)
	env.session.Index.Add("src/App.jsx")

	var raw strings.Builder
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		raw.WriteString(`<file path="src/components/` + name + `.jsx">export default function ` + name + `() {}</file>`)
	}
	res := env.apply(t, Request{Response: raw.String()})

	require.Equal(t, []string{
		"src/components/A.jsx",
		"src/components/B.jsx",
		"src/components/D.jsx",
		"src/components/E.jsx",
	}, res.Results.FilesCreated)
	require.Len(t, res.Results.Errors, 1)
	require.Contains(t, res.Results.Errors[0], "src/components/C.jsx")
	require.Contains(t, res.Results.Errors[0], "disk full")
}

func TestApply_UpdatesAreClassifiedByIndex(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.session.Index.Add("src/App.jsx")

	env.apply(t, Request{Response: `<file path="src/components/Hero.jsx">v1</file>`})
	res := env.apply(t, Request{Response: `<file path="components/Hero.jsx">v2</file>`})

	require.Empty(t, res.Results.FilesCreated)
	require.Equal(t, []string{"src/components/Hero.jsx"}, res.Results.FilesUpdated)
	require.Equal(t, "v2", env.read(t, "src/components/Hero.jsx"))
}

func TestApply_ExplicitPackagesSkipDetection(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.session.Index.Add("src/App.jsx")

	res := env.apply(t, Request{
		Response: `<packages>axios</packages>
<file path="src/components/Chart.jsx">import { Line } from 'recharts'</file>`,
		Packages: []string{"zustand", "axios"},
	})

	require.Equal(t, [][]string{{"zustand", "axios"}}, env.installer.requested)
	require.Equal(t, []string{"zustand", "axios"}, res.Results.PackagesInstalled)
}

func TestApply_InstallFailureDoesNotStopWrites(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.installer.err = errors.New("registry unreachable")
	env.session.Index.Add("src/App.jsx")

	res := env.apply(t, Request{Response: `<packages>lodash</packages><file path="src/util.js">x</file>`})

	require.Equal(t, []string{"lodash"}, res.Results.PackagesFailed)
	require.Equal(t, []string{"src/util.js"}, res.Results.FilesCreated)
	require.Len(t, res.Results.Errors, 1)
	require.Contains(t, res.Results.Errors[0], "registry unreachable")
}

func TestApply_Commands(t *testing.T) {
	sb := workspace.NewMemorySandbox(nil)
	sb.SetCommandResult("npm run lint", workspace.CommandResult{ExitCode: 1, Stderr: "lint failed\n"})
	env := newTestEnv(t, nil, sb)

	res := env.apply(t, Request{Response: "<command>npm run build</command><command>npm run lint</command>"})

	require.Equal(t, []string{"npm run build"}, res.Results.CommandsExecuted)
	require.Equal(t, []string{"failed to execute npm run lint: exit code 1: lint failed"}, res.Results.Errors)
	require.Equal(t, []string{"npm run build", "npm run lint"}, sb.Commands())
}

const appWithMissingFooter = `<file path="src/App.jsx">import React from 'react'
import Hero from './components/Hero'
import Footer from './components/Footer'
import './index.css'

export default function App() { return <><Hero /><Footer /></> }</file>
<file path="src/components/Hero.jsx">export default function Hero() {}</file>`

func TestApply_MissingReferencesAreRegenerated(t *testing.T) {
	sb := workspace.NewMemorySandbox(nil)
	regen := &fakeRegenerator{sandbox: sb, files: map[string]string{
		"src/components/Footer.jsx": "export default function Footer() {}",
	}}
	env := newTestEnv(t, regen, sb)

	res := env.apply(t, Request{Response: appWithMissingFooter})

	require.True(t, res.AutoCompleted)
	require.Equal(t, []string{"src/components/Footer.jsx"}, res.AutoCompletedComponents)
	require.Equal(t, "Applied 2 files + auto-generated 1 missing components", res.Message)
	require.Equal(t, []string{"src/App.jsx", "src/components/Hero.jsx", "src/components/Footer.jsx"}, res.Results.FilesCreated)
	require.Empty(t, res.Warning)
	require.True(t, env.session.Index.Has("src/components/Footer.jsx"))

	require.Len(t, regen.calls, 1)
	require.Equal(t, []string{"./components/Footer"}, regen.calls[0].MissingImports)
	require.Equal(t, "src/App.jsx", regen.calls[0].EntryPath)
}

func TestApply_MissingReferencesWarnWhenRegenerationFails(t *testing.T) {
	for name, regen := range map[string]heal.Regenerator{
		"no regenerator": nil,
		"error":          &fakeRegenerator{err: errors.New("timeout")},
		"nothing made":   &fakeRegenerator{},
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, regen, nil)

			res := env.apply(t, Request{Response: appWithMissingFooter})

			require.False(t, res.AutoCompleted)
			require.Equal(t, "Missing 1 imported components: ./components/Footer", res.Warning)
			require.Equal(t, []string{"./components/Footer"}, res.MissingImports)
			require.Equal(t, "Applied 2 files successfully", res.Message)
			require.Empty(t, res.Results.Errors)
		})
	}
}

func TestApply_TracksHistory(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.session.Index.Add("src/App.jsx")

	env.apply(t, Request{Response: `<explanation>Added a hero</explanation><file path="src/components/Hero.jsx">x</file>`})

	conv := env.session.Conversation
	require.Equal(t, []string{"src/components/Hero.jsx"}, conv.Messages[0].Metadata.EditedFiles)
	require.Equal(t, []session.MajorChange{{
		Timestamp:     t0,
		Description:   "Added a hero",
		FilesAffected: []string{"src/components/Hero.jsx"},
	}}, conv.Evolution.MajorChanges)
	require.Equal(t, t0, conv.LastUpdated)
}

func TestApply_NothingCreatedIsNotTracked(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	env.apply(t, Request{Response: "<explanation>Nothing to do</explanation>"})

	require.Empty(t, env.session.Conversation.Evolution.MajorChanges)
}

func TestApply_WithoutConversation(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.session.Conversation = nil

	res := env.apply(t, Request{Response: `<file path="src/components/Hero.jsx">x</file>`})

	require.NotEmpty(t, res.Results.FilesCreated)
}

func TestApply_ConcurrentAppliesAreSerialized(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.session.Index.Add("src/App.jsx")

	var wg sync.WaitGroup
	results := make([]*Result, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.applier.Apply(context.Background(), env.session, Request{
				Response: `<file path="src/components/Shared.jsx">x</file>`,
			})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	created := 0
	for _, res := range results {
		created += len(res.Results.FilesCreated)
	}
	require.Equal(t, 1, created)
}

func TestApply_LockRespectsContext(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	unlock, err := env.session.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = env.applier.Apply(ctx, env.session, Request{Response: "<command>ls</command>"})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, env.sandbox.Commands())
}

func TestApply_StagesAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	sb := workspace.NewMemorySandbox(nil)
	applier := NewApplier(Options{Layout: project.DefaultLayout(), Tracer: tp.Tracer("test")})

	_, err := applier.Apply(context.Background(), session.New(sb, nil, nil), Request{Response: "<command>ls</command>"})
	require.NoError(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	require.Equal(t, []string{
		"apply.parse",
		"apply.packages",
		"apply.write",
		"apply.scaffold",
		"apply.commands",
		"apply.heal",
		"apply.track",
		"apply",
	}, names)
}

func TestPreview(t *testing.T) {
	applier := NewApplier(Options{Layout: project.DefaultLayout()})

	res, err := applier.Preview(`<packages>axios</packages><command>npm test</command><file path="src/A.jsx">a</file>`)

	require.NoError(t, err)
	require.Equal(t, []string{"src/A.jsx"}, res.Results.FilesCreated)
	require.Equal(t, []string{"axios"}, res.Results.PackagesInstalled)
	require.Equal(t, []string{"npm test"}, res.Results.CommandsExecuted)
	require.Equal(t, "Parsed 1 files successfully. Create a sandbox to apply them.", res.Message)
	require.Len(t, res.ParsedFiles, 1)

	_, err = applier.Preview(" ")
	require.ErrorIs(t, err, ErrEmptyResponse)
}
