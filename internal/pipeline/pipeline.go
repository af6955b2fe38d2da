// Package pipeline applies one model response to a live session: parse, install packages, write
// files, scaffold, run commands, heal missing references and record history.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/cchalm/applybot/internal/changeset"
	"github.com/cchalm/applybot/internal/deps"
	"github.com/cchalm/applybot/internal/filesync"
	"github.com/cchalm/applybot/internal/heal"
	"github.com/cchalm/applybot/internal/project"
	"github.com/cchalm/applybot/internal/session"
	"github.com/cchalm/applybot/internal/telemetry"
)

// ErrEmptyResponse is the only error that stops an apply before it starts
var ErrEmptyResponse = errors.New("response is required")

// Request is one response to apply
type Request struct {
	Response string
	// IsEdit marks a change to an existing project. Edits are never scaffolded.
	IsEdit bool
	// Packages are requested explicitly and merged with the packages the response declares
	Packages []string
}

// ApplyResult accumulates what happened. Failures are appended and never discard earlier entries.
type ApplyResult struct {
	FilesCreated             []string `json:"filesCreated"`
	FilesUpdated             []string `json:"filesUpdated"`
	PackagesInstalled        []string `json:"packagesInstalled"`
	PackagesAlreadyInstalled []string `json:"packagesAlreadyInstalled"`
	PackagesFailed           []string `json:"packagesFailed"`
	CommandsExecuted         []string `json:"commandsExecuted"`
	Errors                   []string `json:"errors"`
}

func newApplyResult() ApplyResult {
	return ApplyResult{
		FilesCreated:             []string{},
		FilesUpdated:             []string{},
		PackagesInstalled:        []string{},
		PackagesAlreadyInstalled: []string{},
		PackagesFailed:           []string{},
		CommandsExecuted:         []string{},
		Errors:                   []string{},
	}
}

// Result is the payload returned to callers
type Result struct {
	Success                 bool        `json:"success"`
	Results                 ApplyResult `json:"results"`
	Explanation             string      `json:"explanation"`
	Structure               *string     `json:"structure,omitempty"`
	Message                 string      `json:"message"`
	AutoCompleted           bool        `json:"autoCompleted,omitempty"`
	AutoCompletedComponents []string    `json:"autoCompletedComponents,omitempty"`
	Warning                 string      `json:"warning,omitempty"`
	MissingImports          []string    `json:"missingImports,omitempty"`

	// ParsedFiles is only set by Preview
	ParsedFiles []changeset.FileBlock `json:"parsedFiles,omitempty"`
}

type Options struct {
	Layout project.Layout
	// Packages installs dependencies. When nil, every requested package is reported as failed.
	Packages *deps.Manager
	// Regenerator produces missing components. When nil, missing references become a warning.
	Regenerator heal.Regenerator
	Tracer      trace.Tracer
	Logger      *zap.Logger
}

// Applier runs the apply pipeline. It is safe for concurrent use across sessions; applies to the
// same session are serialized by the session lock.
type Applier struct {
	layout   project.Layout
	parser   *changeset.Parser
	packages *deps.Manager
	healer   *heal.Healer
	tracer   trace.Tracer
	logger   *zap.Logger

	now func() time.Time
}

func NewApplier(opts Options) *Applier {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	packages := opts.Packages
	if packages == nil {
		packages = deps.NewManager(nil, nil, 0, logger)
	}
	return &Applier{
		layout:   opts.Layout,
		parser:   changeset.NewParser(logger),
		packages: packages,
		healer:   heal.NewHealer(opts.Layout, opts.Regenerator, logger),
		tracer:   tracer,
		logger:   logger,
		now:      time.Now,
	}
}

// run is the state of a single apply
type run struct {
	sess    *session.Session
	req     Request
	parsed  changeset.Response
	writer  *filesync.Writer
	written []string
	result  *Result
}

func (r *run) recordError(format string, args ...any) {
	r.result.Results.Errors = append(r.result.Results.Errors, fmt.Sprintf(format, args...))
}

// Apply applies req to sess. Only an empty response is an error; every other failure is recorded
// in the result. Once the session lock is held the apply runs to completion even if ctx is
// cancelled.
func (a *Applier) Apply(ctx context.Context, sess *session.Session, req Request) (*Result, error) {
	if strings.TrimSpace(req.Response) == "" {
		return nil, ErrEmptyResponse
	}

	unlock, err := sess.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	ctx, span := a.tracer.Start(ctx, "apply", trace.WithAttributes(
		attribute.String("applybot.session_id", sess.ID),
		attribute.Bool("applybot.is_edit", req.IsEdit),
	))
	defer span.End()

	r := &run{
		sess:   sess,
		req:    req,
		writer: filesync.NewWriter(a.layout, sess.Sandbox, a.logger),
		result: &Result{Success: true, Results: newApplyResult()},
	}

	a.stage(ctx, "apply.parse", r, a.parse)
	a.stage(ctx, "apply.packages", r, a.installPackages)
	a.stage(ctx, "apply.write", r, a.write)
	a.stage(ctx, "apply.scaffold", r, a.scaffold)
	a.stage(ctx, "apply.commands", r, a.runCommands)
	r.result.Message = fmt.Sprintf("Applied %d files successfully", len(r.result.Results.FilesCreated))
	a.stage(ctx, "apply.heal", r, a.heal)
	a.stage(ctx, "apply.track", r, a.track)

	res := r.result.Results
	telemetry.RecordApply(span, telemetry.ApplyStats{
		SessionID:         sess.ID,
		FilesCreated:      len(res.FilesCreated),
		FilesUpdated:      len(res.FilesUpdated),
		PackagesInstalled: len(res.PackagesInstalled),
		PackagesFailed:    len(res.PackagesFailed),
		Commands:          len(res.CommandsExecuted),
		Errors:            len(res.Errors),
		AutoCompleted:     r.result.AutoCompleted,
		MissingImports:    len(r.result.MissingImports),
	})
	a.logger.Info("applied response",
		zap.String("session", sess.ID),
		zap.Strings("created", res.FilesCreated),
		zap.Strings("updated", res.FilesUpdated),
		zap.Int("errors", len(res.Errors)),
	)
	return r.result, nil
}

// Preview parses raw without touching any sandbox
func (a *Applier) Preview(raw string) (*Result, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyResponse
	}
	parsed := a.parser.Parse(raw)
	res := newApplyResult()
	res.FilesCreated = parsed.Paths()
	res.PackagesInstalled = append(res.PackagesInstalled, parsed.Packages...)
	res.CommandsExecuted = append(res.CommandsExecuted, parsed.Commands...)
	return &Result{
		Success:     true,
		Results:     res,
		Explanation: parsed.Explanation,
		Structure:   parsed.Structure,
		Message:     fmt.Sprintf("Parsed %d files successfully. Create a sandbox to apply them.", len(parsed.Files)),
		ParsedFiles: parsed.Files,
	}, nil
}

func (a *Applier) stage(ctx context.Context, name string, r *run, fn func(context.Context, *run)) {
	ctx, span := a.tracer.Start(ctx, name)
	defer span.End()
	fn(ctx, r)
}

func (a *Applier) parse(_ context.Context, r *run) {
	r.parsed = a.parser.Parse(r.req.Response)
	r.result.Explanation = r.parsed.Explanation
	r.result.Structure = r.parsed.Structure
	a.logger.Debug("parsed response",
		zap.Strings("files", r.parsed.Paths()),
		zap.Strings("packages", r.parsed.Packages),
		zap.Int("commands", len(r.parsed.Commands)),
	)
}

func (a *Applier) installPackages(ctx context.Context, r *run) {
	names := deps.Merge(r.req.Packages, r.parsed.Packages)
	if len(names) == 0 {
		names = deps.Detect(r.parsed.FileMap())
	}
	if len(names) == 0 {
		return
	}

	out := a.packages.Ensure(ctx, names)
	res := &r.result.Results
	res.PackagesInstalled = append(res.PackagesInstalled, out.Installed...)
	res.PackagesAlreadyInstalled = append(res.PackagesAlreadyInstalled, out.AlreadyInstalled...)
	res.PackagesFailed = append(res.PackagesFailed, out.Failed...)
	res.Errors = append(res.Errors, out.Errors...)
}

func (a *Applier) write(ctx context.Context, r *run) {
	report := r.writer.Write(ctx, r.parsed.Files, r.sess.Index)
	res := &r.result.Results
	res.FilesCreated = append(res.FilesCreated, report.Created...)
	res.FilesUpdated = append(res.FilesUpdated, report.Updated...)
	res.Errors = append(res.Errors, report.Errors...)
	r.written = report.Written()
}

// parsedPaths are the normalized paths of this turn's file blocks
func (a *Applier) parsedPaths(r *run) []string {
	paths := make([]string, 0, len(r.parsed.Files))
	for _, f := range r.parsed.Files {
		if p := a.layout.Normalize(f.Path); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func (a *Applier) scaffold(ctx context.Context, r *run) {
	if r.req.IsEdit || len(r.parsed.Files) == 0 {
		return
	}
	parsed := project.NewFileIndex(a.parsedPaths(r)...)
	entryPoints := a.layout.EntryPointPaths()
	if parsed.HasAny(entryPoints...) || r.sess.Index.HasAny(entryPoints...) {
		return
	}

	ep, err := a.layout.ScaffoldEntryPoint(r.written)
	if err != nil {
		r.recordError("failed to scaffold %s: %v", entryPoints[0], err)
	} else {
		a.logger.Info("scaffolding entry point", zap.String("path", ep.Path), zap.String("main", ep.Main))
		a.writeGenerated(ctx, r, ep.Path, ep.Content)
	}

	stylesheet := a.layout.StylesheetPath()
	if !parsed.Has(stylesheet) && !r.sess.Index.Has(stylesheet) {
		a.writeGenerated(ctx, r, stylesheet, a.layout.DefaultStylesheet())
	}
}

func (a *Applier) writeGenerated(ctx context.Context, r *run, p, content string) {
	err := r.writer.WriteNormalized(ctx, p, content, r.sess.Index)
	if err != nil {
		r.recordError("failed to write %s: %v", p, err)
		return
	}
	r.result.Results.FilesCreated = append(r.result.Results.FilesCreated, p)
}

func (a *Applier) runCommands(ctx context.Context, r *run) {
	for _, cmd := range r.parsed.Commands {
		out, err := r.sess.Sandbox.RunCommand(ctx, cmd)
		if err != nil {
			a.logger.Error("command failed", zap.String("command", cmd), zap.Error(err))
			r.recordError("failed to execute %s: %v", cmd, err)
			continue
		}
		if !out.Succeeded() {
			a.logger.Error("command exited with an error", zap.String("command", cmd), zap.Int("exit_code", out.ExitCode))
			r.recordError("failed to execute %s: exit code %d: %s", cmd, out.ExitCode, strings.TrimSpace(out.Stderr))
			continue
		}
		r.result.Results.CommandsExecuted = append(r.result.Results.CommandsExecuted, cmd)
	}
}

func (a *Applier) heal(ctx context.Context, r *run) {
	var entryPath, entryContent string
	for _, f := range r.parsed.Files {
		p := a.layout.Normalize(f.Path)
		if a.layout.IsEntryPoint(p) {
			entryPath, entryContent = p, f.Content
			break
		}
	}
	if entryPath == "" {
		return
	}

	out := a.healer.Heal(ctx, entryPath, entryContent, a.parsedPaths(r), r.sess.Index)
	if out.Healed {
		res := &r.result.Results
		r.result.AutoCompleted = true
		r.result.AutoCompletedComponents = out.Generated.Components
		r.result.Message = fmt.Sprintf("Applied %d files + auto-generated %d missing components",
			len(res.FilesCreated), out.Generated.Files)
		res.FilesCreated = append(res.FilesCreated, out.Generated.Components...)
		for _, c := range out.Generated.Components {
			r.sess.Index.Add(a.layout.Normalize(c))
		}
		return
	}
	if out.Warning != "" {
		r.result.Warning = out.Warning
		r.result.MissingImports = out.Missing
	}
}

// track is best effort: it never fails the apply
func (a *Applier) track(_ context.Context, r *run) {
	created := r.result.Results.FilesCreated
	if len(created) == 0 || r.sess.Conversation == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			a.logger.Error("failed to update conversation history", zap.Any("panic", v))
		}
	}()
	r.sess.Conversation.Track(r.parsed.Explanation, created, a.now())
	a.logger.Debug("updated conversation history", zap.Strings("files", created))
}
