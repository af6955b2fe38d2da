package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cchalm/applybot/internal/deps"
	"github.com/cchalm/applybot/internal/heal"
)

// RemoteSandbox talks to a sandbox service over JSON HTTP. Besides file and command access the
// service offers package installation, dev server restarts and component regeneration, so
// RemoteSandbox also implements deps.Installer, deps.DevServer and heal.Regenerator.
type RemoteSandbox struct {
	baseURL    string
	sandboxID  string
	model      string
	httpClient *http.Client
}

// NewRemoteSandbox creates a client for the sandbox service at baseURL. A nil httpClient gets a
// default client with a timeout matching the service's own command timeout.
func NewRemoteSandbox(baseURL, sandboxID, model string, httpClient *http.Client) *RemoteSandbox {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultCommandTimeout + 10*time.Second}
	}
	return &RemoteSandbox{
		baseURL:    baseURL,
		sandboxID:  sandboxID,
		model:      model,
		httpClient: httpClient,
	}
}

type writeFileRequest struct {
	SandboxID string `json:"sandboxId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

type runCommandRequest struct {
	SandboxID string `json:"sandboxId"`
	Command   string `json:"command"`
}

type listFilesResponse struct {
	Files []string `json:"files"`
}

type installRequest struct {
	SandboxID string   `json:"sandboxId"`
	Packages  []string `json:"packages"`
}

type restartRequest struct {
	SandboxID string `json:"sandboxId"`
}

type restartResponse struct {
	Message string `json:"message"`
}

type regenerateRequest struct {
	heal.Request
	SandboxID string `json:"sandboxId"`
	Model     string `json:"model,omitempty"`
}

func (rs *RemoteSandbox) WriteFile(ctx context.Context, absPath string, content string) error {
	err := rs.do(ctx, http.MethodPost, "/api/sandbox/files", writeFileRequest{
		SandboxID: rs.sandboxID,
		Path:      absPath,
		Content:   content,
	}, nil)
	if err != nil {
		return WriteError{Path: absPath, Err: err}
	}
	return nil
}

func (rs *RemoteSandbox) RunCommand(ctx context.Context, command string) (CommandResult, error) {
	var result CommandResult
	err := rs.do(ctx, http.MethodPost, "/api/sandbox/commands", runCommandRequest{
		SandboxID: rs.sandboxID,
		Command:   command,
	}, &result)
	if err != nil {
		return CommandResult{}, fmt.Errorf("failed to run command %q: %w", command, err)
	}
	return result, nil
}

func (rs *RemoteSandbox) ListFiles(ctx context.Context) ([]string, error) {
	var resp listFilesResponse
	err := rs.do(ctx, http.MethodGet, "/api/sandbox/files?sandboxId="+url.QueryEscape(rs.sandboxID), nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return resp.Files, nil
}

func (rs *RemoteSandbox) InstallPackages(ctx context.Context, names []string) (deps.Report, error) {
	var report deps.Report
	err := rs.do(ctx, http.MethodPost, "/api/install-packages", installRequest{
		SandboxID: rs.sandboxID,
		Packages:  names,
	}, &report)
	if err != nil {
		return deps.Report{}, fmt.Errorf("failed to install packages: %w", err)
	}
	return report, nil
}

func (rs *RemoteSandbox) RestartDevServer(ctx context.Context) (string, error) {
	var resp restartResponse
	err := rs.do(ctx, http.MethodPost, "/api/restart-vite", restartRequest{SandboxID: rs.sandboxID}, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to restart dev server: %w", err)
	}
	return resp.Message, nil
}

func (rs *RemoteSandbox) RegenerateMissing(ctx context.Context, req heal.Request) (heal.Result, error) {
	var result heal.Result
	err := rs.do(ctx, http.MethodPost, "/api/auto-complete-components", regenerateRequest{
		Request:   req,
		SandboxID: rs.sandboxID,
		Model:     rs.model,
	}, &result)
	if err != nil {
		return heal.Result{}, fmt.Errorf("failed to regenerate components: %w", err)
	}
	return result, nil
}

// do sends in as JSON and decodes the response into out. Any non-2xx status is an error.
func (rs *RemoteSandbox) do(ctx context.Context, method, endpoint string, in any, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rs.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := rs.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	err = json.Unmarshal(respBody, out)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
