package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cchalm/applybot/internal/filesync"
	"github.com/cchalm/applybot/internal/heal"
	"github.com/cchalm/applybot/internal/project"
	"github.com/cchalm/applybot/internal/workspace"
)

type fakeSender struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeSender) Send(ctx context.Context, system, prompt string, onDelta func(string)) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func testRegenerator(t *testing.T, sender Sender) (*ComponentRegenerator, *workspace.MemorySandbox) {
	t.Helper()
	sb := workspace.NewMemorySandbox(nil)
	writer := filesync.NewWriter(project.DefaultLayout(), sb, zap.NewNop())
	return NewComponentRegenerator(sender, writer, zap.NewNop()), sb
}

func TestRegenerateMissing_WritesComponents(t *testing.T) {
	sender := &fakeSender{reply: `<file path="src/components/Hero.jsx">export default function Hero() { return <section/> }</file>`}
	regen, sb := testRegenerator(t, sender)

	res, err := regen.RegenerateMissing(context.Background(), heal.Request{
		MissingImports: []string{"./components/Hero"},
		EntryPath:      "src/App.jsx",
		EntryContent:   "import Hero from './components/Hero'",
	})

	require.NoError(t, err)
	require.Equal(t, heal.Result{Success: true, Components: []string{"src/components/Hero.jsx"}, Files: 1}, res)
	content, err := sb.Read("/home/user/app/src/components/Hero.jsx")
	require.NoError(t, err)
	require.Contains(t, content, "function Hero")

	require.Len(t, sender.prompts, 1)
	require.Contains(t, sender.prompts[0], "- ./components/Hero")
	require.Contains(t, sender.prompts[0], "import Hero from './components/Hero'")
}

func TestRegenerateMissing_NoFilesIsNotSuccess(t *testing.T) {
	regen, _ := testRegenerator(t, &fakeSender{reply: "I could not do that."})

	res, err := regen.RegenerateMissing(context.Background(), heal.Request{MissingImports: []string{"./X"}})

	require.NoError(t, err)
	require.False(t, res.Success)
	require.Zero(t, res.Files)
}

func TestRegenerateMissing_SenderError(t *testing.T) {
	regen, _ := testRegenerator(t, &fakeSender{err: errors.New("overloaded")})

	_, err := regen.RegenerateMissing(context.Background(), heal.Request{MissingImports: []string{"./X"}})

	require.ErrorContains(t, err, "overloaded")
}

func TestGeneratePrompt(t *testing.T) {
	prompt, err := GeneratePrompt(GenerateData{
		Prompt:        "Add a pricing section",
		IsEdit:        true,
		RecentChanges: "Recent changes to this project:\n- earlier: Hero\n",
		KnownFiles:    []string{"src/App.jsx", "src/components/Hero.jsx"},
	})
	require.NoError(t, err)

	require.Contains(t, prompt, "Recent changes to this project:")
	require.Contains(t, prompt, "- src/components/Hero.jsx")
	require.Contains(t, prompt, "Only include the files you change.")
	require.True(t, strings.HasSuffix(strings.TrimSpace(prompt), "Add a pricing section"))
}

func TestGeneratePrompt_NewProject(t *testing.T) {
	prompt, err := GeneratePrompt(GenerateData{Prompt: "A todo app"})
	require.NoError(t, err)

	require.Contains(t, prompt, "Build the application from scratch.")
	require.NotContains(t, prompt, "Files already in the project")
}

func TestSystemPromptDescribesFileTags(t *testing.T) {
	require.Contains(t, SystemPrompt(), `<file path="`)
}

func sseEvent(name, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", name, data)
}

func TestStreamingSender_ForwardsDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		var b strings.Builder
		b.WriteString(sseEvent("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"test-model","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}`))
		b.WriteString(sseEvent("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`))
		b.WriteString(sseEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"<file path=\"src/A.jsx\">"}}`))
		b.WriteString(sseEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"a</file>"}}`))
		b.WriteString(sseEvent("content_block_stop", `{"type":"content_block_stop","index":0}`))
		b.WriteString(sseEvent("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":5}}`))
		b.WriteString(sseEvent("message_stop", `{"type":"message_stop"}`))
		fmt.Fprint(w, b.String())
	}))
	defer srv.Close()

	client := anthropic.NewClient(
		option.WithAPIKey("test"),
		option.WithBaseURL(srv.URL),
		option.WithMaxRetries(0),
	)
	sender := NewStreamingSender(client, "test-model", 0, zap.NewNop())

	var deltas []string
	text, err := sender.Send(context.Background(), SystemPrompt(), "hi", func(d string) { deltas = append(deltas, d) })

	require.NoError(t, err)
	require.Equal(t, `<file path="src/A.jsx">a</file>`, text)
	require.Equal(t, []string{`<file path="src/A.jsx">`, "a</file>"}, deltas)
}
