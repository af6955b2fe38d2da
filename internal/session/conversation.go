package session

import (
	"bytes"
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type MessageMetadata struct {
	EditedFiles []string `json:"editedFiles,omitempty"`
}

// Message is one turn of the conversation
type Message struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  MessageMetadata `json:"metadata"`
}

// MajorChange records one applied response
type MajorChange struct {
	Timestamp     time.Time `json:"timestamp"`
	Description   string    `json:"description"`
	FilesAffected []string  `json:"filesAffected"`
}

type Evolution struct {
	MajorChanges []MajorChange `json:"majorChanges"`
}

// Conversation is the running history of a session, used to build context for later turns
type Conversation struct {
	Messages    []Message `json:"messages"`
	Evolution   Evolution `json:"evolution"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// DefaultChangeDescription is recorded when a response carried no explanation
const DefaultChangeDescription = "Code applied"

func (c *Conversation) AddMessage(role Role, content string, now time.Time) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
	c.Messages = append(c.Messages, msg)
	c.LastUpdated = now
	return msg
}

// Track records that files were changed. The most recent user message is annotated with the
// files, a major change is appended to the evolution log and the conversation is marked updated.
func (c *Conversation) Track(explanation string, files []string, now time.Time) {
	files = slices.Clone(files)
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			c.Messages[i].Metadata.EditedFiles = files
			break
		}
	}

	description := strings.TrimSpace(explanation)
	if description == "" {
		description = DefaultChangeDescription
	}
	c.Evolution.MajorChanges = append(c.Evolution.MajorChanges, MajorChange{
		Timestamp:     now,
		Description:   description,
		FilesAffected: files,
	})
	c.LastUpdated = now
}

// Clone returns a copy of c that shares no slices with it
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{
		Messages:    slices.Clone(c.Messages),
		LastUpdated: c.LastUpdated,
	}
	for i := range out.Messages {
		out.Messages[i].Metadata.EditedFiles = slices.Clone(out.Messages[i].Metadata.EditedFiles)
	}
	out.Evolution.MajorChanges = slices.Clone(c.Evolution.MajorChanges)
	for i := range out.Evolution.MajorChanges {
		out.Evolution.MajorChanges[i].FilesAffected = slices.Clone(out.Evolution.MajorChanges[i].FilesAffected)
	}
	return out
}

//go:embed recent_changes.tmpl
var recentChangesTemplate string

var recentChangesTmpl = template.Must(template.New("recent_changes").Parse(recentChangesTemplate))

type recentChange struct {
	When    string
	Summary string
	Files   string
}

// RecentChanges renders the last n major changes as a context block for the generation backend.
// Each description is cut down to its first paragraph.
func (c *Conversation) RecentChanges(n int) (string, error) {
	changes := c.Evolution.MajorChanges
	if n > 0 && len(changes) > n {
		changes = changes[len(changes)-n:]
	}
	if len(changes) == 0 {
		return "", nil
	}

	data := make([]recentChange, 0, len(changes))
	for _, ch := range changes {
		data = append(data, recentChange{
			When:    ch.Timestamp.UTC().Format(time.RFC3339),
			Summary: Summarize(ch.Description),
			Files:   strings.Join(ch.FilesAffected, ", "),
		})
	}

	var buf bytes.Buffer
	err := recentChangesTmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to render recent changes: %w", err)
	}
	return buf.String(), nil
}

// Summarize returns the plain text of the first paragraph of a markdown description
func Summarize(description string) string {
	source := []byte(description)
	root := goldmark.DefaultParser().Parse(text.NewReader(source))

	var summary string
	_ = ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *ast.Paragraph, *ast.Heading:
			summary = strings.TrimSpace(string(n.Text(source)))
			if summary != "" {
				return ast.WalkStop, nil
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if summary == "" {
		summary, _, _ = strings.Cut(strings.TrimSpace(description), "\n")
	}
	return summary
}
