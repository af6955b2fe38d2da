package changeset

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Stream accumulates a response that arrives in chunks. It can be snapshotted at any time to see
// which files have been fully received so far.
type Stream struct {
	mu     sync.Mutex
	buf    strings.Builder
	parser *Parser
	quiet  *Parser
}

func NewStream(parser *Parser) *Stream {
	return &Stream{
		parser: parser,
		quiet:  NewParser(zap.NewNop()),
	}
}

// Write appends a chunk. It never fails.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

// WriteString appends a chunk
func (s *Stream) WriteString(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.WriteString(chunk)
}

func (s *Stream) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Snapshot parses what has arrived so far without logging parse warnings, which are expected for a
// partial response
func (s *Stream) Snapshot() Response {
	return s.quiet.Parse(s.String())
}

// CompletedFiles lists the paths whose closing tag has arrived, in first-seen order
func (s *Stream) CompletedFiles() []string {
	var paths []string
	for _, f := range s.Snapshot().Files {
		if f.IsComplete {
			paths = append(paths, f.Path)
		}
	}
	return paths
}

// Response parses the accumulated text as a finished response
func (s *Stream) Response() Response {
	return s.parser.Parse(s.String())
}
