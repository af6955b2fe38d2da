// Package ai talks to the generation backend: it streams model output and regenerates components the
// entry point imports but nobody wrote.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"
)

const DefaultMaxOutputTokens = 16000

// Sender sends one prompt and returns the complete reply text. onDelta, if not nil, receives text as
// it arrives.
type Sender interface {
	Send(ctx context.Context, system, prompt string, onDelta func(string)) (string, error)
}

type StreamingSender struct {
	client          anthropic.Client
	model           anthropic.Model
	maxOutputTokens int64
	logger          *zap.Logger
}

func NewStreamingSender(client anthropic.Client, model string, maxOutputTokens int64, logger *zap.Logger) *StreamingSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = DefaultMaxOutputTokens
	}
	return &StreamingSender{
		client:          client,
		model:           anthropic.Model(model),
		maxOutputTokens: maxOutputTokens,
		logger:          logger,
	}
}

func (ss *StreamingSender) Send(ctx context.Context, system, prompt string, onDelta func(string)) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     ss.model,
		MaxTokens: ss.maxOutputTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := ss.client.Messages.NewStreaming(ctx, params)
	response := anthropic.Message{}
	var text strings.Builder
	for stream.Next() {
		event := stream.Current()
		err := response.Accumulate(event)
		if err != nil {
			return "", fmt.Errorf("failed to accumulate response content stream: %w", err)
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				text.WriteString(delta.Text)
				if onDelta != nil {
					onDelta(delta.Text)
				}
			}
		}
	}
	if stream.Err() != nil {
		return "", fmt.Errorf("failed to stream response: %w", stream.Err())
	}
	if response.StopReason == "" {
		b, err := json.Marshal(response)
		if err != nil {
			ss.logger.Error("failed to marshal corrupt message for inspection", zap.Error(err))
		}
		return "", fmt.Errorf("malformed message: %v", string(b))
	}

	ss.logger.Info("generation finished",
		zap.String("stop_reason", string(response.StopReason)),
		zap.Int64("input_tokens", response.Usage.InputTokens),
		zap.Int64("output_tokens", response.Usage.OutputTokens),
	)
	return text.String(), nil
}
