package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const streamBuffer = 32

// StreamEvent carries one content delta, or the final usage, or an error.
// The last event on a stream always has Done set.
type StreamEvent struct {
	Delta string
	Usage Usage
	Err   error
	Done  bool
}

// ErrGenerationTimeout is the terminal error of a stream cut short by the
// client timeout.
var ErrGenerationTimeout = errors.New("generation timed out")

// StreamChat streams a chat completion. The returned channel is closed after
// the terminal event, which is delivered as long as ctx is alive; a timeout
// inside the client ends the stream with ErrGenerationTimeout. Cancelling ctx
// stops emission and may drop the terminal event.
func (c *Client) StreamChat(ctx context.Context, messages []Message) (<-chan StreamEvent, error) {
	callCtx, cancel := c.withTimeout(ctx)

	stream, err := c.chat.CreateChatCompletionStream(callCtx, openai.ChatCompletionRequest{
		Model:         c.chatModel,
		Messages:      toOpenAIMessages(messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("chat stream failed: %w", err)
	}

	out := make(chan StreamEvent, streamBuffer)
	go func() {
		defer close(out)
		defer cancel()
		defer stream.Close()

		var text strings.Builder
		var usage *Usage
		finish := func(err error) {
			ev := StreamEvent{Err: err, Done: true, Usage: c.estimate(messages, text.String(), usage)}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
		timedOut := func() error {
			return fmt.Errorf("%w: %w", ErrGenerationTimeout, callCtx.Err())
		}
		send := func(ev StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-callCtx.Done():
				return false
			}
		}

		for {
			if callCtx.Err() != nil {
				if ctx.Err() == nil {
					finish(timedOut())
				}
				return
			}
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() == nil && callCtx.Err() != nil {
					err = timedOut()
				}
				finish(err)
				return
			}
			if resp.Usage != nil {
				usage = &Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				text.WriteString(choice.Delta.Content)
				if send(StreamEvent{Delta: choice.Delta.Content}) {
					continue
				}
				if ctx.Err() != nil {
					c.logger.Debug("stream consumer gone, stopping")
					return
				}
				finish(timedOut())
				return
			}
		}

		finish(nil)
	}()

	return out, nil
}

// estimate fills in usage with tiktoken counts when the provider sent none
func (c *Client) estimate(messages []Message, completion string, reported *Usage) Usage {
	if reported != nil && reported.TotalTokens > 0 {
		return *reported
	}
	prompt := c.tokens.CountMessages(messages)
	done := c.tokens.Count(completion)
	return Usage{PromptTokens: prompt, CompletionTokens: done, TotalTokens: prompt + done}
}
