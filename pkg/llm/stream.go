package llm

import (
	"context"
	"strings"

	telerr "github.com/teloslabs/telos/pkg/errors"
)

// StreamBufferSize is the producer-side channel buffer for streaming calls.
// A slow consumer backpressures the producer once the buffer fills.
const StreamBufferSize = 100

// ChunkType classifies a streaming chunk.
type ChunkType string

const (
	ChunkText       ChunkType = "text"
	ChunkToolCall   ChunkType = "tool_call"
	ChunkToolResult ChunkType = "tool_result"
	ChunkError      ChunkType = "error"
)

// StreamChunk is one element of a generation stream. Text chunks carry
// incremental content (Delta true) unless the caller requested cumulative
// mode. The terminal chunk has Done set and carries accumulated tool calls
// and usage, or Type ChunkError with Err set. Producers close the channel
// after the terminal chunk; consumers must not assume more elements follow.
type StreamChunk struct {
	Type      ChunkType  `json:"type"`
	Content   string     `json:"content,omitempty"`
	Delta     bool       `json:"delta"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
	Done      bool       `json:"done"`
	Err       error      `json:"-"`
}

// ErrorChunk builds the terminal chunk for a failed stream.
func ErrorChunk(err error) StreamChunk {
	return StreamChunk{Type: ChunkError, Done: true, Err: err}
}

// Accumulate drains a stream into a single Response. The first error chunk
// aborts accumulation and is returned as a streaming error; cancellation of
// ctx abandons the stream and returns ctx.Err().
func Accumulate(ctx context.Context, chunks <-chan StreamChunk) (*Response, error) {
	return AccumulateFunc(ctx, chunks, nil)
}

// AccumulateFunc drains a stream like Accumulate, invoking observe on every
// chunk before folding it in. The run loop uses it to mirror live text to
// event subscribers while still ending up with one Response.
func AccumulateFunc(ctx context.Context, chunks <-chan StreamChunk, observe func(StreamChunk)) (*Response, error) {
	var sb strings.Builder
	resp := &Response{}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				resp.Content = sb.String()
				return resp, nil
			}
			if observe != nil {
				observe(chunk)
			}
			if chunk.Err != nil {
				return nil, telerr.New(telerr.CodeStreaming, "stream ended with error", chunk.Err)
			}
			if chunk.Type == ChunkText && chunk.Content != "" {
				if chunk.Delta {
					sb.WriteString(chunk.Content)
				} else {
					sb.Reset()
					sb.WriteString(chunk.Content)
				}
			}
			if len(chunk.ToolCalls) > 0 {
				resp.ToolCalls = chunk.ToolCalls
			}
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
		}
	}
}
