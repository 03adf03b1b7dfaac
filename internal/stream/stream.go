// Package stream turns upstream SSE bodies into lazy, finite sequences of
// canonical chunks. The caller drives the sequence; closing it early
// releases the underlying connection.
package stream

import (
	"context"
	"io"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// DecodeFunc converts one SSE event into zero or more canonical chunks.
type DecodeFunc func(evt *Event) ([]types.Chunk, error)

// Stream is a non-restartable pull sequence of chunks over one response
// body.
type Stream struct {
	body    io.Closer
	reader  *Reader
	decode  DecodeFunc
	pending []types.Chunk
	err     error
	done    bool
}

// New wraps a response body with a decoder.
func New(body io.ReadCloser, decode DecodeFunc) *Stream {
	return &Stream{
		body:   body,
		reader: NewReader(body),
		decode: decode,
	}
}

// Next returns the next chunk. It observes ctx at every pull and returns
// io.EOF when the sequence is exhausted.
func (s *Stream) Next(ctx context.Context) (*types.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}

	for {
		if len(s.pending) > 0 {
			chunk := s.pending[0]
			s.pending = s.pending[1:]
			return &chunk, nil
		}
		if s.done {
			return nil, io.EOF
		}

		evt, err := s.reader.Next()
		if err == io.EOF {
			s.done = true
			continue
		}
		if err != nil {
			s.err = err
			return nil, err
		}

		chunks, err := s.decode(evt)
		if err != nil {
			s.err = err
			return nil, err
		}
		s.pending = append(s.pending, chunks...)
	}
}

// Collect drains the stream into a full response.
func (s *Stream) Collect(ctx context.Context) (text string, toolCalls []types.ToolCallDelta, usage *types.Usage, err error) {
	defer s.Close()

	argsByIndex := map[int]*types.ToolCallDelta{}
	var order []int
	for {
		chunk, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, nil, err
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		switch chunk.Type {
		case types.ChunkText:
			text += chunk.Text
		case types.ChunkToolCall:
			tc := chunk.ToolCall
			if tc == nil {
				continue
			}
			acc, ok := argsByIndex[tc.Index]
			if !ok {
				acc = &types.ToolCallDelta{Index: tc.Index}
				argsByIndex[tc.Index] = acc
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Name != "" {
				acc.Name = tc.Name
			}
			acc.Args += tc.Args
		}
	}

	for _, idx := range order {
		toolCalls = append(toolCalls, *argsByIndex[idx])
	}
	return text, toolCalls, usage, nil
}

// Close releases the underlying body. Safe to call more than once.
func (s *Stream) Close() error {
	if s.body == nil {
		return nil
	}
	body := s.body
	s.body = nil
	s.done = true
	return body.Close()
}
