// Package tokencount estimates prompt token usage for admission costing
// and the count-tokens surface.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// Estimates are encoding-based where possible and fall back to a bytes/4
// heuristic when the encoder cannot load (offline, unknown model).
const fallbackBytesPerToken = 4

// perMessageOverhead approximates chat framing tokens per message.
const perMessageOverhead = 4

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	return enc
}

// CountText estimates tokens for a plain string.
func CountText(s string) int {
	if s == "" {
		return 0
	}
	if e := encoder(); e != nil {
		return len(e.Encode(s, nil, nil))
	}
	n := len(s) / fallbackBytesPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// CountRequest estimates the prompt tokens of a canonical request,
// covering system text, message blocks, and tool schemas.
func CountRequest(req *types.CanonicalRequest) int {
	if req == nil {
		return 0
	}
	total := CountText(req.System)
	for _, msg := range req.Messages {
		total += perMessageOverhead
		for _, blk := range msg.Blocks {
			switch blk.Type {
			case types.BlockText:
				total += CountText(blk.Text)
			case types.BlockToolCall:
				total += CountText(blk.Name) + CountText(string(blk.Args))
			case types.BlockToolResult:
				total += CountText(blk.Result)
			case types.BlockImage:
				// Images bill roughly per tile upstream; a flat floor
				// keeps admission costing stable.
				total += 85
			}
		}
	}
	for _, tool := range req.Tools {
		total += CountText(tool.Name) + CountText(tool.Description) + CountText(string(tool.InputSchema))
	}
	return total
}
