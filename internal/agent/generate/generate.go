// Package generate holds the two response generators: the guided
// audio-practice flow and the free-form advisory chat flow. Both
// produce a Result the session layer either sends directly or drives
// through the streaming execution controller.
package generate

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/interviewcoach/server/internal/agent/model"
)

// Result is one generator's answer for a turn: either a terminal reply
// or a token stream plus the metadata needed to run and close it.
type Result struct {
	// Reply is the terminal envelope; nil when the turn streams.
	Reply model.Outbound
	// TurnKind tags the assistant turn appended to the ledger.
	TurnKind model.TurnKind

	// Stream, when set, is consumed by the execution controller.
	Stream *schema.StreamReader[*schema.Message]
	// StreamOpen is emitted before the first chunk.
	StreamOpen model.Outbound
	// ChunkEvent is the relay event name for stream deltas.
	ChunkEvent string
	// ChunkEnvelope wraps one delta for the relay.
	ChunkEnvelope func(delta string) model.Outbound
	// OnComplete builds the closing envelope from the full streamed text
	// after an uncancelled run. It may persist artifacts and adjust
	// session state.
	OnComplete func(ctx context.Context, full string) model.Outbound
}

// Generator produces a Result for the current turn.
type Generator interface {
	Generate(ctx context.Context, state *model.SessionState) (*Result, error)
}
