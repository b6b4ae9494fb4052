// Package exec consumes model token streams under the session's cancel
// flag. All stop causes — out-of-band cancel, caller preemption, stream
// errors — converge on one contract: the outcome always carries the
// exact concatenation of the chunks delivered before the stop.
package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	logx "github.com/interviewcoach/server/pkg/logger"
)

// State classifies how a stream run ended.
type State string

const (
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Outcome is the result of consuming one stream.
type Outcome struct {
	State State
	// Text is the concatenated chunks delivered before the run ended,
	// the full reply when completed.
	Text string
	Err  error
}

// OnChunk receives each streamed delta as it arrives, before the cancel
// flag is re-checked for the next one.
type OnChunk func(ctx context.Context, delta string)

// Flags is the per-session cancel flag registry. A set flag means the
// session's in-flight generation should stop at the next chunk boundary;
// absent means not cancelled.
type Flags struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func NewFlags() *Flags {
	return &Flags{set: make(map[string]struct{})}
}

// Set marks the session's in-flight generation for cancellation.
func (f *Flags) Set(sessionID string) {
	f.mu.Lock()
	f.set[sessionID] = struct{}{}
	f.mu.Unlock()
}

// Reset clears the session's flag. Called at every generation start so a
// stale cancel never kills a fresh run.
func (f *Flags) Reset(sessionID string) {
	f.mu.Lock()
	delete(f.set, sessionID)
	f.mu.Unlock()
}

// IsSet reports whether the session is marked for cancellation.
func (f *Flags) IsSet(sessionID string) bool {
	f.mu.Lock()
	_, ok := f.set[sessionID]
	f.mu.Unlock()
	return ok
}

// Controller runs token streams for sessions.
type Controller struct {
	flags *Flags
}

func NewController(flags *Flags) *Controller {
	return &Controller{flags: flags}
}

// Flags exposes the registry so the session layer can set cancels.
func (c *Controller) Flags() *Flags {
	return c.flags
}

// Run consumes stream until it ends, the session's cancel flag is set,
// or ctx is cancelled. onChunk may be nil. Run never panics and never
// returns an error by itself; failures are reported in the Outcome.
func (c *Controller) Run(ctx context.Context, sessionID string, stream *schema.StreamReader[*schema.Message], onChunk OnChunk) (out Outcome) {
	var full strings.Builder

	defer func() {
		if r := recover(); r != nil {
			logx.Error().
				Str("session_id", sessionID).
				Msgf("panic recovered in stream run: %v", r)
			out = Outcome{State: StateFailed, Text: full.String(), Err: fmt.Errorf("stream run panic: %v", r)}
		}
	}()
	defer stream.Close()

	c.flags.Reset(sessionID)

	for {
		msg, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Outcome{State: StateCompleted, Text: full.String()}
			}
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return Outcome{State: StateCancelled, Text: full.String()}
			}
			logx.Error().Err(err).Str("session_id", sessionID).Msg("Stream receive failed")
			return Outcome{State: StateFailed, Text: full.String(), Err: err}
		}

		// The flag is checked between receipt and append so the reported
		// partial never includes a chunk that arrived after the cancel.
		if c.flags.IsSet(sessionID) {
			logx.Info().Str("session_id", sessionID).Msg("Generation cancelled by flag")
			return Outcome{State: StateCancelled, Text: full.String()}
		}
		select {
		case <-ctx.Done():
			logx.Info().Str("session_id", sessionID).Msg("Generation context cancelled")
			return Outcome{State: StateCancelled, Text: full.String()}
		default:
		}
		if msg == nil || msg.Content == "" {
			continue
		}

		full.WriteString(msg.Content)
		if onChunk != nil {
			onChunk(ctx, msg.Content)
		}
	}
}
