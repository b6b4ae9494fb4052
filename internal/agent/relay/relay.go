// Package relay delivers out-of-band progress events (transcripts,
// stream chunks, cancellations) from generators to whoever handles the
// session's transport. Handlers are addressed by (session, event) and
// live only for the turn that registered them. A watermill gochannel
// pub/sub runs alongside the direct handler table so transport adapters
// can subscribe to a session's event feed without touching the core.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/interviewcoach/server/internal/agent/model"
	logx "github.com/interviewcoach/server/pkg/logger"
)

// Event names invoked by the generators and the execution controller.
const (
	EventTranscript        = "transcript"
	EventStreamChunk       = "stream_chunk"
	EventFeedbackChunk     = "feedback_chunk"
	EventRecordingStart    = "recording_start"
	EventGenerationStopped = "generation_stopped"
)

// Handler receives one event payload. Handlers must not block; they run
// on the generator's goroutine.
type Handler func(ctx context.Context, payload model.Outbound)

type key struct {
	sessionID string
	event     string
}

// Relay is the per-session event dispatch table. Safe for concurrent use
// across sessions.
type Relay struct {
	mu       sync.RWMutex
	handlers map[key]Handler

	pubsub *gochannel.GoChannel
}

func New() *Relay {
	return &Relay{
		handlers: make(map[key]Handler),
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
	}
}

// Register installs a handler for (sessionID, event), replacing any
// previous one.
func (r *Relay) Register(sessionID, event string, h Handler) {
	r.mu.Lock()
	r.handlers[key{sessionID, event}] = h
	r.mu.Unlock()
}

// Unregister removes the handlers for the given events. Removing an
// absent handler is a no-op; turn teardown calls this unconditionally.
func (r *Relay) Unregister(sessionID string, events ...string) {
	r.mu.Lock()
	for _, ev := range events {
		delete(r.handlers, key{sessionID, ev})
	}
	r.mu.Unlock()
}

// Invoke dispatches payload to the handler registered for (sessionID,
// event) and mirrors it onto the session's watermill topic. Returns
// false when no handler is registered; that is an expected state, not an
// error.
func (r *Relay) Invoke(ctx context.Context, sessionID, event string, payload model.Outbound) bool {
	r.publish(sessionID, event, payload)

	r.mu.RLock()
	h, ok := r.handlers[key{sessionID, event}]
	r.mu.RUnlock()
	if !ok {
		logx.Debug().
			Str("session_id", sessionID).
			Str("event", event).
			Msg("No relay handler registered")
		return false
	}
	h(ctx, payload)
	return true
}

// Topic returns the watermill topic carrying a session's event feed.
func Topic(sessionID string) string {
	return fmt.Sprintf("session.%s.events", sessionID)
}

// Subscribe returns a watermill subscription to a session's event feed.
// Messages carry the JSON-encoded payload with the event name and kind
// in metadata.
func (r *Relay) Subscribe(ctx context.Context, sessionID string) (<-chan *message.Message, error) {
	return r.pubsub.Subscribe(ctx, Topic(sessionID))
}

func (r *Relay) publish(sessionID, event string, payload model.Outbound) {
	body, err := json.Marshal(payload)
	if err != nil {
		logx.Error().Err(err).Str("event", event).Msg("Relay payload marshal failed")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.Metadata.Set("event", event)
	msg.Metadata.Set("kind", payload.Kind())
	msg.Metadata.Set("session_id", sessionID)
	if err := r.pubsub.Publish(Topic(sessionID), msg); err != nil {
		logx.Error().Err(err).Str("event", event).Msg("Relay publish failed")
	}
}

// Close shuts down the watermill pub/sub and drops all handlers.
func (r *Relay) Close() error {
	r.mu.Lock()
	r.handlers = make(map[key]Handler)
	r.mu.Unlock()
	return r.pubsub.Close()
}
