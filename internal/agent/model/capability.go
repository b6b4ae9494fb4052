package model

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
)

// GenerateOptions are per-call knobs for the text-generation capability.
type GenerateOptions struct {
	Temperature float32
	MaxTokens   int
}

// TextGenerator is the text-generation capability consumed by the core.
// Implementations wrap a concrete backend; the core never constructs
// clients itself.
type TextGenerator interface {
	// Complete returns the full reply for the given messages.
	Complete(ctx context.Context, messages []*schema.Message, opts GenerateOptions) (*schema.Message, error)

	// CompleteStream returns the reply as a stream of message chunks.
	CompleteStream(ctx context.Context, messages []*schema.Message, opts GenerateOptions) (*schema.StreamReader[*schema.Message], error)
}

// TranscriptSentence is one sentence of a transcript with millisecond
// timestamps.
type TranscriptSentence struct {
	Text    string `json:"text"`
	BeginMS int    `json:"begin_ms"`
	EndMS   int    `json:"end_ms"`
}

// TranscriptResult is the output of the speech-to-text capability.
type TranscriptResult struct {
	Text      string               `json:"text"`
	Sentences []TranscriptSentence `json:"sentences,omitempty"`
	// AudioRef points at the persisted audio object when the backend
	// was asked to keep it.
	AudioRef string `json:"audio_ref,omitempty"`
}

// TranscribeOptions are per-call knobs for transcription.
type TranscribeOptions struct {
	Language string
	// ContextText biases recognition toward domain vocabulary
	// (question, JD and resume excerpts).
	ContextText  string
	PersistAudio bool
}

// Transcriber is the speech-to-text capability consumed by the practice
// generator.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*TranscriptResult, error)
}

// TokenCodec counts and truncates text in model tokens. The exact
// tokenizer is an external concern; the budgeter only consumes this pair.
type TokenCodec interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// Artifact is a durably saved question+answer pairing.
type Artifact struct {
	ID        string    `json:"id,omitempty"`
	ProjectID string    `json:"project_id"`
	Question  string    `json:"question"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind"` // "recording" | "script"
	CreatedAt time.Time `json:"created_at"`
}

// ArtifactStore persists artifacts. Failures are logged by callers and
// never fail the primary response.
type ArtifactStore interface {
	Save(ctx context.Context, artifact *Artifact) (string, error)
}
