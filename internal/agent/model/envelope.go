package model

// InboundType enumerates the wire-level inbound message types.
type InboundType string

const (
	InboundMessage        InboundType = "message"
	InboundAudio          InboundType = "audio"
	InboundStartPractice  InboundType = "start_practice"
	InboundSubmitAudio    InboundType = "submit_audio"
	InboundCancel         InboundType = "cancel"
	InboundCancelPractice InboundType = "cancel_practice"
)

// Inbound is the transport-agnostic envelope for one client message.
type Inbound struct {
	Type      InboundType     `json:"type"`
	Content   string          `json:"content,omitempty"`
	AudioData string          `json:"audio_data,omitempty"`
	Question  string          `json:"question,omitempty"`
	Context   *MessageContext `json:"context,omitempty"`
}

// Outbound is the tagged union of everything the core emits toward the
// transport. Each outcome carries only the fields it needs.
type Outbound interface {
	// Kind returns the wire-level type tag.
	Kind() string
}

// AssistantReply is a plain, non-streamed assistant message.
type AssistantReply struct {
	Content string `json:"content"`
}

func (AssistantReply) Kind() string { return "assistant_message" }

// RecordingStart instructs the client to record an answer for Question.
type RecordingStart struct {
	Content  string `json:"content"`
	Question string `json:"question"`
}

func (RecordingStart) Kind() string { return "recording_start" }

// Transcription delivers the speech-to-text result ahead of critique.
type Transcription struct {
	Text      string               `json:"text"`
	Sentences []TranscriptSentence `json:"sentences,omitempty"`
	AudioRef  string               `json:"audio_ref,omitempty"`
	Question  string               `json:"question,omitempty"`
}

func (Transcription) Kind() string { return "transcription" }

// StreamStart opens an advisory token stream.
type StreamStart struct{}

func (StreamStart) Kind() string { return "stream_start" }

// StreamChunk is one advisory token-stream delta.
type StreamChunk struct {
	Content string `json:"content"`
}

func (StreamChunk) Kind() string { return "chunk" }

// PendingSave is a save-eligible artifact offered to the caller for
// confirmation; the core does not persist it.
type PendingSave struct {
	Question  string `json:"question"`
	Content   string `json:"content"`
	ProjectID string `json:"project_id"`
}

// StreamEnd closes an advisory token stream.
type StreamEnd struct {
	FullContent string       `json:"full_content"`
	SaveTarget  *PendingSave `json:"save_target,omitempty"`
}

func (StreamEnd) Kind() string { return "stream_end" }

// FeedbackStreamStart opens the critique stream of a practice turn.
type FeedbackStreamStart struct{}

func (FeedbackStreamStart) Kind() string { return "feedback_stream_start" }

// FeedbackChunk is one critique token-stream delta.
type FeedbackChunk struct {
	Content string `json:"content"`
}

func (FeedbackChunk) Kind() string { return "feedback_chunk" }

// Critique is the structured result of answer analysis. Fields left
// empty when the corresponding tag is absent from the raw output.
type Critique struct {
	Analysis      string `json:"analysis"`
	Strengths     string `json:"strengths"`
	Improvements  string `json:"improvements"`
	Encouragement string `json:"encouragement"`
	RawContent    string `json:"raw_content"`
}

// FeedbackStreamEnd closes the critique stream of a practice turn.
type FeedbackStreamEnd struct {
	Content    string    `json:"content"`
	Critique   *Critique `json:"critique"`
	ArtifactID string    `json:"artifact_id,omitempty"`
}

func (FeedbackStreamEnd) Kind() string { return "feedback_stream_end" }

// GenerationCancelled reports a stopped generation with whatever was
// emitted before the stop.
type GenerationCancelled struct {
	PartialContent string `json:"partial_content"`
}

func (GenerationCancelled) Kind() string { return "generation_cancelled" }

// ErrorReply is a turn-level failure surfaced to the user.
type ErrorReply struct {
	Message string `json:"message"`
}

func (ErrorReply) Kind() string { return "error" }
