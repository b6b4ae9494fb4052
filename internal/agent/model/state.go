package model

// Mode is the coarse per-session conversation mode.
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModePracticing Mode = "practicing"
	ModeAdvising   Mode = "advising"
)

// InputKind tags how the current turn arrived.
type InputKind string

const (
	InputText    InputKind = "text"
	InputAudio   InputKind = "audio"
	InputCommand InputKind = "command"
)

// Intent is the classified purpose of a user turn, in decreasing
// routing priority.
type Intent string

const (
	IntentVoicePractice      Intent = "voice_practice"
	IntentAnswerOptimization Intent = "answer_optimization"
	IntentScriptWriting      Intent = "script_writing"
	IntentResumeOptimization Intent = "resume_optimization"
	IntentInterviewChat      Intent = "interview_chat"
	IntentGeneral            Intent = "general"
)

// Target names the response generator selected for a turn.
type Target string

const (
	TargetPractice Target = "practice"
	TargetAdvisory Target = "advisory"
	// TargetNone means the router answered the turn directly.
	TargetNone Target = "none"
)

// MessageContext carries a referenced earlier exchange, used for
// diff-aware rewrites of a saved transcript.
type MessageContext struct {
	Question           string `json:"question,omitempty"`
	OriginalTranscript string `json:"original_transcript,omitempty"`
	ArtifactID         string `json:"artifact_id,omitempty"`
}

// SessionState is the per-turn working state of one session. It is
// constructed fresh for every turn from the ledger plus the caller's
// session-scoped fields; only the ledger and the summary cache outlive
// the turn.
type SessionState struct {
	SessionID string
	ProjectID string

	// Background documents
	JDText            string
	ResumeText        string
	PracticeQuestions []string

	// Current input
	Input     string
	InputKind InputKind
	AudioData string // base64-encoded audio payload
	Context   *MessageContext

	// Current status
	Mode            Mode
	CurrentQuestion string

	// Routing outputs (set by the router)
	Intent            Intent
	ExtractedQuestion string

	// SaveArtifact marks the turn's output as save-eligible; set by the
	// advisory generator.
	SaveArtifact bool

	// Context management
	Summary    string
	TokenUsage map[string]int
}
