package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// TurnKind tags what a turn in the ledger represents.
type TurnKind string

const (
	TurnChat            TurnKind = "chat"
	TurnVoiceAnswer     TurnKind = "voice_answer"
	TurnRecordingPrompt TurnKind = "recording_prompt"
	TurnFeedback        TurnKind = "feedback"
)

// Turn is one role-tagged message in a session's ordered history.
// Turns are immutable once appended; list order is the sole sequencing
// authority for summarization and truncation.
type Turn struct {
	Role    schema.RoleType `json:"role"`
	Content string          `json:"content"`
	Kind    TurnKind        `json:"kind,omitempty"`
}

// UserTurn builds a user turn of the given kind.
func UserTurn(content string, kind TurnKind) *Turn {
	return &Turn{Role: schema.User, Content: content, Kind: kind}
}

// AssistantTurn builds an assistant turn of the given kind.
func AssistantTurn(content string, kind TurnKind) *Turn {
	return &Turn{Role: schema.Assistant, Content: content, Kind: kind}
}

// TurnLedger is the append-only ordered record of turns per session.
type TurnLedger interface {
	// Append adds a turn to the end of the session's history.
	Append(ctx context.Context, sessionID string, turn *Turn) error

	// History retrieves the session's turns in append order.
	History(ctx context.Context, sessionID string) ([]*Turn, error)

	// Clear removes all turns for a session.
	Clear(ctx context.Context, sessionID string) error

	// Count returns the number of turns in the session.
	Count(ctx context.Context, sessionID string) (int, error)
}
