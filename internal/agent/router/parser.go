package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/interviewcoach/server/internal/agent/model"
	errx "github.com/interviewcoach/server/internal/core/error"
	logx "github.com/interviewcoach/server/pkg/logger"
)

const (
	maxContentLen = 64 * 1024 // 64KB
	maxErrSnippet = 200
)

// Decision is the routing outcome for one turn.
type Decision struct {
	Intent            model.Intent
	Target            model.Target
	ExtractedQuestion string
	// DirectReply is set when the classifier answered the turn itself
	// (Target == none).
	DirectReply string
	Reasoning   string
}

type rawDecision struct {
	Intent            string `json:"intent"`
	Target            string `json:"target"`
	ExtractedQuestion string `json:"extracted_question"`
	Response          string `json:"response"`
	Reasoning         string `json:"reasoning"`
}

var validIntents = map[model.Intent]bool{
	model.IntentVoicePractice:      true,
	model.IntentAnswerOptimization: true,
	model.IntentScriptWriting:      true,
	model.IntentResumeOptimization: true,
	model.IntentInterviewChat:      true,
	model.IntentGeneral:            true,
}

var validTargets = map[model.Target]bool{
	model.TargetPractice: true,
	model.TargetAdvisory: true,
	model.TargetNone:     true,
}

// stripCodeFence removes a surrounding markdown code fence, with or
// without a language tag, leaving the inner payload.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// drop a language tag like "json" on the opening fence line
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		first := strings.TrimSpace(s[:nl])
		if len(first) <= 16 && !strings.ContainsAny(first, "{}") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractJSONObject returns the first balanced top-level {...} object in
// s, tolerating prose the model wrapped around it.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}

// ParseDecision parses the classifier's JSON reply into a Decision.
// Unknown intents and targets are rejected so the caller falls back
// rather than acting on a hallucinated route.
func ParseDecision(content string) (d *Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "router_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("router parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
			d = nil
		}
	}()

	if len(content) > maxContentLen {
		content = content[:maxContentLen]
	}

	payload := stripCodeFence(content)
	if obj, ok := extractJSONObject(payload); ok {
		payload = obj
	}

	var raw rawDecision
	if uerr := json.Unmarshal([]byte(payload), &raw); uerr != nil {
		return nil, fmt.Errorf("decision parse: %w (content: %s)", uerr, safeSnippet(content))
	}

	intent := model.Intent(strings.TrimSpace(raw.Intent))
	if !validIntents[intent] {
		return nil, fmt.Errorf("decision parse: unknown intent %q", safeSnippet(raw.Intent))
	}
	target := model.Target(strings.TrimSpace(raw.Target))
	if !validTargets[target] {
		return nil, fmt.Errorf("decision parse: unknown target %q", safeSnippet(raw.Target))
	}
	if target == model.TargetNone && strings.TrimSpace(raw.Response) == "" {
		return nil, fmt.Errorf("decision parse: target none without a response")
	}

	return &Decision{
		Intent:            intent,
		Target:            target,
		ExtractedQuestion: strings.TrimSpace(raw.ExtractedQuestion),
		DirectReply:       strings.TrimSpace(raw.Response),
		Reasoning:         strings.TrimSpace(raw.Reasoning),
	}, nil
}
