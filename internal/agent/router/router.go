// Package router decides, per turn, which response generator handles a
// user message. Audio and an in-flight practice always short-circuit to
// the practice generator; everything else goes through one low-temperature
// classifier call whose structured reply is validated before use.
package router

import (
	"context"
	"strings"

	"github.com/interviewcoach/server/internal/agent/model"
	"github.com/interviewcoach/server/internal/agent/prompts"
	logx "github.com/interviewcoach/server/pkg/logger"
)

// maxTurnRunes bounds each history line rendered into the classifier
// context.
const maxTurnRunes = 200

type Router struct {
	classifier model.TextGenerator
	modelCfg   model.RouterModelConfig
	maxTurns   int
}

func New(classifier model.TextGenerator, modelCfg model.RouterModelConfig, maxTurns int) *Router {
	return &Router{classifier: classifier, modelCfg: modelCfg, maxTurns: maxTurns}
}

// Route classifies the current turn and applies its mode side effects to
// state. Classifier or parse failures degrade to the advisory generator
// with the interview_chat intent; Route never fails a turn.
func (r *Router) Route(ctx context.Context, state *model.SessionState, recent []*model.Turn) *Decision {
	if d, ok := r.shortCircuit(state); ok {
		r.applyEffects(state, d)
		return d
	}

	d, err := r.classify(ctx, state, recent)
	if err != nil {
		logx.Warn().
			Err(err).
			Str("session_id", state.SessionID).
			Msg("Intent classification failed, falling back to advisory")
		d = &Decision{Intent: model.IntentInterviewChat, Target: model.TargetAdvisory}
	}
	r.applyEffects(state, d)
	return d
}

// shortCircuit handles the deterministic routes that never need a model
// call: audio turns, and text arriving while a practice question is
// pending.
func (r *Router) shortCircuit(state *model.SessionState) (*Decision, bool) {
	if state.InputKind == model.InputAudio {
		return &Decision{
			Intent:            model.IntentVoicePractice,
			Target:            model.TargetPractice,
			ExtractedQuestion: state.CurrentQuestion,
		}, true
	}
	if state.Mode == model.ModePracticing && state.CurrentQuestion != "" {
		return &Decision{
			Intent:            model.IntentVoicePractice,
			Target:            model.TargetPractice,
			ExtractedQuestion: state.CurrentQuestion,
		}, true
	}
	return nil, false
}

func (r *Router) classify(ctx context.Context, state *model.SessionState, recent []*model.Turn) (*Decision, error) {
	msgs, err := prompts.RenderRouter(ctx, prompts.RouterVars{
		UserInput:       state.Input,
		InputKind:       string(state.InputKind),
		Mode:            string(state.Mode),
		CurrentQuestion: state.CurrentQuestion,
		RecentHistory:   renderRecent(recent, r.maxTurns),
	})
	if err != nil {
		return nil, err
	}

	reply, err := r.classifier.Complete(ctx, msgs, model.GenerateOptions{
		Temperature: r.modelCfg.Temperature,
		MaxTokens:   r.modelCfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return ParseDecision(reply.Content)
}

func (r *Router) applyEffects(state *model.SessionState, d *Decision) {
	state.Intent = d.Intent
	state.ExtractedQuestion = d.ExtractedQuestion

	switch d.Target {
	case model.TargetPractice:
		state.Mode = model.ModePracticing
		if d.ExtractedQuestion != "" {
			state.CurrentQuestion = d.ExtractedQuestion
		}
	case model.TargetAdvisory:
		state.Mode = model.ModeAdvising
	default:
		state.Mode = model.ModeIdle
	}
}

// renderRecent flattens the newest maxTurns turns into role-tagged lines
// for the classifier context, clipping long turns.
func renderRecent(turns []*model.Turn, maxTurns int) string {
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	var b strings.Builder
	for _, t := range turns {
		if t == nil {
			continue
		}
		content := t.Content
		if runes := []rune(content); len(runes) > maxTurnRunes {
			content = string(runes[:maxTurnRunes]) + "..."
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "（无历史）"
	}
	return b.String()
}
