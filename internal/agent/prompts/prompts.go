package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/interviewcoach/server/internal/agent/model"
)

//go:embed template/router_system.txt
var routerSystemPrompt string

//go:embed template/router_context.txt
var routerContextPrompt string

//go:embed template/critique_system.txt
var critiqueSystemPrompt string

//go:embed template/critique_user.txt
var critiqueUserPrompt string

//go:embed template/chat_system.txt
var chatSystemPrompt string

//go:embed template/optimize.txt
var optimizePrompt string

//go:embed template/optimize_with_reference.txt
var optimizeWithReferencePrompt string

//go:embed template/research.txt
var researchPrompt string

//go:embed template/resume.txt
var resumePrompt string

//go:embed template/script.txt
var scriptPrompt string

//go:embed template/summary.txt
var summaryPrompt string

// RouterVars feeds the intent classification context template.
type RouterVars struct {
	UserInput       string
	InputKind       string
	Mode            string
	CurrentQuestion string
	RecentHistory   string
}

// CritiqueVars feeds the STAR critique template pair.
type CritiqueVars struct {
	Question   string
	Answer     string
	ResumeText string
	JDText     string
}

// AdvisoryVars feeds the per-intent advisory templates. Only the fields
// relevant to the chosen intent are read by the template.
type AdvisoryVars struct {
	Question           string
	UserInput          string
	ResumeText         string
	JDText             string
	OriginalAnswer     string
	OriginalTranscript string
	UserEdit           string
}

// RenderRouter builds the classifier message pair: a static system prompt
// describing the intent taxonomy and a rendered context message.
func RenderRouter(ctx context.Context, v RouterVars) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(routerSystemPrompt),
		schema.UserMessage(routerContextPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"UserInput":       v.UserInput,
		"InputKind":       v.InputKind,
		"Mode":            v.Mode,
		"CurrentQuestion": v.CurrentQuestion,
		"RecentHistory":   v.RecentHistory,
	})
	if err != nil {
		return nil, fmt.Errorf("router prompt render: %w", err)
	}
	return msgs, nil
}

// RenderCritique builds the answer-feedback message pair for a practice turn.
func RenderCritique(ctx context.Context, v CritiqueVars) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(critiqueSystemPrompt),
		schema.UserMessage(critiqueUserPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Question":   v.Question,
		"Answer":     v.Answer,
		"ResumeText": v.ResumeText,
		"JDText":     v.JDText,
	})
	if err != nil {
		return nil, fmt.Errorf("critique prompt render: %w", err)
	}
	return msgs, nil
}

// ChatSystem returns the shared advisory system prompt.
func ChatSystem() string { return chatSystemPrompt }

// RenderAdvisory renders the user prompt for an advisory intent. The
// withReference variant of answer optimization is chosen when the turn
// carries an original transcript to rework.
func RenderAdvisory(ctx context.Context, intent model.Intent, withReference bool, v AdvisoryVars) (string, error) {
	var body string
	switch intent {
	case model.IntentAnswerOptimization:
		if withReference {
			body = optimizeWithReferencePrompt
		} else {
			body = optimizePrompt
		}
	case model.IntentScriptWriting:
		body = scriptPrompt
	case model.IntentResumeOptimization:
		body = resumePrompt
	case model.IntentInterviewChat:
		body = researchPrompt
	default:
		return "", fmt.Errorf("advisory prompt render: no template for intent %q", intent)
	}

	tpl := prompt.FromMessages(schema.GoTemplate, schema.UserMessage(body))
	msgs, err := tpl.Format(ctx, map[string]any{
		"Question":           v.Question,
		"UserInput":          v.UserInput,
		"ResumeText":         v.ResumeText,
		"JDText":             v.JDText,
		"OriginalAnswer":     v.OriginalAnswer,
		"OriginalTranscript": v.OriginalTranscript,
		"UserEdit":           v.UserEdit,
	})
	if err != nil {
		return "", fmt.Errorf("advisory prompt render (%s): %w", intent, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("advisory prompt render (%s): empty result", intent)
	}
	return msgs[0].Content, nil
}

const summarySystem = "你是一个对话摘要助手，负责总结面试练习对话。"

// RenderSummary builds the history summarization request from a flattened
// conversation transcript.
func RenderSummary(ctx context.Context, conversation string) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(summarySystem),
		schema.UserMessage(summaryPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{"Conversation": conversation})
	if err != nil {
		return nil, fmt.Errorf("summary prompt render: %w", err)
	}
	return msgs, nil
}
