// Package budget assembles the message list for a generation call under
// a fixed token budget. Components are charged in strict priority order
// (job description, then resume, then summary, then history); history is
// filled newest-first with whatever remains. Long-running sessions get a
// one-time summary of the turns that fell out of the recent window.
package budget

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/interviewcoach/server/internal/agent/model"
	"github.com/interviewcoach/server/internal/agent/prompts"
	logx "github.com/interviewcoach/server/pkg/logger"
)

const (
	// summaryMaxTurns bounds how many overflow turns feed the
	// summarization call.
	summaryMaxTurns = 20
	// summaryTurnRunes clips each turn rendered into the summarization
	// request.
	summaryTurnRunes = 200
)

// BuildInput is everything a single context build needs. History is the
// full ledger in append order; the builder picks the recent window itself.
type BuildInput struct {
	SessionID    string
	SystemPrompt string
	UserInput    string
	JDText       string
	ResumeText   string
	History      []*model.Turn
	// ExistingSummary overrides the builder's cache when set.
	ExistingSummary string
}

// Result is the assembled context plus its accounting.
type Result struct {
	Messages   []*schema.Message
	JDText     string
	ResumeText string
	Summary    string
	History    []*model.Turn
	TokenUsage map[string]int
	Truncated  map[string]bool
}

// Builder owns the token budget, the summarizer, and the per-session
// summary cache. Safe for use from many session actors at once.
type Builder struct {
	codec      model.TokenCodec
	summarizer model.TextGenerator
	budget     model.BudgetConfig
	summaryCfg model.SummaryModelConfig

	maxHistoryRounds     int
	summaryTriggerRounds int

	mu        sync.Mutex
	summaries map[string]string
}

func NewBuilder(codec model.TokenCodec, summarizer model.TextGenerator, budget model.BudgetConfig, summaryCfg model.SummaryModelConfig, conv model.ConversationConfig) *Builder {
	return &Builder{
		codec:                codec,
		summarizer:           summarizer,
		budget:               budget,
		summaryCfg:           summaryCfg,
		maxHistoryRounds:     conv.History.MaxRounds,
		summaryTriggerRounds: conv.History.SummaryTriggerRounds,
		summaries:            make(map[string]string),
	}
}

// Build assembles the final message list. It never fails: a failed
// summarization degrades to building without a summary.
func (b *Builder) Build(ctx context.Context, in BuildInput) *Result {
	usage := make(map[string]int)
	truncated := make(map[string]bool)

	systemTokens := b.codec.Count(in.SystemPrompt)
	inputTokens := b.codec.Count(in.UserInput)
	usage["system_prompt"] = systemTokens
	usage["current_input"] = inputTokens

	available := b.budget.Total - systemTokens - inputTokens

	jd := ""
	if in.JDText != "" {
		jdMax := min(b.budget.JDMax, available)
		if b.codec.Count(in.JDText) > jdMax {
			jd = b.smartTruncate(in.JDText, jdMax, jdKeywords)
			truncated["jd"] = true
		} else {
			jd = in.JDText
			truncated["jd"] = false
		}
		available -= b.codec.Count(jd)
	}
	usage["jd"] = b.codec.Count(jd)

	resume := ""
	if in.ResumeText != "" {
		resumeMax := min(b.budget.ResumeMax, available)
		if b.codec.Count(in.ResumeText) > resumeMax {
			resume = b.smartTruncate(in.ResumeText, resumeMax, resumeKeywords)
			truncated["resume"] = true
		} else {
			resume = in.ResumeText
			truncated["resume"] = false
		}
		available -= b.codec.Count(resume)
	}
	usage["resume"] = b.codec.Count(resume)

	summary := in.ExistingSummary
	if summary == "" {
		summary = b.cachedSummary(in.SessionID)
	}
	totalRounds := len(in.History) / 2
	if totalRounds > b.summaryTriggerRounds && summary == "" {
		overflow := in.History[:max(0, len(in.History)-b.maxHistoryRounds*2)]
		if len(overflow) > 0 {
			summary = b.summarize(ctx, in.SessionID, overflow)
		}
	}
	summaryTokens := 0
	if summary != "" {
		summaryMax := min(b.budget.SummaryMax, available)
		if b.codec.Count(summary) > summaryMax {
			summary = b.codec.Truncate(summary, summaryMax)
		}
		summaryTokens = b.codec.Count(summary)
		available -= summaryTokens
	}
	usage["summary"] = summaryTokens

	recent := in.History
	if len(recent) > b.maxHistoryRounds*2 {
		recent = recent[len(recent)-b.maxHistoryRounds*2:]
	}
	historyMax := max(b.budget.HistoryMin, available)
	kept, historyTokens := b.fitHistory(recent, historyMax)
	usage["history"] = historyTokens
	truncated["history"] = len(kept) < len(recent)

	logx.Debug().
		Str("session_id", in.SessionID).
		Interface("token_usage", usage).
		Msg("Context assembled")

	return &Result{
		Messages:   b.assemble(in.SystemPrompt, jd, resume, summary, kept, in.UserInput),
		JDText:     jd,
		ResumeText: resume,
		Summary:    summary,
		History:    kept,
		TokenUsage: usage,
		Truncated:  truncated,
	}
}

// fitHistory keeps the newest turns that fit within maxTokens, preserving
// append order in the result.
func (b *Builder) fitHistory(history []*model.Turn, maxTokens int) ([]*model.Turn, int) {
	if len(history) == 0 {
		return nil, 0
	}
	var kept []*model.Turn
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		tt := b.codec.Count(t.Content)
		if total+tt > maxTokens {
			break
		}
		kept = append([]*model.Turn{t}, kept...)
		total += tt
	}
	return kept, total
}

// assemble folds background documents and summary into the system message
// and lays out history plus the current input after it.
func (b *Builder) assemble(systemPrompt, jd, resume, summary string, history []*model.Turn, userInput string) []*schema.Message {
	system := systemPrompt
	if jd != "" || resume != "" || summary != "" {
		var sb strings.Builder
		sb.WriteString(system)
		sb.WriteString("\n\n## 背景信息\n")
		if jd != "" {
			sb.WriteString("\n### 目标职位要求\n" + jd + "\n")
		}
		if resume != "" {
			sb.WriteString("\n### 用户简历\n" + resume + "\n")
		}
		if summary != "" {
			sb.WriteString("\n### 之前的对话摘要\n" + summary + "\n")
		}
		system = sb.String()
	}

	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(system))
	for _, t := range history {
		switch t.Role {
		case schema.Assistant:
			messages = append(messages, schema.AssistantMessage(t.Content, nil))
		default:
			messages = append(messages, schema.UserMessage(t.Content))
		}
	}
	messages = append(messages, schema.UserMessage(userInput))
	return messages
}

func (b *Builder) cachedSummary(sessionID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summaries[sessionID]
}

// summarize condenses the overflow turns into a cached summary. A
// successful result stays cached until the session is cleared; failures
// leave the cache empty so a later build can retry.
func (b *Builder) summarize(ctx context.Context, sessionID string, overflow []*model.Turn) string {
	if len(overflow) > summaryMaxTurns {
		overflow = overflow[:summaryMaxTurns]
	}
	var sb strings.Builder
	for _, t := range overflow {
		content := t.Content
		if runes := []rune(content); len(runes) > summaryTurnRunes {
			content = string(runes[:summaryTurnRunes]) + "..."
		}
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(content)
		sb.WriteString("\n")
	}

	msgs, err := prompts.RenderSummary(ctx, sb.String())
	if err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("Summary prompt render failed")
		return ""
	}
	reply, err := b.summarizer.Complete(ctx, msgs, model.GenerateOptions{
		Temperature: b.summaryCfg.Temperature,
		MaxTokens:   b.summaryCfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("Summary generation failed")
		return ""
	}

	summary := strings.TrimSpace(reply.Content)
	b.mu.Lock()
	b.summaries[sessionID] = summary
	b.mu.Unlock()
	logx.Info().Str("session_id", sessionID).Msg("Generated conversation summary")
	return summary
}

// Summary returns the cached summary for a session, empty when none.
func (b *Builder) Summary(sessionID string) string {
	return b.cachedSummary(sessionID)
}

// ClearSession drops the cached summary so the next overflow triggers a
// fresh summarization.
func (b *Builder) ClearSession(sessionID string) {
	b.mu.Lock()
	delete(b.summaries, sessionID)
	b.mu.Unlock()
}
