package budget

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interviewcoach/server/internal/agent/model"
)

// runeCodec counts one token per rune for deterministic arithmetic.
type runeCodec struct{}

func (runeCodec) Count(text string) int { return len([]rune(text)) }

func (runeCodec) Truncate(text string, maxTokens int) string {
	runes := []rune(text)
	if len(runes) <= maxTokens {
		return text
	}
	return string(runes[:maxTokens])
}

type fakeSummarizer struct {
	calls   atomic.Int64
	summary string
	err     error
}

func (f *fakeSummarizer) Complete(ctx context.Context, messages []*schema.Message, opts model.GenerateOptions) (*schema.Message, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.summary, nil), nil
}

func (f *fakeSummarizer) CompleteStream(ctx context.Context, messages []*schema.Message, opts model.GenerateOptions) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(f.summary, nil)}), nil
}

func testConfig() (model.BudgetConfig, model.ConversationConfig) {
	budgetCfg := model.BudgetConfig{
		Total:        1000,
		SystemPrompt: 100,
		JDMax:        200,
		ResumeMax:    200,
		SummaryMax:   100,
		HistoryMin:   100,
		CurrentInput: 50,
	}
	var conv model.ConversationConfig
	conv.History.MaxRounds = 10
	conv.History.SummaryTriggerRounds = 10
	return budgetCfg, conv
}

func newTestBuilder(s *fakeSummarizer) *Builder {
	budgetCfg, conv := testConfig()
	return NewBuilder(runeCodec{}, s, budgetCfg, model.SummaryModelConfig{MaxTokens: 500, Temperature: 0.3}, conv)
}

func TestBuild_NeverExceedsTotal(t *testing.T) {
	b := newTestBuilder(&fakeSummarizer{summary: "摘要"})

	var history []*model.Turn
	for i := 0; i < 40; i++ {
		history = append(history, model.UserTurn(strings.Repeat("问", 50), model.TurnChat))
		history = append(history, model.AssistantTurn(strings.Repeat("答", 50), model.TurnChat))
	}

	result := b.Build(context.Background(), BuildInput{
		SessionID:    "s1",
		SystemPrompt: strings.Repeat("系", 80),
		UserInput:    strings.Repeat("入", 40),
		JDText:       strings.Repeat("职", 500),
		ResumeText:   strings.Repeat("历", 500),
		History:      history,
	})

	total := 0
	for _, v := range result.TokenUsage {
		total += v
	}
	budgetCfg, _ := testConfig()
	// History may claim its guaranteed minimum even when the rest of the
	// budget is exhausted; everything else stays within Total.
	assert.LessOrEqual(t, total, budgetCfg.Total+budgetCfg.HistoryMin)
	assert.True(t, result.Truncated["jd"])
	assert.True(t, result.Truncated["resume"])
	assert.LessOrEqual(t, result.TokenUsage["jd"], budgetCfg.JDMax)
	assert.LessOrEqual(t, result.TokenUsage["resume"], budgetCfg.ResumeMax)
}

func TestBuild_KeywordParagraphsSurviveTruncation(t *testing.T) {
	b := newTestBuilder(&fakeSummarizer{})

	filler := strings.Repeat("公司福利介绍。", 40)
	jd := filler + "\n\n岗位职责：负责后端服务开发。\n\n" + filler

	result := b.Build(context.Background(), BuildInput{
		SessionID:    "s1",
		SystemPrompt: "系统",
		UserInput:    "输入",
		JDText:       jd,
	})

	require.True(t, result.Truncated["jd"])
	assert.Contains(t, result.JDText, "岗位职责")
}

func TestBuild_HistoryNewestFirst(t *testing.T) {
	b := newTestBuilder(&fakeSummarizer{})

	var history []*model.Turn
	for i := 0; i < 10; i++ {
		history = append(history, model.UserTurn(fmt.Sprintf("第%d条 %s", i, strings.Repeat("长", 30)), model.TurnChat))
	}

	result := b.Build(context.Background(), BuildInput{
		SessionID:    "s1",
		SystemPrompt: strings.Repeat("系", 700),
		UserInput:    strings.Repeat("入", 100),
		History:      history,
	})

	require.True(t, result.Truncated["history"])
	require.NotEmpty(t, result.History)
	// The newest turn always survives; the oldest is dropped first.
	assert.Contains(t, result.History[len(result.History)-1].Content, "第9条")
	assert.NotContains(t, result.History[0].Content, "第0条")
}

func TestBuild_SummaryTriggeredOnceAndCached(t *testing.T) {
	s := &fakeSummarizer{summary: "用户练习了自我介绍，表达流畅但缺少量化结果。"}
	b := newTestBuilder(s)

	// 12 rounds beats the 10-round trigger.
	var history []*model.Turn
	for i := 0; i < 12; i++ {
		history = append(history, model.UserTurn("问题", model.TurnChat))
		history = append(history, model.AssistantTurn("回答", model.TurnChat))
	}

	in := BuildInput{
		SessionID:    "s1",
		SystemPrompt: "系统",
		UserInput:    "输入",
		History:      history,
	}

	first := b.Build(context.Background(), in)
	assert.Equal(t, s.summary, first.Summary)
	assert.Equal(t, int64(1), s.calls.Load())

	// The cached summary is reused, no second call.
	second := b.Build(context.Background(), in)
	assert.Equal(t, s.summary, second.Summary)
	assert.Equal(t, int64(1), s.calls.Load())

	// Clearing the session allows a fresh summarization.
	b.ClearSession("s1")
	b.Build(context.Background(), in)
	assert.Equal(t, int64(2), s.calls.Load())
}

func TestBuild_SummaryFailureDegrades(t *testing.T) {
	s := &fakeSummarizer{err: fmt.Errorf("model unavailable")}
	b := newTestBuilder(s)

	var history []*model.Turn
	for i := 0; i < 12; i++ {
		history = append(history, model.UserTurn("问题", model.TurnChat))
		history = append(history, model.AssistantTurn("回答", model.TurnChat))
	}

	result := b.Build(context.Background(), BuildInput{
		SessionID:    "s1",
		SystemPrompt: "系统",
		UserInput:    "输入",
		History:      history,
	})

	assert.Empty(t, result.Summary)
	assert.Equal(t, 0, result.TokenUsage["summary"])
}

func TestBuild_BackgroundFoldedIntoSystemMessage(t *testing.T) {
	b := newTestBuilder(&fakeSummarizer{})

	result := b.Build(context.Background(), BuildInput{
		SessionID:    "s1",
		SystemPrompt: "你是面试教练。",
		UserInput:    "你好",
		JDText:       "负责后端开发",
		ResumeText:   "三年经验",
	})

	require.NotEmpty(t, result.Messages)
	system := result.Messages[0]
	assert.Equal(t, schema.System, system.Role)
	assert.Contains(t, system.Content, "负责后端开发")
	assert.Contains(t, system.Content, "三年经验")

	last := result.Messages[len(result.Messages)-1]
	assert.Equal(t, schema.User, last.Role)
	assert.Equal(t, "你好", last.Content)
}
