package generate

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/interviewcoach/server/internal/agent/budget"
	"github.com/interviewcoach/server/internal/agent/model"
	"github.com/interviewcoach/server/internal/agent/prompts"
	"github.com/interviewcoach/server/internal/agent/relay"
	logx "github.com/interviewcoach/server/pkg/logger"
)

const (
	replyNeedResume = "请先上传你的简历，我才能帮你进行优化。你可以在项目设置中上传简历文件。"

	noQuestionPlaceholder = "（用户未指定具体问题）"
	noResumeScript        = "（未提供简历，将生成通用回答框架）"
	noJDPlaceholder       = "（未提供职位描述）"

	// scriptResumeRunes clips the resume embedded in the script-writing
	// prompt.
	scriptResumeRunes = 3000
)

// AdvisoryGenerator answers the free-form coaching intents with a token
// stream. Answer optimization and script writing produce save-eligible
// content marked by tags; interview chat runs on the budgeted history.
type AdvisoryGenerator struct {
	responder   model.TextGenerator
	responseCfg model.ResponseModelConfig
	builder     *budget.Builder
	ledger      model.TurnLedger
}

func NewAdvisoryGenerator(responder model.TextGenerator, responseCfg model.ResponseModelConfig, builder *budget.Builder, ledger model.TurnLedger) *AdvisoryGenerator {
	return &AdvisoryGenerator{
		responder:   responder,
		responseCfg: responseCfg,
		builder:     builder,
		ledger:      ledger,
	}
}

var _ Generator = (*AdvisoryGenerator)(nil)

var advisoryIntents = map[model.Intent]bool{
	model.IntentAnswerOptimization: true,
	model.IntentScriptWriting:      true,
	model.IntentResumeOptimization: true,
	model.IntentInterviewChat:      true,
}

func (g *AdvisoryGenerator) Generate(ctx context.Context, state *model.SessionState) (*Result, error) {
	intent := state.Intent
	if !advisoryIntents[intent] {
		logx.Warn().
			Str("session_id", state.SessionID).
			Str("intent", string(intent)).
			Msg("Unexpected advisory intent, using interview_chat")
		intent = model.IntentInterviewChat
		state.Intent = intent
	}

	if intent == model.IntentResumeOptimization && state.ResumeText == "" {
		state.SaveArtifact = false
		return &Result{
			Reply:    &model.AssistantReply{Content: replyNeedResume},
			TurnKind: model.TurnChat,
		}, nil
	}

	state.SaveArtifact = intent == model.IntentAnswerOptimization || intent == model.IntentScriptWriting

	msgs, err := g.buildMessages(ctx, intent, state)
	if err != nil {
		return nil, err
	}

	stream, err := g.responder.CompleteStream(ctx, msgs, model.GenerateOptions{
		Temperature: g.responseCfg.Temperature,
		MaxTokens:   g.responseCfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Str("session_id", state.SessionID).Msg("Advisory stream failed to start")
		return &Result{
			Reply:    &model.ErrorReply{Message: "处理失败，请稍后重试。"},
			TurnKind: model.TurnChat,
		}, nil
	}

	question := g.question(state)
	saveEligible := state.SaveArtifact
	projectID := state.ProjectID
	return &Result{
		TurnKind:   model.TurnChat,
		Stream:     stream,
		StreamOpen: &model.StreamStart{},
		ChunkEvent: relay.EventStreamChunk,
		ChunkEnvelope: func(delta string) model.Outbound {
			return &model.StreamChunk{Content: delta}
		},
		OnComplete: func(ctx context.Context, full string) model.Outbound {
			end := &model.StreamEnd{FullContent: full}
			if saveEligible {
				if content := ExtractSaveContent(full); content != "" {
					end.SaveTarget = &model.PendingSave{
						Question:  question,
						Content:   content,
						ProjectID: projectID,
					}
				}
			}
			return end
		},
	}, nil
}

// question resolves the interview question for this turn: a referenced
// earlier exchange wins over the router's extraction.
func (g *AdvisoryGenerator) question(state *model.SessionState) string {
	if state.Context != nil && state.Context.Question != "" {
		return state.Context.Question
	}
	return state.ExtractedQuestion
}

func (g *AdvisoryGenerator) buildMessages(ctx context.Context, intent model.Intent, state *model.SessionState) ([]*schema.Message, error) {
	question := g.question(state)

	if intent == model.IntentInterviewChat {
		return g.buildChatMessages(ctx, state, question)
	}

	vars := prompts.AdvisoryVars{
		Question:   question,
		UserInput:  state.Input,
		ResumeText: orNone(state.ResumeText),
		JDText:     orNone(state.JDText),
	}
	withReference := false

	switch intent {
	case model.IntentAnswerOptimization:
		if vars.Question == "" {
			vars.Question = noQuestionPlaceholder
		}
		vars.OriginalAnswer = state.Input
		if state.Context != nil && state.Context.OriginalTranscript != "" {
			withReference = true
			vars.OriginalTranscript = state.Context.OriginalTranscript
			vars.UserEdit = state.Input
		}
	case model.IntentScriptWriting:
		if vars.Question == "" {
			vars.Question = state.Input
		}
		if state.ResumeText == "" {
			vars.ResumeText = noResumeScript
		} else {
			vars.ResumeText = clipRunes(state.ResumeText, scriptResumeRunes)
		}
		if state.JDText == "" {
			vars.JDText = noJDPlaceholder
		}
	}

	userPrompt, err := prompts.RenderAdvisory(ctx, intent, withReference, vars)
	if err != nil {
		return nil, err
	}

	// The intent templates carry the background documents themselves;
	// the budgeter only accounts for the pair.
	result := g.builder.Build(ctx, budget.BuildInput{
		SessionID:    state.SessionID,
		SystemPrompt: prompts.ChatSystem(),
		UserInput:    userPrompt,
	})
	state.Summary = result.Summary
	state.TokenUsage = result.TokenUsage
	return result.Messages, nil
}

// buildChatMessages assembles the interview_chat context: budgeted
// background documents, summary, and conversation history. When the
// router extracted a concrete question, the research prompt replaces the
// raw input.
func (g *AdvisoryGenerator) buildChatMessages(ctx context.Context, state *model.SessionState, question string) ([]*schema.Message, error) {
	userInput := state.Input
	jd, resume := state.JDText, state.ResumeText

	if question == "" {
		question = fallbackExtractQuestion(state.Input)
	}
	if question != "" {
		rendered, err := prompts.RenderAdvisory(ctx, model.IntentInterviewChat, false, prompts.AdvisoryVars{
			Question:   question,
			ResumeText: orNone(resume),
			JDText:     orNone(jd),
		})
		if err != nil {
			return nil, err
		}
		userInput = rendered
		// The research prompt embeds the documents already.
		jd, resume = "", ""
	}

	history, err := g.ledger.History(ctx, state.SessionID)
	if err != nil {
		logx.Warn().Err(err).Str("session_id", state.SessionID).Msg("History load failed, continuing without it")
		history = nil
	}

	result := g.builder.Build(ctx, budget.BuildInput{
		SessionID:       state.SessionID,
		SystemPrompt:    prompts.ChatSystem(),
		UserInput:       userInput,
		JDText:          jd,
		ResumeText:      resume,
		History:         history,
		ExistingSummary: state.Summary,
	})
	state.Summary = result.Summary
	state.TokenUsage = result.TokenUsage
	return result.Messages, nil
}

// fallbackExtractQuestion recovers a question from phrasings like
// 「怎么回答…」 when the router did not extract one.
func fallbackExtractQuestion(input string) string {
	for _, marker := range []string{"怎么回答", "如何回答", "分析一下", "这个问题"} {
		if idx := strings.Index(input, marker); idx >= 0 {
			q := strings.TrimSpace(input[idx+len(marker):])
			return strings.Trim(q, "：:？?")
		}
	}
	return ""
}
