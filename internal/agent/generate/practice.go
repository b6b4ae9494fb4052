package generate

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/interviewcoach/server/internal/agent/model"
	"github.com/interviewcoach/server/internal/agent/prompts"
	"github.com/interviewcoach/server/internal/agent/relay"
	logx "github.com/interviewcoach/server/pkg/logger"
)

const (
	replyAskForQuestion = "请告诉我你想练习的面试问题，比如「我想练习自我介绍」或「请介绍一个你主导的项目」。"
	replySuggestions    = "好的，请告诉我你想练习的具体面试问题，比如：\n\n- 请介绍一个你主导的项目\n- 你最大的优点和缺点是什么\n- 为什么选择我们公司\n\n或者直接说出你想练习的问题。"
	replyNoQuestion     = "请先选择要练习的问题。"
	replyEmptyTranscript = "未能识别到语音内容，请重新录音。"

	// contextExcerptRunes clips resume and JD excerpts fed to the
	// transcriber as vocabulary bias.
	contextExcerptRunes = 2000
)

var practiceKeywords = []string{"练习", "模拟", "开始", "录音", "语音"}

var questionIndicators = []string{"请", "介绍", "说说", "谈谈", "为什么", "如何", "怎么", "什么"}

var questionPrefixes = []string{"练习：", "练习:", "我想练习", "帮我练习"}

// PracticeGenerator drives the guided audio-practice flow:
// question → recording prompt → transcription → streamed critique.
type PracticeGenerator struct {
	transcriber model.Transcriber
	critic      model.TextGenerator
	critiqueCfg model.CritiqueModelConfig
	relay       *relay.Relay
	artifacts   model.ArtifactStore
}

func NewPracticeGenerator(transcriber model.Transcriber, critic model.TextGenerator, critiqueCfg model.CritiqueModelConfig, r *relay.Relay, artifacts model.ArtifactStore) *PracticeGenerator {
	return &PracticeGenerator{
		transcriber: transcriber,
		critic:      critic,
		critiqueCfg: critiqueCfg,
		relay:       r,
		artifacts:   artifacts,
	}
}

var _ Generator = (*PracticeGenerator)(nil)

func (g *PracticeGenerator) Generate(ctx context.Context, state *model.SessionState) (*Result, error) {
	if state.InputKind == model.InputAudio && state.AudioData != "" {
		return g.processAudio(ctx, state)
	}

	if state.CurrentQuestion != "" {
		return g.startRecording(state, state.CurrentQuestion), nil
	}

	if isPracticeRequest(state.Input) {
		if len(state.PracticeQuestions) > 0 {
			return g.startRecording(state, state.PracticeQuestions[0]), nil
		}
		state.Mode = model.ModeIdle
		return &Result{
			Reply:    &model.AssistantReply{Content: replySuggestions},
			TurnKind: model.TurnChat,
		}, nil
	}

	if q := extractQuestion(state.Input); q != "" {
		return g.startRecording(state, q), nil
	}

	state.Mode = model.ModeIdle
	return &Result{
		Reply:    &model.AssistantReply{Content: replyAskForQuestion},
		TurnKind: model.TurnChat,
	}, nil
}

func (g *PracticeGenerator) startRecording(state *model.SessionState, question string) *Result {
	state.CurrentQuestion = question
	state.Mode = model.ModePracticing
	content := fmt.Sprintf("好的，让我们练习这道题：\n\n**%s**\n\n请点击录音按钮开始回答。", question)
	return &Result{
		Reply:    &model.RecordingStart{Content: content, Question: question},
		TurnKind: model.TurnRecordingPrompt,
	}
}

func (g *PracticeGenerator) processAudio(ctx context.Context, state *model.SessionState) (*Result, error) {
	question := state.CurrentQuestion
	if question == "" {
		return &Result{
			Reply:    &model.ErrorReply{Message: replyNoQuestion},
			TurnKind: model.TurnChat,
		}, nil
	}

	audio, err := base64.StdEncoding.DecodeString(state.AudioData)
	if err != nil || len(audio) == 0 {
		logx.Error().Err(err).Str("session_id", state.SessionID).Msg("Audio decode failed")
		return &Result{
			Reply:    &model.ErrorReply{Message: "音频数据无效，请重新录音。"},
			TurnKind: model.TurnChat,
		}, nil
	}

	logx.Info().
		Str("session_id", state.SessionID).
		Int("audio_bytes", len(audio)).
		Str("format", sniffAudioFormat(audio)).
		Msg("Processing practice audio")

	result, err := g.transcriber.Transcribe(ctx, audio, model.TranscribeOptions{
		Language:     "zh",
		ContextText:  buildContextText(state.ResumeText, state.JDText, question),
		PersistAudio: true,
	})
	if err != nil {
		logx.Error().Err(err).Str("session_id", state.SessionID).Msg("Transcription failed")
		return &Result{
			Reply:    &model.ErrorReply{Message: "处理失败，请稍后重试。"},
			TurnKind: model.TurnChat,
		}, nil
	}
	if strings.TrimSpace(result.Text) == "" {
		state.CurrentQuestion = ""
		state.Mode = model.ModeIdle
		return &Result{
			Reply:    &model.ErrorReply{Message: replyEmptyTranscript},
			TurnKind: model.TurnChat,
		}, nil
	}
	transcript := result.Text

	// The transcript goes out now so the client can render it while the
	// slower critique runs.
	g.relay.Invoke(ctx, state.SessionID, relay.EventTranscript, &model.Transcription{
		Text:      transcript,
		Sentences: result.Sentences,
		AudioRef:  result.AudioRef,
		Question:  question,
	})

	msgs, err := prompts.RenderCritique(ctx, prompts.CritiqueVars{
		Question:   question,
		Answer:     transcript,
		ResumeText: orNone(state.ResumeText),
		JDText:     orNone(state.JDText),
	})
	if err != nil {
		return nil, err
	}
	stream, err := g.critic.CompleteStream(ctx, msgs, model.GenerateOptions{
		Temperature: g.critiqueCfg.Temperature,
		MaxTokens:   g.critiqueCfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Str("session_id", state.SessionID).Msg("Critique stream failed to start")
		return &Result{
			Reply:    &model.ErrorReply{Message: "处理失败，请稍后重试。"},
			TurnKind: model.TurnChat,
		}, nil
	}

	sessionID := state.SessionID
	projectID := state.ProjectID
	return &Result{
		TurnKind:   model.TurnFeedback,
		Stream:     stream,
		StreamOpen: &model.FeedbackStreamStart{},
		ChunkEvent: relay.EventFeedbackChunk,
		ChunkEnvelope: func(delta string) model.Outbound {
			return &model.FeedbackChunk{Content: delta}
		},
		OnComplete: func(ctx context.Context, full string) model.Outbound {
			critique := ParseCritique(full)
			artifactID := g.saveArtifact(ctx, projectID, question, transcript, critique)
			state.CurrentQuestion = ""
			state.Mode = model.ModeIdle
			logx.Info().
				Str("session_id", sessionID).
				Str("artifact_id", artifactID).
				Msg("Practice turn complete")
			return &model.FeedbackStreamEnd{
				Content:    full,
				Critique:   critique,
				ArtifactID: artifactID,
			}
		},
	}, nil
}

// saveArtifact persists the transcript as a recording artifact. Failures
// never fail the turn.
func (g *PracticeGenerator) saveArtifact(ctx context.Context, projectID, question, transcript string, critique *model.Critique) string {
	if projectID == "" || critique == nil {
		return ""
	}
	id, err := g.artifacts.Save(ctx, &model.Artifact{
		ProjectID: projectID,
		Question:  question,
		Content:   transcript,
		Kind:      "recording",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		logx.Error().Err(err).Str("project_id", projectID).Msg("Artifact save failed")
		return ""
	}
	return id
}

func isPracticeRequest(input string) bool {
	for _, kw := range practiceKeywords {
		if strings.Contains(input, kw) {
			return true
		}
	}
	return false
}

// extractQuestion pulls an interview question out of free text, stripping
// request prefixes like 「我想练习」.
func extractQuestion(input string) string {
	matched := false
	for _, ind := range questionIndicators {
		if strings.Contains(input, ind) {
			matched = true
			break
		}
	}
	if !matched {
		return ""
	}
	question := strings.TrimSpace(input)
	for _, prefix := range questionPrefixes {
		if strings.HasPrefix(question, prefix) {
			question = strings.TrimSpace(strings.TrimPrefix(question, prefix))
		}
	}
	return question
}

// sniffAudioFormat identifies the container from its magic bytes.
func sniffAudioFormat(audio []byte) string {
	switch {
	case len(audio) >= 4 && bytes.Equal(audio[:4], []byte("RIFF")):
		return "WAV"
	case len(audio) >= 4 && bytes.Equal(audio[:4], []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return "WebM"
	case len(audio) >= 3 && bytes.Equal(audio[:3], []byte("ID3")):
		return "MP3"
	case len(audio) >= 2 && bytes.Equal(audio[:2], []byte{0xff, 0xfb}):
		return "MP3"
	default:
		return "unknown"
	}
}

// buildContextText assembles the vocabulary-bias text handed to the
// transcriber.
func buildContextText(resumeText, jdText, question string) string {
	var parts []string
	if resumeText != "" {
		parts = append(parts, "面试候选人背景：\n"+clipRunes(resumeText, contextExcerptRunes))
	}
	if jdText != "" {
		parts = append(parts, "目标职位要求：\n"+clipRunes(jdText, contextExcerptRunes))
	}
	if question != "" {
		parts = append(parts, "面试问题：\n"+question)
	}
	return strings.Join(parts, "\n\n")
}

func clipRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func orNone(s string) string {
	if s == "" {
		return "无"
	}
	return s
}
