package generate

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interviewcoach/server/internal/agent/model"
	"github.com/interviewcoach/server/internal/agent/relay"
)

type fakeTranscriber struct {
	result *model.TranscriptResult
	err    error
	gotCtx model.TranscribeOptions
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, opts model.TranscribeOptions) (*model.TranscriptResult, error) {
	f.gotCtx = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeStreamer struct {
	chunks []string
	err    error
}

func (f *fakeStreamer) Complete(ctx context.Context, messages []*schema.Message, opts model.GenerateOptions) (*schema.Message, error) {
	return schema.AssistantMessage("", nil), nil
}

func (f *fakeStreamer) CompleteStream(ctx context.Context, messages []*schema.Message, opts model.GenerateOptions) (*schema.StreamReader[*schema.Message], error) {
	if f.err != nil {
		return nil, f.err
	}
	msgs := make([]*schema.Message, len(f.chunks))
	for i, c := range f.chunks {
		msgs[i] = schema.AssistantMessage(c, nil)
	}
	return schema.StreamReaderFromArray(msgs), nil
}

type memArtifacts struct {
	saved []*model.Artifact
	err   error
}

func (m *memArtifacts) Save(ctx context.Context, artifact *model.Artifact) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.saved = append(m.saved, artifact)
	return "art-1", nil
}

func newPractice(tr *fakeTranscriber, critic *fakeStreamer, arts *memArtifacts, r *relay.Relay) *PracticeGenerator {
	return NewPracticeGenerator(tr, critic, model.CritiqueModelConfig{MaxTokens: 2000, Temperature: 0.3}, r, arts)
}

func TestPractice_NoQuestionAsksForOne(t *testing.T) {
	g := newPractice(&fakeTranscriber{}, &fakeStreamer{}, &memArtifacts{}, relay.New())
	state := &model.SessionState{SessionID: "s1", Input: "好的", InputKind: model.InputText, Mode: model.ModePracticing}

	result, err := g.Generate(context.Background(), state)
	require.NoError(t, err)
	require.IsType(t, &model.AssistantReply{}, result.Reply)
	assert.Equal(t, model.ModeIdle, state.Mode)
}

func TestPractice_RequestWithSeedUsesFirstSeed(t *testing.T) {
	g := newPractice(&fakeTranscriber{}, &fakeStreamer{}, &memArtifacts{}, relay.New())
	state := &model.SessionState{
		SessionID:         "s1",
		Input:             "开始练习吧",
		InputKind:         model.InputText,
		PracticeQuestions: []string{"请介绍你自己", "你的优缺点"},
	}

	result, err := g.Generate(context.Background(), state)
	require.NoError(t, err)
	rs, ok := result.Reply.(*model.RecordingStart)
	require.True(t, ok)
	assert.Equal(t, "请介绍你自己", rs.Question)
	assert.Equal(t, model.ModePracticing, state.Mode)
	assert.Equal(t, "请介绍你自己", state.CurrentQuestion)
	assert.Equal(t, model.TurnRecordingPrompt, result.TurnKind)
}

func TestPractice_PendingQuestionPromptsRecording(t *testing.T) {
	g := newPractice(&fakeTranscriber{}, &fakeStreamer{}, &memArtifacts{}, relay.New())
	state := &model.SessionState{
		SessionID:       "s1",
		Input:           "我准备好了",
		InputKind:       model.InputText,
		Mode:            model.ModePracticing,
		CurrentQuestion: "为什么选择我们公司",
	}

	result, err := g.Generate(context.Background(), state)
	require.NoError(t, err)
	rs, ok := result.Reply.(*model.RecordingStart)
	require.True(t, ok)
	assert.Contains(t, rs.Content, "为什么选择我们公司")
}

func TestPractice_AudioFlow(t *testing.T) {
	tr := &fakeTranscriber{result: &model.TranscriptResult{
		Text: "我在上一家公司主导了订单系统重构。",
		Sentences: []model.TranscriptSentence{
			{Text: "我在上一家公司主导了订单系统重构。", BeginMS: 0, EndMS: 4200},
		},
	}}
	critic := &fakeStreamer{chunks: []string{"<analysis>结构清晰</analysis>", "<strengths>有结果</strengths>"}}
	arts := &memArtifacts{}
	r := relay.New()
	defer r.Close()

	var transcriptEvent *model.Transcription
	r.Register("s1", relay.EventTranscript, func(_ context.Context, payload model.Outbound) {
		transcriptEvent = payload.(*model.Transcription)
	})

	g := newPractice(tr, critic, arts, r)
	state := &model.SessionState{
		SessionID:       "s1",
		ProjectID:       "p1",
		JDText:          "负责后端开发",
		ResumeText:      "三年经验",
		InputKind:       model.InputAudio,
		AudioData:       base64.StdEncoding.EncodeToString([]byte("RIFF-fake-wav-bytes")),
		Mode:            model.ModePracticing,
		CurrentQuestion: "请介绍一个你主导的项目",
	}

	result, err := g.Generate(context.Background(), state)
	require.NoError(t, err)

	// The transcript event fires during Generate, before any critique
	// chunk can be streamed.
	require.NotNil(t, transcriptEvent)
	assert.Equal(t, tr.result.Text, transcriptEvent.Text)
	assert.Equal(t, "请介绍一个你主导的项目", transcriptEvent.Question)
	assert.Contains(t, tr.gotCtx.ContextText, "请介绍一个你主导的项目")
	assert.True(t, tr.gotCtx.PersistAudio)

	require.NotNil(t, result.Stream)
	assert.IsType(t, &model.FeedbackStreamStart{}, result.StreamOpen)
	assert.Equal(t, relay.EventFeedbackChunk, result.ChunkEvent)

	full := "<analysis>结构清晰</analysis><strengths>有结果</strengths>"
	end := result.OnComplete(context.Background(), full)
	fse, ok := end.(*model.FeedbackStreamEnd)
	require.True(t, ok)
	require.NotNil(t, fse.Critique)
	assert.Equal(t, "结构清晰", fse.Critique.Analysis)
	assert.Equal(t, "art-1", fse.ArtifactID)

	// Practice turn done: question cleared, mode back to idle.
	assert.Empty(t, state.CurrentQuestion)
	assert.Equal(t, model.ModeIdle, state.Mode)

	require.Len(t, arts.saved, 1)
	assert.Equal(t, tr.result.Text, arts.saved[0].Content)
	assert.Equal(t, "recording", arts.saved[0].Kind)
}

func TestPractice_EmptyTranscriptResetsQuestion(t *testing.T) {
	tr := &fakeTranscriber{result: &model.TranscriptResult{Text: "   "}}
	g := newPractice(tr, &fakeStreamer{}, &memArtifacts{}, relay.New())
	state := &model.SessionState{
		SessionID:       "s1",
		InputKind:       model.InputAudio,
		AudioData:       base64.StdEncoding.EncodeToString([]byte("RIFF")),
		Mode:            model.ModePracticing,
		CurrentQuestion: "自我介绍",
	}

	result, err := g.Generate(context.Background(), state)
	require.NoError(t, err)
	require.IsType(t, &model.ErrorReply{}, result.Reply)
	assert.Empty(t, state.CurrentQuestion)
	assert.Equal(t, model.ModeIdle, state.Mode)
}

func TestPractice_AudioWithoutQuestionErrors(t *testing.T) {
	g := newPractice(&fakeTranscriber{}, &fakeStreamer{}, &memArtifacts{}, relay.New())
	state := &model.SessionState{
		SessionID: "s1",
		InputKind: model.InputAudio,
		AudioData: base64.StdEncoding.EncodeToString([]byte("RIFF")),
	}

	result, err := g.Generate(context.Background(), state)
	require.NoError(t, err)
	assert.IsType(t, &model.ErrorReply{}, result.Reply)
}

func TestPractice_TranscriberFailureSurvivesTurn(t *testing.T) {
	tr := &fakeTranscriber{err: errors.New("asr down")}
	g := newPractice(tr, &fakeStreamer{}, &memArtifacts{}, relay.New())
	state := &model.SessionState{
		SessionID:       "s1",
		InputKind:       model.InputAudio,
		AudioData:       base64.StdEncoding.EncodeToString([]byte("RIFF")),
		CurrentQuestion: "自我介绍",
	}

	result, err := g.Generate(context.Background(), state)
	require.NoError(t, err)
	assert.IsType(t, &model.ErrorReply{}, result.Reply)
}

func TestPractice_ArtifactFailureLoggedOnly(t *testing.T) {
	tr := &fakeTranscriber{result: &model.TranscriptResult{Text: "回答内容"}}
	arts := &memArtifacts{err: errors.New("redis down")}
	g := newPractice(tr, &fakeStreamer{chunks: []string{"x"}}, arts, relay.New())
	state := &model.SessionState{
		SessionID:       "s1",
		ProjectID:       "p1",
		InputKind:       model.InputAudio,
		AudioData:       base64.StdEncoding.EncodeToString([]byte("RIFF")),
		CurrentQuestion: "自我介绍",
	}

	result, err := g.Generate(context.Background(), state)
	require.NoError(t, err)
	end := result.OnComplete(context.Background(), "<analysis>a</analysis>")
	fse := end.(*model.FeedbackStreamEnd)
	assert.Empty(t, fse.ArtifactID)
}
