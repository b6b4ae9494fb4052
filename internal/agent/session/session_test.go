package session

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interviewcoach/server/internal/agent/budget"
	"github.com/interviewcoach/server/internal/agent/exec"
	"github.com/interviewcoach/server/internal/agent/generate"
	"github.com/interviewcoach/server/internal/agent/model"
	"github.com/interviewcoach/server/internal/agent/relay"
	"github.com/interviewcoach/server/internal/agent/router"
	"github.com/interviewcoach/server/internal/agent/tokens"
)

// scriptedModel replays canned replies for Complete and streams canned
// chunks (or a caller-held pipe) for CompleteStream.
type scriptedModel struct {
	replies []string
	chunks  []string
	stream  *schema.StreamReader[*schema.Message]
}

func (s *scriptedModel) Complete(ctx context.Context, messages []*schema.Message, opts model.GenerateOptions) (*schema.Message, error) {
	if len(s.replies) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return schema.AssistantMessage(reply, nil), nil
}

func (s *scriptedModel) CompleteStream(ctx context.Context, messages []*schema.Message, opts model.GenerateOptions) (*schema.StreamReader[*schema.Message], error) {
	if s.stream != nil {
		return s.stream, nil
	}
	msgs := make([]*schema.Message, len(s.chunks))
	for i, c := range s.chunks {
		msgs[i] = schema.AssistantMessage(c, nil)
	}
	return schema.StreamReaderFromArray(msgs), nil
}

type stubTranscriber struct {
	text string
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audio []byte, opts model.TranscribeOptions) (*model.TranscriptResult, error) {
	return &model.TranscriptResult{Text: s.text}, nil
}

type memLedger struct {
	mu    sync.Mutex
	turns map[string][]*model.Turn
}

func newMemLedger() *memLedger {
	return &memLedger{turns: make(map[string][]*model.Turn)}
}

func (m *memLedger) Append(_ context.Context, sessionID string, turn *model.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[sessionID] = append(m.turns[sessionID], turn)
	return nil
}

func (m *memLedger) History(_ context.Context, sessionID string) ([]*model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Turn(nil), m.turns[sessionID]...), nil
}

func (m *memLedger) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, sessionID)
	return nil
}

func (m *memLedger) Count(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns[sessionID]), nil
}

type nopArtifacts struct{}

func (nopArtifacts) Save(context.Context, *model.Artifact) (string, error) { return "art-1", nil }

type harness struct {
	manager    *Manager
	ledger     *memLedger
	controller *exec.Controller
	relay      *relay.Relay
}

func newHarness(t *testing.T, classifier, critic, responder model.TextGenerator, transcriber model.Transcriber) *harness {
	t.Helper()

	r := relay.New()
	t.Cleanup(func() { r.Close() })

	ledger := newMemLedger()
	builder := budget.NewBuilder(
		tokens.NewCharEstimator(),
		&scriptedModel{},
		model.BudgetConfig{Total: 16000, SystemPrompt: 1000, JDMax: 4000, ResumeMax: 4000, SummaryMax: 1000, HistoryMin: 2000, CurrentInput: 500},
		model.SummaryModelConfig{MaxTokens: 500},
		model.ConversationConfig{},
	)
	controller := exec.NewController(exec.NewFlags())

	deps := Deps{
		Router: router.New(classifier, model.RouterModelConfig{MaxTokens: 1000, Temperature: 0.1}, 6),
		Practice: generate.NewPracticeGenerator(
			transcriber, critic, model.CritiqueModelConfig{MaxTokens: 2000, Temperature: 0.3}, r, nopArtifacts{},
		),
		Advisory:   generate.NewAdvisoryGenerator(responder, model.ResponseModelConfig{MaxTokens: 2000, Temperature: 0.7}, builder, ledger),
		Controller: controller,
		Relay:      r,
		Ledger:     ledger,
	}

	manager := NewManager(context.Background(), deps, builder)
	t.Cleanup(manager.Shutdown)
	return &harness{manager: manager, ledger: ledger, controller: controller, relay: r}
}

func nextOutbound(t *testing.T, ch <-chan model.Outbound) model.Outbound {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outbound envelope")
		return nil
	}
}

func TestActor_PracticeRequestStartsRecording(t *testing.T) {
	classifier := &scriptedModel{replies: []string{
		`{"intent":"voice_practice","target":"practice","extracted_question":"自我介绍","reasoning":"练习请求"}`,
	}}
	h := newHarness(t, classifier, &scriptedModel{}, &scriptedModel{}, &stubTranscriber{})

	actor, err := h.manager.Open(Settings{SessionID: "s-a", ProjectID: "p1"})
	require.NoError(t, err)
	require.True(t, actor.Submit(&model.Inbound{Type: model.InboundMessage, Content: "我想练习自我介绍"}))

	out := nextOutbound(t, actor.Outbound())
	rs, ok := out.(*model.RecordingStart)
	require.True(t, ok, "expected recording_start, got %s", out.Kind())
	assert.Equal(t, "自我介绍", rs.Question)

	// The user turn and the recording prompt are both in the ledger.
	require.Eventually(t, func() bool {
		turns, _ := h.ledger.History(context.Background(), "s-a")
		return len(turns) == 2
	}, 5*time.Second, 10*time.Millisecond)
	turns, _ := h.ledger.History(context.Background(), "s-a")
	assert.Equal(t, schema.User, turns[0].Role)
	assert.Equal(t, "我想练习自我介绍", turns[0].Content)
	assert.Equal(t, model.TurnRecordingPrompt, turns[1].Kind)
}

func TestActor_AudioAnswerTranscriptThenCritique(t *testing.T) {
	critic := &scriptedModel{chunks: []string{"<analysis>结构完整", "</analysis>", "<strengths>具体</strengths>"}}
	h := newHarness(t, &scriptedModel{}, critic, &scriptedModel{}, &stubTranscriber{text: "我叫李雷，三年后端经验。"})

	actor, err := h.manager.Open(Settings{SessionID: "s-b", ProjectID: "p1", ResumeText: "三年经验"})
	require.NoError(t, err)
	ch := actor.Outbound()

	// Seed the pending question, then answer it with audio.
	require.True(t, actor.Submit(&model.Inbound{Type: model.InboundStartPractice, Question: "自我介绍"}))
	out := nextOutbound(t, ch)
	require.IsType(t, &model.RecordingStart{}, out)

	audio := base64.StdEncoding.EncodeToString([]byte("RIFF-wav"))
	require.True(t, actor.Submit(&model.Inbound{Type: model.InboundSubmitAudio, AudioData: audio}))

	// The transcript always lands before any critique output.
	out = nextOutbound(t, ch)
	tr, ok := out.(*model.Transcription)
	require.True(t, ok, "expected transcription, got %s", out.Kind())
	assert.Equal(t, "我叫李雷，三年后端经验。", tr.Text)
	assert.Equal(t, "自我介绍", tr.Question)

	out = nextOutbound(t, ch)
	require.IsType(t, &model.FeedbackStreamStart{}, out)

	var full string
	for {
		out = nextOutbound(t, ch)
		if chunk, ok := out.(*model.FeedbackChunk); ok {
			full += chunk.Content
			continue
		}
		break
	}
	end, ok := out.(*model.FeedbackStreamEnd)
	require.True(t, ok, "expected feedback_stream_end, got %s", out.Kind())
	assert.Equal(t, full, end.Content)
	require.NotNil(t, end.Critique)
	assert.Equal(t, "结构完整", end.Critique.Analysis)
	assert.Equal(t, "art-1", end.ArtifactID)

	// Ledger: voice answer recorded as the transcript placeholder turn,
	// critique as the feedback turn.
	turns, _ := h.ledger.History(context.Background(), "s-b")
	require.Len(t, turns, 4)
	assert.Equal(t, model.TurnVoiceAnswer, turns[2].Kind)
	assert.Equal(t, model.TurnFeedback, turns[3].Kind)
}

func TestActor_CancelMidStreamReportsExactPartial(t *testing.T) {
	sr, sw := schema.Pipe[*schema.Message](1)
	classifier := &scriptedModel{replies: []string{
		`{"intent":"interview_chat","target":"advisory","reasoning":"咨询"}`,
	}}
	responder := &scriptedModel{stream: sr}
	h := newHarness(t, classifier, &scriptedModel{}, responder, &stubTranscriber{})

	actor, err := h.manager.Open(Settings{SessionID: "s-c"})
	require.NoError(t, err)
	ch := actor.Outbound()

	require.True(t, actor.Submit(&model.Inbound{Type: model.InboundMessage, Content: "面试紧张怎么办"}))

	out := nextOutbound(t, ch)
	require.IsType(t, &model.StreamStart{}, out)

	want := ""
	for i, c := range []string{"一", "二", "三", "四", "五"} {
		sw.Send(schema.AssistantMessage(c, nil), nil)
		out = nextOutbound(t, ch)
		chunk, ok := out.(*model.StreamChunk)
		require.True(t, ok, "chunk %d: got %s", i, out.Kind())
		want += chunk.Content
	}
	require.Equal(t, "一二三四五", want)

	// Cancel, wait for the flag to land, then let a sixth chunk through.
	// It must not appear in the reported partial.
	require.True(t, actor.Submit(&model.Inbound{Type: model.InboundCancel}))
	require.Eventually(t, func() bool {
		return h.controller.Flags().IsSet("s-c")
	}, 5*time.Second, time.Millisecond)
	sw.Send(schema.AssistantMessage("六", nil), nil)
	sw.Close()

	out = nextOutbound(t, ch)
	cancelled, ok := out.(*model.GenerationCancelled)
	require.True(t, ok, "expected generation_cancelled, got %s", out.Kind())
	assert.Equal(t, "一二三四五", cancelled.PartialContent)

	// The partial is persisted as the assistant turn.
	require.Eventually(t, func() bool {
		turns, _ := h.ledger.History(context.Background(), "s-c")
		return len(turns) == 2
	}, 5*time.Second, 10*time.Millisecond)
	turns, _ := h.ledger.History(context.Background(), "s-c")
	assert.Equal(t, "一二三四五", turns[1].Content)
}

func TestActor_NewMessagePreemptsInFlightStream(t *testing.T) {
	sr, sw := schema.Pipe[*schema.Message](1)
	classifier := &scriptedModel{replies: []string{
		`{"intent":"interview_chat","target":"advisory","reasoning":"咨询"}`,
		`{"intent":"general","target":"none","response":"好的，换个话题。","reasoning":"问候"}`,
	}}
	responder := &scriptedModel{stream: sr}
	h := newHarness(t, classifier, &scriptedModel{}, responder, &stubTranscriber{})

	actor, err := h.manager.Open(Settings{SessionID: "s-pre"})
	require.NoError(t, err)
	ch := actor.Outbound()

	require.True(t, actor.Submit(&model.Inbound{Type: model.InboundMessage, Content: "面试紧张怎么办"}))

	out := nextOutbound(t, ch)
	require.IsType(t, &model.StreamStart{}, out)

	for _, c := range []string{"一", "二", "三"} {
		sw.Send(schema.AssistantMessage(c, nil), nil)
		out = nextOutbound(t, ch)
		require.IsType(t, &model.StreamChunk{}, out)
	}

	// A new message mid-stream preempts the running turn; the cancelled
	// envelope with the exact partial must land before anything from the
	// new turn.
	require.True(t, actor.Submit(&model.Inbound{Type: model.InboundMessage, Content: "你好"}))
	require.Eventually(t, func() bool {
		return h.controller.Flags().IsSet("s-pre")
	}, 5*time.Second, time.Millisecond)
	sw.Send(schema.AssistantMessage("四", nil), nil)
	sw.Close()

	out = nextOutbound(t, ch)
	cancelled, ok := out.(*model.GenerationCancelled)
	require.True(t, ok, "expected generation_cancelled before the new turn, got %s", out.Kind())
	assert.Equal(t, "一二三", cancelled.PartialContent)

	out = nextOutbound(t, ch)
	reply, ok := out.(*model.AssistantReply)
	require.True(t, ok, "expected the new turn's reply, got %s", out.Kind())
	assert.Equal(t, "好的，换个话题。", reply.Content)
}

func TestActor_CancelPracticeSurvivesInFlightTurn(t *testing.T) {
	sr, sw := schema.Pipe[*schema.Message](1)
	critic := &scriptedModel{stream: sr}
	h := newHarness(t, &scriptedModel{}, critic, &scriptedModel{}, &stubTranscriber{text: "我的回答"})

	actor, err := h.manager.Open(Settings{SessionID: "s-cp", ProjectID: "p1"})
	require.NoError(t, err)
	ch := actor.Outbound()

	require.True(t, actor.Submit(&model.Inbound{Type: model.InboundStartPractice, Question: "自我介绍"}))
	require.IsType(t, &model.RecordingStart{}, nextOutbound(t, ch))

	audio := base64.StdEncoding.EncodeToString([]byte("RIFF-wav"))
	require.True(t, actor.Submit(&model.Inbound{Type: model.InboundSubmitAudio, AudioData: audio}))
	require.IsType(t, &model.Transcription{}, nextOutbound(t, ch))
	require.IsType(t, &model.FeedbackStreamStart{}, nextOutbound(t, ch))

	sw.Send(schema.AssistantMessage("点评", nil), nil)
	require.IsType(t, &model.FeedbackChunk{}, nextOutbound(t, ch))

	// cancel_practice while the critique streams: the pending question
	// must stay cleared even after the preempted turn persists its state.
	require.True(t, actor.Submit(&model.Inbound{Type: model.InboundCancelPractice}))
	require.Eventually(t, func() bool {
		return h.controller.Flags().IsSet("s-cp")
	}, 5*time.Second, time.Millisecond)
	sw.Send(schema.AssistantMessage("尾声", nil), nil)
	sw.Close()

	out := nextOutbound(t, ch)
	cancelled, ok := out.(*model.GenerationCancelled)
	require.True(t, ok, "expected generation_cancelled, got %s", out.Kind())
	assert.Equal(t, "点评", cancelled.PartialContent)

	// With no pending question, new audio is rejected instead of
	// critiqued against the cancelled one.
	require.True(t, actor.Submit(&model.Inbound{Type: model.InboundSubmitAudio, AudioData: audio}))
	out = nextOutbound(t, ch)
	require.IsType(t, &model.ErrorReply{}, out, "expected rejection, got %s", out.Kind())
}

func TestActor_CancelWhenIdle(t *testing.T) {
	h := newHarness(t, &scriptedModel{}, &scriptedModel{}, &scriptedModel{}, &stubTranscriber{})

	actor, err := h.manager.Open(Settings{SessionID: "s-idle"})
	require.NoError(t, err)
	require.True(t, actor.Submit(&model.Inbound{Type: model.InboundCancel}))

	out := nextOutbound(t, actor.Outbound())
	cancelled, ok := out.(*model.GenerationCancelled)
	require.True(t, ok)
	assert.Empty(t, cancelled.PartialContent)
}

func TestActor_RouterDirectReply(t *testing.T) {
	classifier := &scriptedModel{replies: []string{
		`{"intent":"general","target":"none","response":"你好，我是你的面试教练。","reasoning":"问候"}`,
	}}
	h := newHarness(t, classifier, &scriptedModel{}, &scriptedModel{}, &stubTranscriber{})

	actor, err := h.manager.Open(Settings{SessionID: "s-d"})
	require.NoError(t, err)
	require.True(t, actor.Submit(&model.Inbound{Type: model.InboundMessage, Content: "你好"}))

	out := nextOutbound(t, actor.Outbound())
	reply, ok := out.(*model.AssistantReply)
	require.True(t, ok)
	assert.Equal(t, "你好，我是你的面试教练。", reply.Content)
}

func TestManager_OpenIsIdempotent(t *testing.T) {
	h := newHarness(t, &scriptedModel{}, &scriptedModel{}, &scriptedModel{}, &stubTranscriber{})

	a1, err := h.manager.Open(Settings{SessionID: "s-m"})
	require.NoError(t, err)
	a2, err := h.manager.Open(Settings{SessionID: "s-m"})
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	assert.Same(t, a1, h.manager.Get("s-m"))
	assert.Nil(t, h.manager.Get("s-unknown"))

	h.manager.Close("s-m")
	assert.Nil(t, h.manager.Get("s-m"))
}

func TestManager_ShutdownRefusesOpens(t *testing.T) {
	h := newHarness(t, &scriptedModel{}, &scriptedModel{}, &scriptedModel{}, &stubTranscriber{})
	h.manager.Shutdown()

	_, err := h.manager.Open(Settings{SessionID: "s-x"})
	assert.Error(t, err)
}
