// Package session runs one actor per conversation. The actor owns the
// session's cross-turn state and serializes its turns: at most one
// generation is in flight, and a new inbound message while one is
// running preempts it, waits for the partial output to be persisted and
// announced, then starts the new turn.
package session

import (
	"context"

	"github.com/interviewcoach/server/internal/agent/exec"
	"github.com/interviewcoach/server/internal/agent/generate"
	"github.com/interviewcoach/server/internal/agent/model"
	"github.com/interviewcoach/server/internal/agent/relay"
	"github.com/interviewcoach/server/internal/agent/router"
	logx "github.com/interviewcoach/server/pkg/logger"
)

const (
	voiceAnswerPlaceholder = "[语音回答]"
	outboundBuffer         = 64
)

// relayEvents are the events each turn registers handlers for.
var relayEvents = []string{
	relay.EventTranscript,
	relay.EventStreamChunk,
	relay.EventFeedbackChunk,
}

// Deps are the shared components every actor uses.
type Deps struct {
	Router     *router.Router
	Practice   generate.Generator
	Advisory   generate.Generator
	Controller *exec.Controller
	Relay      *relay.Relay
	Ledger     model.TurnLedger
}

// Settings are the session-scoped fields fixed at open time.
type Settings struct {
	SessionID         string
	ProjectID         string
	JDText            string
	ResumeText        string
	PracticeQuestions []string
}

// Actor processes one session's inbound messages in order.
type Actor struct {
	deps     Deps
	settings Settings

	inbound  chan *model.Inbound
	outbound chan model.Outbound

	// Cross-turn state, owned by the run loop (and by the single
	// in-flight turn goroutine while the loop waits on it).
	mode            model.Mode
	currentQuestion string
	summary         string
}

func newActor(deps Deps, settings Settings) *Actor {
	return &Actor{
		deps:     deps,
		settings: settings,
		inbound:  make(chan *model.Inbound, 16),
		outbound: make(chan model.Outbound, outboundBuffer),
		mode:     model.ModeIdle,
	}
}

// Outbound is the stream of envelopes toward the transport.
func (a *Actor) Outbound() <-chan model.Outbound {
	return a.outbound
}

// Submit queues one inbound message. Returns false when the session is
// shutting down.
func (a *Actor) Submit(in *model.Inbound) bool {
	select {
	case a.inbound <- in:
		return true
	default:
		logx.Warn().Str("session_id", a.settings.SessionID).Msg("Inbound queue full, dropping message")
		return false
	}
}

func (a *Actor) emit(out model.Outbound) {
	a.outbound <- out
}

// run is the actor loop. It waits on inbound messages and on the
// completion of the in-flight turn; a turn-starting message arriving
// while one is in flight preempts it first.
func (a *Actor) run(ctx context.Context) {
	defer close(a.outbound)

	var inflight chan struct{}
	var cancelTurn context.CancelFunc

	preempt := func() {
		if inflight == nil {
			return
		}
		a.deps.Controller.Flags().Set(a.settings.SessionID)
		cancelTurn()
		// The turn persists its partial output and emits
		// generation_cancelled before finishing.
		<-inflight
		inflight, cancelTurn = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			preempt()
			return

		case <-inflight:
			inflight, cancelTurn = nil, nil

		case in, ok := <-a.inbound:
			if !ok {
				preempt()
				return
			}
			switch in.Type {
			case model.InboundCancel:
				if inflight != nil {
					a.deps.Controller.Flags().Set(a.settings.SessionID)
					cancelTurn()
					// The turn itself announces the cancellation with
					// the partial content.
					continue
				}
				a.emit(&model.GenerationCancelled{PartialContent: ""})

			case model.InboundCancelPractice:
				// Serialize with any in-flight turn first: its deferred
				// persist would otherwise resurrect the cancelled question.
				preempt()
				a.currentQuestion = ""
				a.mode = model.ModeIdle
				logx.Info().Str("session_id", a.settings.SessionID).Msg("Practice cancelled")

			case model.InboundMessage, model.InboundAudio, model.InboundStartPractice, model.InboundSubmitAudio:
				preempt()
				turnCtx, cancel := context.WithCancel(ctx)
				done := make(chan struct{})
				inflight, cancelTurn = done, cancel
				go func() {
					defer close(done)
					defer cancel()
					a.runTurn(turnCtx, in)
				}()

			default:
				logx.Warn().
					Str("session_id", a.settings.SessionID).
					Str("type", string(in.Type)).
					Msg("Unknown inbound type")
			}
		}
	}
}

// newState builds the per-turn working state from the settings, the
// cross-turn fields, and the inbound message.
func (a *Actor) newState(in *model.Inbound) *model.SessionState {
	state := &model.SessionState{
		SessionID:         a.settings.SessionID,
		ProjectID:         a.settings.ProjectID,
		JDText:            a.settings.JDText,
		ResumeText:        a.settings.ResumeText,
		PracticeQuestions: a.settings.PracticeQuestions,
		Mode:              a.mode,
		CurrentQuestion:   a.currentQuestion,
		Summary:           a.summary,
		Context:           in.Context,
	}

	switch in.Type {
	case model.InboundAudio, model.InboundSubmitAudio:
		state.InputKind = model.InputAudio
		state.AudioData = in.AudioData
		state.Input = voiceAnswerPlaceholder
	case model.InboundStartPractice:
		state.InputKind = model.InputCommand
		state.Input = in.Question
		if in.Question != "" {
			state.CurrentQuestion = in.Question
		}
		state.Mode = model.ModePracticing
	default:
		state.InputKind = model.InputText
		state.Input = in.Content
	}
	return state
}

// runTurn executes the full pipeline for one inbound message: append the
// user turn, route, generate, drive the stream if any, append the
// assistant turn, emit the outcome.
func (a *Actor) runTurn(ctx context.Context, in *model.Inbound) {
	sessionID := a.settings.SessionID
	state := a.newState(in)

	for _, ev := range relayEvents {
		a.deps.Relay.Register(sessionID, ev, func(_ context.Context, payload model.Outbound) {
			a.emit(payload)
		})
	}
	defer a.deps.Relay.Unregister(sessionID, relayEvents...)
	defer a.persist(state)

	userKind := model.TurnChat
	if state.InputKind == model.InputAudio {
		userKind = model.TurnVoiceAnswer
	}
	if err := a.deps.Ledger.Append(ctx, sessionID, model.UserTurn(state.Input, userKind)); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("User turn append failed")
	}

	history, err := a.deps.Ledger.History(ctx, sessionID)
	if err != nil {
		logx.Warn().Err(err).Str("session_id", sessionID).Msg("History load failed for routing")
		history = nil
	}
	decision := a.deps.Router.Route(ctx, state, history)

	if decision.Target == model.TargetNone {
		a.appendAssistant(ctx, decision.DirectReply, model.TurnChat)
		a.emit(&model.AssistantReply{Content: decision.DirectReply})
		return
	}

	var gen generate.Generator
	if decision.Target == model.TargetPractice {
		gen = a.deps.Practice
	} else {
		gen = a.deps.Advisory
	}

	result, err := gen.Generate(ctx, state)
	if err != nil {
		if ctx.Err() != nil {
			a.emit(&model.GenerationCancelled{PartialContent: ""})
			return
		}
		logx.Error().Err(err).Str("session_id", sessionID).Msg("Generation failed")
		a.emit(&model.ErrorReply{Message: "处理失败，请稍后重试。"})
		return
	}

	if result.Stream == nil {
		if content := terminalContent(result.Reply); content != "" {
			a.appendAssistant(ctx, content, result.TurnKind)
		}
		a.emit(result.Reply)
		return
	}

	if result.StreamOpen != nil {
		a.emit(result.StreamOpen)
	}
	outcome := a.deps.Controller.Run(ctx, sessionID, result.Stream, func(ctx context.Context, delta string) {
		a.deps.Relay.Invoke(ctx, sessionID, result.ChunkEvent, result.ChunkEnvelope(delta))
	})

	switch outcome.State {
	case exec.StateCompleted:
		end := result.OnComplete(ctx, outcome.Text)
		a.appendAssistant(ctx, outcome.Text, result.TurnKind)
		a.emit(end)

	case exec.StateCancelled:
		if outcome.Text != "" {
			a.appendAssistant(context.WithoutCancel(ctx), outcome.Text, result.TurnKind)
		}
		a.emit(&model.GenerationCancelled{PartialContent: outcome.Text})

	case exec.StateFailed:
		logx.Error().Err(outcome.Err).Str("session_id", sessionID).Msg("Stream run failed")
		a.emit(&model.ErrorReply{Message: "处理失败，请稍后重试。"})
	}
}

// persist copies the turn's state effects back onto the actor. The run
// loop reads these only after the turn's done channel closes.
func (a *Actor) persist(state *model.SessionState) {
	a.mode = state.Mode
	a.currentQuestion = state.CurrentQuestion
	a.summary = state.Summary
}

func (a *Actor) appendAssistant(ctx context.Context, content string, kind model.TurnKind) {
	if err := a.deps.Ledger.Append(ctx, a.settings.SessionID, model.AssistantTurn(content, kind)); err != nil {
		logx.Error().Err(err).Str("session_id", a.settings.SessionID).Msg("Assistant turn append failed")
	}
}

// terminalContent extracts the ledger-worthy text of a terminal reply.
// Errors are not conversation content.
func terminalContent(out model.Outbound) string {
	switch v := out.(type) {
	case *model.AssistantReply:
		return v.Content
	case *model.RecordingStart:
		return v.Content
	default:
		return ""
	}
}
