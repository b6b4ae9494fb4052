package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/interviewcoach/server/internal/agent/model"
	logx "github.com/interviewcoach/server/pkg/logger"
)

const transcribeInstruction = "请逐字转录这段面试回答录音，只输出转录文本，不要添加任何解释或标点修饰之外的内容。"

// GeminiTranscriber implements speech-to-text over the Gemini multimodal
// API. It returns plain transcripts; sentence timestamps require a
// dedicated ASR backend and stay empty here.
type GeminiTranscriber struct {
	client    *genai.Client
	modelName string
}

func NewGeminiTranscriber(client *genai.Client, modelName string) *GeminiTranscriber {
	return &GeminiTranscriber{client: client, modelName: modelName}
}

var _ model.Transcriber = (*GeminiTranscriber)(nil)

func (t *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, opts model.TranscribeOptions) (*model.TranscriptResult, error) {
	instruction := transcribeInstruction
	if opts.ContextText != "" {
		instruction += "\n\n以下背景信息可帮助识别专业词汇：\n" + opts.ContextText
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(audio, sniffMIME(audio)),
		genai.NewPartFromText(instruction),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := t.client.Models.GenerateContent(ctx, t.modelName, contents, nil)
	if err != nil {
		logx.Error().Err(err).Str("model", t.modelName).Msg("Transcription request failed")
		return nil, fmt.Errorf("transcribe with %s: %w", t.modelName, err)
	}

	return &model.TranscriptResult{Text: strings.TrimSpace(resp.Text())}, nil
}

func sniffMIME(audio []byte) string {
	switch {
	case len(audio) >= 4 && string(audio[:4]) == "RIFF":
		return "audio/wav"
	case len(audio) >= 4 && audio[0] == 0x1a && audio[1] == 0x45 && audio[2] == 0xdf && audio[3] == 0xa3:
		return "audio/webm"
	case len(audio) >= 3 && string(audio[:3]) == "ID3":
		return "audio/mp3"
	case len(audio) >= 2 && audio[0] == 0xff && audio[1] == 0xfb:
		return "audio/mp3"
	default:
		return "audio/wav"
	}
}
