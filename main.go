package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/interviewcoach/server/internal/agent/budget"
	"github.com/interviewcoach/server/internal/agent/document"
	"github.com/interviewcoach/server/internal/agent/exec"
	"github.com/interviewcoach/server/internal/agent/generate"
	"github.com/interviewcoach/server/internal/agent/llm"
	"github.com/interviewcoach/server/internal/agent/model"
	"github.com/interviewcoach/server/internal/agent/relay"
	"github.com/interviewcoach/server/internal/agent/repo"
	"github.com/interviewcoach/server/internal/agent/router"
	"github.com/interviewcoach/server/internal/agent/session"
	"github.com/interviewcoach/server/internal/agent/tokens"
	"github.com/interviewcoach/server/internal/core"
	logx "github.com/interviewcoach/server/pkg/logger"
	pkgredis "github.com/interviewcoach/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the coaching engine,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	Gemini llm.ClientConfig

	// Engine configs
	Router       model.RouterModelConfig
	Response     model.ResponseModelConfig
	Summary      model.SummaryModelConfig
	Critique     model.CritiqueModelConfig
	Budget       model.BudgetConfig
	Conversation model.ConversationConfig

	// Optional PDF sources for the background documents; when set they
	// replace the built-in demo texts.
	JDPDFPath     string `envconfig:"JD_PDF_PATH"`
	ResumePDFPath string `envconfig:"RESUME_PDF_PATH"`
}

func main() {
	fmt.Println("Interview coach session engine demo...")
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	env := core.ParseEnvironment(cfg.Environment)
	logx.Init(logx.LoggerOpts{Environment: env})

	rdb, err := cfg.Redis.New()
	if err != nil {
		log.Fatalf("Failed to initialise Redis client: %v", err)
	}
	defer rdb.Close()
	fmt.Println("Connected to Redis successfully")

	ttl, err := time.ParseDuration(cfg.Conversation.TTL)
	if err != nil {
		log.Fatalf("Invalid CONVERSATION_TTL '%s': %v", cfg.Conversation.TTL, err)
	}

	// ====================================================
	// Wire the engine
	client, err := llm.NewClient(ctx, cfg.Gemini)
	if err != nil {
		log.Fatalf("Failed to create Gemini client: %v", err)
	}

	estimator := tokens.NewCharEstimator()

	classifier, err := llm.NewGenerator(ctx, client, cfg.Router.Model, cfg.Router.MaxTokens, cfg.Router.Temperature)
	if err != nil {
		log.Fatalf("Failed to create router model: %v", err)
	}
	responder, err := llm.NewGenerator(ctx, client, cfg.Response.Model, cfg.Response.MaxTokens, cfg.Response.Temperature)
	if err != nil {
		log.Fatalf("Failed to create response model: %v", err)
	}
	responder.WithCalibrator(estimator)

	ledger := repo.NewRedisTurnLedger(rdb, ttl)
	artifacts := repo.NewRedisArtifactStore(rdb)
	builder := budget.NewBuilder(estimator, responder, cfg.Budget, cfg.Summary, cfg.Conversation)
	eventRelay := relay.New()
	defer eventRelay.Close()
	controller := exec.NewController(exec.NewFlags())

	deps := session.Deps{
		Router: router.New(classifier, cfg.Router, cfg.Conversation.Router.MaxTurns),
		Practice: generate.NewPracticeGenerator(
			llm.NewGeminiTranscriber(client, cfg.Response.Model),
			responder, cfg.Critique, eventRelay, artifacts,
		),
		Advisory:   generate.NewAdvisoryGenerator(responder, cfg.Response, builder, ledger),
		Controller: controller,
		Relay:      eventRelay,
		Ledger:     ledger,
	}
	manager := session.NewManager(ctx, deps, builder)
	defer manager.Shutdown()

	// ====================================================
	// Scripted conversation
	jdText := "负责后端服务的设计与开发，要求熟悉 Go、Redis 和分布式系统。"
	resumeText := "三年后端开发经验，主导过订单系统重构项目，熟悉 Go、Redis、消息队列。"
	extractor := document.NewPDFExtractor()
	if cfg.JDPDFPath != "" {
		if text, err := extractor.ExtractTextFromFile(cfg.JDPDFPath); err != nil {
			log.Fatalf("Failed to extract JD from '%s': %v", cfg.JDPDFPath, err)
		} else {
			jdText = text
		}
	}
	if cfg.ResumePDFPath != "" {
		if text, err := extractor.ExtractTextFromFile(cfg.ResumePDFPath); err != nil {
			log.Fatalf("Failed to extract resume from '%s': %v", cfg.ResumePDFPath, err)
		} else {
			resumeText = text
		}
	}

	actor, err := manager.Open(session.Settings{
		SessionID:  "demo-session-1",
		ProjectID:  "demo-project-1",
		JDText:     jdText,
		ResumeText: resumeText,
	})
	if err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}

	go func() {
		for out := range actor.Outbound() {
			switch v := out.(type) {
			case *model.StreamChunk:
				fmt.Print(v.Content)
			case *model.FeedbackChunk:
				fmt.Print(v.Content)
			case *model.StreamEnd:
				fmt.Printf("\n[%s] save_target=%v\n", out.Kind(), v.SaveTarget != nil)
			default:
				fmt.Printf("[%s] %+v\n", out.Kind(), out)
			}
		}
	}()

	script := []struct {
		description string
		inbound     *model.Inbound
	}{
		{
			description: "Practice request",
			inbound:     &model.Inbound{Type: model.InboundMessage, Content: "我想练习自我介绍"},
		},
		{
			description: "Cancel the pending practice",
			inbound:     &model.Inbound{Type: model.InboundCancelPractice},
		},
		{
			description: "Question research",
			inbound:     &model.Inbound{Type: model.InboundMessage, Content: "帮我分析一下这个问题：为什么选择我们公司"},
		},
		{
			description: "Script writing",
			inbound:     &model.Inbound{Type: model.InboundMessage, Content: "帮我写一份「请介绍一个你主导的项目」的回答逐字稿"},
		},
	}

	for i, step := range script {
		fmt.Printf("\n--- Step %d: %s ---\n", i+1, step.description)
		if !actor.Submit(step.inbound) {
			log.Fatalf("Failed to submit step %d", i+1)
		}
		// give each turn time to finish before the next one preempts it
		time.Sleep(15 * time.Second)
	}

	fmt.Println("\nDemo completed.")
}
