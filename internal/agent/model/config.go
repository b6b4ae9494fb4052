package model

// ================ Config ================
type ConversationConfig struct {
	TTL    string `envconfig:"CONVERSATION_TTL" default:"720h"`
	Router struct {
		MaxTurns int `envconfig:"CONVERSATION_ROUTER_MAX_TURNS" default:"6"`
	}
	History struct {
		MaxRounds            int `envconfig:"CONVERSATION_HISTORY_MAX_ROUNDS" default:"10"`
		SummaryTriggerRounds int `envconfig:"CONVERSATION_SUMMARY_TRIGGER_ROUNDS" default:"10"`
	}
}

// BudgetConfig carries the token ceilings for context assembly.
// Total is the hard ceiling; the named fields are per-component caps
// applied in strict priority order (JD > resume > summary > history).
type BudgetConfig struct {
	Total        int `envconfig:"BUDGET_TOTAL_TOKENS" default:"16000"`
	SystemPrompt int `envconfig:"BUDGET_SYSTEM_PROMPT_TOKENS" default:"1000"`
	JDMax        int `envconfig:"BUDGET_JD_MAX_TOKENS" default:"4000"`
	ResumeMax    int `envconfig:"BUDGET_RESUME_MAX_TOKENS" default:"4000"`
	SummaryMax   int `envconfig:"BUDGET_SUMMARY_MAX_TOKENS" default:"1000"`
	HistoryMin   int `envconfig:"BUDGET_HISTORY_MIN_TOKENS" default:"2000"`
	CurrentInput int `envconfig:"BUDGET_CURRENT_INPUT_TOKENS" default:"500"`
}

type RouterModelConfig struct {
	Model       string  `envconfig:"ROUTER_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"ROUTER_MAX_TOKENS" default:"1000"`
	Temperature float32 `envconfig:"ROUTER_TEMPERATURE" default:"0.1"`
}

type ResponseModelConfig struct {
	Model       string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"RESPONSE_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.7"`
}

type SummaryModelConfig struct {
	MaxTokens   int     `envconfig:"SUMMARY_MAX_TOKENS" default:"500"`
	Temperature float32 `envconfig:"SUMMARY_TEMPERATURE" default:"0.3"`
}

type CritiqueModelConfig struct {
	MaxTokens   int     `envconfig:"CRITIQUE_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"CRITIQUE_TEMPERATURE" default:"0.3"`
}
