package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	TwilioAccountSID string
	TwilioAuthToken  string
	FromNumber       string
	WorkspaceSID     string
	WorkflowSID      string
	RelayURL         string

	LLMAPIKey  string
	LLMModel   string
	LLMBaseURL string

	ToolBaseURL string

	SilenceTimeout time.Duration
	SilenceRetries int
	TicketWait     time.Duration
	SessionTTL     time.Duration

	WelcomeGreeting string
	SystemPrompt    string

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string
}

const defaultSystemPrompt = "You are a friendly pharmacy assistant calling a customer " +
	"about their prescription. Keep replies short and conversational; they are spoken aloud. " +
	"Use the status-update tool to record the outcome, and end the call politely when done."

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	accountSID := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	if accountSID == "" || authToken == "" {
		log.Println("Warning: TWILIO_ACCOUNT_SID/TWILIO_AUTH_TOKEN not set - outbound calls will not work")
	}
	fromNumber := os.Getenv("TWILIO_FROM_NUMBER")
	if fromNumber == "" {
		log.Println("Warning: TWILIO_FROM_NUMBER not set - outbound calls will not work")
	}
	workspaceSID := os.Getenv("TWILIO_WORKSPACE_SID")
	workflowSID := os.Getenv("TWILIO_WORKFLOW_SID")
	if workspaceSID == "" || workflowSID == "" {
		log.Println("Warning: TWILIO_WORKSPACE_SID/TWILIO_WORKFLOW_SID not set - tickets will not be created")
	}
	relayURL := os.Getenv("RELAY_URL")
	if relayURL == "" {
		log.Println("Warning: RELAY_URL not set - answered calls cannot reach the relay socket")
	}

	llmKey := os.Getenv("OPENAI_API_KEY")
	if llmKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - LLM will not work")
	}
	llmModel := os.Getenv("OPENAI_MODEL")
	if llmModel == "" {
		llmModel = "gpt-4o-mini"
	}
	llmBaseURL := os.Getenv("OPENAI_BASE_URL")

	toolBaseURL := os.Getenv("TOOL_BASE_URL")
	if toolBaseURL == "" {
		log.Println("Warning: TOOL_BASE_URL not set - business tools will not work")
	}

	greeting := os.Getenv("WELCOME_GREETING")
	systemPrompt := os.Getenv("SYSTEM_PROMPT")
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	cfg := Config{
		HTTPAddress:      addr,
		TwilioAccountSID: accountSID,
		TwilioAuthToken:  authToken,
		FromNumber:       fromNumber,
		WorkspaceSID:     workspaceSID,
		WorkflowSID:      workflowSID,
		RelayURL:         relayURL,
		LLMAPIKey:        llmKey,
		LLMModel:         llmModel,
		LLMBaseURL:       llmBaseURL,
		ToolBaseURL:      toolBaseURL,
		SilenceTimeout:   durationSeconds("SILENCE_TIMEOUT_SECONDS", 5*time.Second),
		SilenceRetries:   intEnv("SILENCE_RETRY_COUNT", 3),
		TicketWait:       durationSeconds("TICKET_WAIT_SECONDS", 2*time.Second),
		SessionTTL:       durationSeconds("SESSION_TTL_SECONDS", 4*3600*time.Second),
		WelcomeGreeting:  greeting,
		SystemPrompt:     systemPrompt,
		SupabaseURL:      os.Getenv("SUPABASE_URL"),
		SupabaseKey:      os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:   os.Getenv("SUPABASE_BUCKET"),
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return cfg
}

func durationSeconds(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Printf("Warning: %s=%q is not a positive integer, using default", key, raw)
		return fallback
	}
	return time.Duration(n) * time.Second
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Printf("Warning: %s=%q is not a positive integer, using default", key, raw)
		return fallback
	}
	return n
}
