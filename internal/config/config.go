// Package config provides configuration for the callbridge service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Audio pacing and keepalive defaults shared by all sessions.
const (
	DefaultPort              = 3000
	DefaultPacketSize        = 800
	DefaultPacketInterval    = 15 * time.Millisecond
	DefaultKeepAliveInterval = 6 * time.Second
	DefaultWebhookTimeout    = 10 * time.Second

	DefaultVoice       = "sage"
	DefaultLanguage    = "es"
	DefaultTemperature = 0.6
)

// DefaultInstructions is the agent prompt used when AGENT_INSTRUCTIONS is unset.
const DefaultInstructions = "eres un agente de ventas que agenda reuniones en caso de no concretar la venta o " +
	"envia cotizaciones en caso de concretar la venta. Si detectas que el usuario provee email o nombre, " +
	"almacénalos en contexto. Cuando corresponda, llama a la función send_email_notification con los " +
	"parámetros adecuados."

// DefaultTranscriptionPrompt primes input transcription on the dialogue leg.
const DefaultTranscriptionPrompt = "Transcribe el siguiente audio en vivo..."

// DefaultGreeting is sent to the caller as soon as the call is accepted.
const DefaultGreeting = "🔗 Conexión establecida con el servidor WebSocket VOX."

// Config holds the callbridge configuration.
type Config struct {
	// Server settings
	Port     int
	LogLevel string

	// Recognition leg (Deepgram live)
	DeepgramURL    string
	DeepgramAPIKey string

	// Dialogue leg (OpenAI Realtime)
	OpenAIURL       string
	OpenAIAuthToken string

	// External action
	WebhookURL     string
	WebhookTimeout time.Duration

	// Agent persona
	Voice        string
	Language     string
	Temperature  float64
	Instructions string
	Prompt       string
	Greeting     string

	// Audio pacing
	PacketSize        int
	PacketInterval    time.Duration
	KeepAliveInterval time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:              getEnvInt("PORT", DefaultPort),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DeepgramURL:       getEnv("DEEPGRAM_URL", ""),
		DeepgramAPIKey:    getEnv("DEEPGRAM_API_KEY", ""),
		OpenAIURL:         getEnv("OPENAI_URL", ""),
		OpenAIAuthToken:   getEnv("OPENAI_AUTH_TOKEN", ""),
		WebhookURL:        getEnv("MAKE_WEBHOOK_URL", ""),
		WebhookTimeout:    getEnvMillis("WEBHOOK_TIMEOUT_MS", DefaultWebhookTimeout),
		Voice:             getEnv("AGENT_VOICE", DefaultVoice),
		Language:          getEnv("AGENT_LANGUAGE", DefaultLanguage),
		Temperature:       getEnvFloat("AGENT_TEMPERATURE", DefaultTemperature),
		Instructions:      getEnv("AGENT_INSTRUCTIONS", DefaultInstructions),
		Prompt:            getEnv("TRANSCRIPTION_PROMPT", DefaultTranscriptionPrompt),
		Greeting:          getEnv("GREETING", DefaultGreeting),
		PacketSize:        getEnvInt("PACKET_SIZE", DefaultPacketSize),
		PacketInterval:    getEnvMillis("PACKET_INTERVAL_MS", DefaultPacketInterval),
		KeepAliveInterval: getEnvMillis("KEEPALIVE_INTERVAL_MS", DefaultKeepAliveInterval),
	}
}

// Validate checks the configuration for required fields.
// A missing webhook URL is not an error: tool calls are then logged and dropped.
func (c *Config) Validate() error {
	var errs []error
	if c.DeepgramURL == "" {
		errs = append(errs, errors.New("config: DEEPGRAM_URL is required"))
	}
	if c.OpenAIURL == "" {
		errs = append(errs, errors.New("config: OPENAI_URL is required"))
	}
	if c.PacketSize <= 0 {
		errs = append(errs, fmt.Errorf("config: PACKET_SIZE must be positive, got %d", c.PacketSize))
	}
	if c.PacketInterval <= 0 {
		errs = append(errs, fmt.Errorf("config: PACKET_INTERVAL_MS must be positive, got %s", c.PacketInterval))
	}
	if c.KeepAliveInterval <= 0 {
		errs = append(errs, fmt.Errorf("config: KEEPALIVE_INTERVAL_MS must be positive, got %s", c.KeepAliveInterval))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address for the telephony endpoint.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
