package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	AgentHub AgentHubConfig
	Chat     ChatConfig
	Speech   SpeechConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string
	ClientURL          string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	RedisURL           string
	JWTSecret          string
}

type DatabaseConfig struct {
	Connection string
}

type AgentHubConfig struct {
	URL              string
	HeartbeatSeconds int
	MaxReconnects    int
}

type ChatConfig struct {
	WelcomeMessage    string
	SessionTTLMinutes int
	FailureThreshold  int
	EventTopic        string
}

type SpeechConfig struct {
	TranscriberURL string
	TimeoutSeconds int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:3000"),
			ClientURL:          getEnv("CLIENT_URL", "http://localhost:5173"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log.csv"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			JWTSecret:          getEnv("JWT_SECRET", ""),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		AgentHub: AgentHubConfig{
			URL:              getEnv("AGENT_HUB_URL", "wss://localhost:7053/chatHub"),
			HeartbeatSeconds: getEnvAsInt("AGENT_HEARTBEAT_SECONDS", 30),
			MaxReconnects:    getEnvAsInt("AGENT_MAX_RECONNECTS", 3),
		},
		Chat: ChatConfig{
			WelcomeMessage:    getEnv("CHAT_WELCOME_MESSAGE", ""),
			SessionTTLMinutes: getEnvAsInt("CHAT_SESSION_TTL_MINUTES", 120),
			FailureThreshold:  getEnvAsInt("CHAT_FAILURE_THRESHOLD", 2),
			EventTopic:        getEnv("CHAT_EVENT_TOPIC_NAME", "CHAT_EVENTS"),
		},
		Speech: SpeechConfig{
			TranscriberURL: getEnv("SPEECH_TRANSCRIBER_URL", ""),
			TimeoutSeconds: getEnvAsInt("SPEECH_TIMEOUT_SECONDS", 30),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
