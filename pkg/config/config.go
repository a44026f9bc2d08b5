package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUrl         string
	RedisURL      string
	RedisPassword string

	Port string
	Host string
	Env  string

	AllowedOrigins []string

	// BaaS provider
	ProviderBaseURL       string
	ProviderAPIKey        string
	ProviderWebhookSecret string

	// WhatsApp messaging
	WhatsAppToken       string
	WhatsAppPhoneID     string
	WhatsAppVerifyToken string
	FlowPrivateKey      string
	FlowTokenSecret     string

	// Published WhatsApp flow ids
	OnboardingFlowID   string
	DataPurchaseFlowID string
	TransferPinFlowID  string

	// VTU reseller
	VTUBaseURL string
	VTUAPIKey  string

	// Admin auth
	JWTSecret          string
	GoogleClientID     string
	GoogleClientSecret string
	AdminEmails        []string

	// Platform revenue account for the hidden fee sibling
	PlatformAccountNumber string
	PlatformBankCode      string

	// Fee policy
	TransferFeeStrategy string // "flat" or "tiered"
	IncomingFeeEnabled  bool

	// Transfer limits, kobo
	MinTransferAmount    int64
	MaxTransferAmount    int64
	DailyTransferLimit   int64
	MonthlyTransferLimit int64
}

func LoadConfig() Config {
	godotenv.Load()

	return Config{
		DBUrl:         getEnv("DATABASE_URL"),
		RedisURL:      getEnv("REDIS_URL"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		Port: getEnv("PORT"),
		Host: getEnv("HOST"),
		Env:  getEnv("ENV"),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS"), ","),

		ProviderBaseURL:       getEnv("PROVIDER_BASE_URL"),
		ProviderAPIKey:        getEnv("PROVIDER_API_KEY"),
		ProviderWebhookSecret: getEnv("PROVIDER_WEBHOOK_SECRET"),

		WhatsAppToken:       getEnv("WHATSAPP_TOKEN"),
		WhatsAppPhoneID:     getEnv("WHATSAPP_PHONE_ID"),
		WhatsAppVerifyToken: getEnv("WHATSAPP_VERIFY_TOKEN"),
		FlowPrivateKey:      getEnv("FLOW_PRIVATE_KEY"),
		FlowTokenSecret:     getEnv("FLOW_TOKEN_SECRET"),

		OnboardingFlowID:   getEnv("ONBOARDING_FLOW_ID"),
		DataPurchaseFlowID: getEnv("DATA_PURCHASE_FLOW_ID"),
		TransferPinFlowID:  getEnv("TRANSFER_PIN_FLOW_ID"),

		VTUBaseURL: getEnv("VTU_BASE_URL"),
		VTUAPIKey:  getEnv("VTU_API_KEY"),

		JWTSecret:          getEnv("JWT_SECRET"),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET"),
		AdminEmails:        strings.Split(getEnv("ADMIN_EMAILS"), ","),

		PlatformAccountNumber: getEnv("PLATFORM_ACCOUNT_NUMBER"),
		PlatformBankCode:      getEnv("PLATFORM_BANK_CODE"),

		TransferFeeStrategy: getEnvDefault("TRANSFER_FEE_STRATEGY", "flat"),
		IncomingFeeEnabled:  getEnvDefault("INCOMING_FEE_ENABLED", "false") == "true",

		MinTransferAmount:    getEnvInt64("MIN_TRANSFER_AMOUNT", 10_000),
		MaxTransferAmount:    getEnvInt64("MAX_TRANSFER_AMOUNT", 100_000_000),
		DailyTransferLimit:   getEnvInt64("DAILY_TRANSFER_LIMIT", 500_000_000),
		MonthlyTransferLimit: getEnvInt64("MONTHLY_TRANSFER_LIMIT", 5_000_000_000),
	}
}

func getEnv(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	panic(fmt.Sprintf("%s is required", key))
}

func getEnvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("%s must be a valid integer", key))
	}
	return parsed
}
