package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	VerifyToken string

	// Messaging gateway (Meta Graph API) credentials
	GatewayToken      string
	PhoneNumberID     string
	BusinessAccountID string
	GatewayBaseURL    string

	// Database
	DBDriver   string // sqlite or postgres
	DBPath     string
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string

	// Redis (optional, stats cache)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Dispatch tuning
	MaxInFlightPerTenant int
	SubmitTimeout        time.Duration
	MaxSubmitAttempts    int
	RetryBaseDelay       time.Duration
	SchedulerInterval    time.Duration
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: Error loading .env file")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	return &Config{
		Port:        getEnv("PORT", "8080"),
		VerifyToken: getEnv("VERIFY_TOKEN", ""),

		GatewayToken:      getEnv("GATEWAY_TOKEN", ""),
		PhoneNumberID:     getEnv("PHONE_NUMBER_ID", ""),
		BusinessAccountID: getEnv("WABA_ID", ""),
		GatewayBaseURL:    getEnv("GATEWAY_BASE_URL", "https://graph.facebook.com/v19.0"),

		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBPath:     getEnv("DB_PATH", "./campaigns.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "campaigns"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		MaxInFlightPerTenant: getEnvInt("MAX_IN_FLIGHT_PER_TENANT", 5),
		SubmitTimeout:        getEnvDuration("SUBMIT_TIMEOUT", 15*time.Second),
		MaxSubmitAttempts:    getEnvInt("MAX_SUBMIT_ATTEMPTS", 4),
		RetryBaseDelay:       getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		SchedulerInterval:    getEnvDuration("SCHEDULER_INTERVAL", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
