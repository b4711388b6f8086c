package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	MpesaSandbox    = "sandbox"
	MpesaProduction = "production"
)

// Config holds the payment API server settings.
type Config struct {
	AppEnv     string
	AppPort    string
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	JWTSecret  string
	CORSOrigin string
	// InternalKey lets trusted services bypass the public rate tiers.
	InternalKey string

	Mpesa MpesaConfig

	RedisAddr     string
	RedisPassword string
	InProgressTTL time.Duration
	KafkaBrokers  []string
	KafkaTopic    string
}

// MpesaConfig holds the Daraja credentials.
type MpesaConfig struct {
	Environment    string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	CallbackToken  string
}

// ClientConfig holds the settings of the checkout client.
type ClientConfig struct {
	APIURL       string
	MpesaEnabled bool
	AppEnv       string
	AccessToken  string
	// AccessTokenFile, when set, is re-read on every request instead of
	// using AccessToken.
	AccessTokenFile string
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", EnvDevelopment),
		AppPort:     getEnv("APP_PORT", "8080"),
		DBHost:      os.Getenv("DB_HOST"),
		DBUser:      os.Getenv("DB_USER"),
		DBPassword:  os.Getenv("DB_PASSWORD"),
		DBName:      os.Getenv("DB_NAME"),
		DBPort:      getEnv("DB_PORT", "5432"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		CORSOrigin:  getEnv("CORS_ORIGIN", "http://localhost:5173"),
		InternalKey: os.Getenv("INTERNAL_SERVICE_KEY"),
		Mpesa: MpesaConfig{
			Environment:    getEnv("MPESA_ENVIRONMENT", MpesaSandbox),
			ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
			ShortCode:      os.Getenv("MPESA_SHORTCODE"),
			Passkey:        os.Getenv("MPESA_PASSKEY"),
			CallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
			CallbackToken:  os.Getenv("MPESA_CALLBACK_TOKEN"),
		},
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		InProgressTTL: getDuration("MPESA_IN_PROGRESS_TTL", 75*time.Second),
		KafkaBrokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "payment.events"),
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

func LoadClientConfig() *ClientConfig {
	_ = godotenv.Load()

	return &ClientConfig{
		APIURL:          getEnv("API_URL", "http://localhost:8080"),
		MpesaEnabled:    getBool("MPESA_ENABLED", true),
		AppEnv:          getEnv("APP_ENV", EnvDevelopment),
		AccessToken:     os.Getenv("ACCESS_TOKEN"),
		AccessTokenFile: os.Getenv("ACCESS_TOKEN_FILE"),
	}
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

func (c *ClientConfig) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// Environment is the value sent to the payment API alongside each request.
func (c *ClientConfig) Environment() string {
	if c.IsProduction() {
		return MpesaProduction
	}
	return MpesaSandbox
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
