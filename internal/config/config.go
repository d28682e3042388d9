package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port             string
	DatabaseURL      string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioNumber     string
	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPassword     string
	ServiceName      string
	ServiceEmail     string
	ReminderSchedule string
	LocalTimezone    *time.Location
}

// Load reads configuration values and prepares defaults where applicable.
func Load() *Config {
	_ = godotenv.Load()

	port := getenvDefault("PORT", "8080")
	databaseURL := os.Getenv("DATABASE_URL")
	accountSID := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	twilioNumber := os.Getenv("TWILIO_NUMBER")
	smtpHost := os.Getenv("SMTP_HOST")
	smtpPort := ParseIntEnv("SMTP_PORT", 587)
	smtpUser := os.Getenv("SMTP_USER")
	smtpPassword := os.Getenv("SMTP_PASSWORD")
	serviceName := getenvDefault("SERVICE_NAME", "Keep in Touch Team")
	serviceEmail := os.Getenv("SERVICE_EMAIL")
	// Daily at 08:00 by default; "@every 20s" style specs work for testing.
	schedule := getenvDefault("REMINDER_SCHEDULE", "0 8 * * *")
	timezoneName := getenvDefault("LOCAL_TIMEZONE", "Local")

	location, err := time.LoadLocation(timezoneName)
	if err != nil {
		log.Printf("config: invalid LOCAL_TIMEZONE %q, defaulting to system local: %v", timezoneName, err)
		location = time.Local
	}

	return &Config{
		Port:             port,
		DatabaseURL:      databaseURL,
		TwilioAccountSID: accountSID,
		TwilioAuthToken:  authToken,
		TwilioNumber:     twilioNumber,
		SMTPHost:         smtpHost,
		SMTPPort:         smtpPort,
		SMTPUser:         smtpUser,
		SMTPPassword:     smtpPassword,
		ServiceName:      serviceName,
		ServiceEmail:     serviceEmail,
		ReminderSchedule: schedule,
		LocalTimezone:    location,
	}
}

func getenvDefault(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	return value
}

// ParseIntEnv returns the integer value for an environment variable or the provided default.
func ParseIntEnv(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as int: %v", key, value, err)
		return def
	}
	return parsed
}
