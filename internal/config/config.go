package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	DBURL     string
	RedisAddr string

	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	EcoflowAPIURL    string
	EcoflowAccessKey string
	EcoflowSecretKey string
	DeviceSNs        []string
	PollInterval     time.Duration

	WebhookURL string

	HTTPPort      int
	JWTSecret     string
	AdminUser     string
	AdminPassHash string
	MDNSLocalName string

	Timezone string
	LogLevel string
	LogDir   string
}

// Load reads configuration from .env and environment variables.
func Load() (*Config, error) {
	// Missing .env is fine; env vars still apply.
	_ = godotenv.Load()

	viper.AutomaticEnv()
	viper.SetDefault("HTTP_PORT", 5080)
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("MQTT_CLIENT_ID", "ecoflow-dashboard")
	viper.SetDefault("POLL_INTERVAL_SECONDS", 30)
	viper.SetDefault("TIMEZONE", "Local")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MDNS_LOCAL_NAME", "ecoflow-dashboard.local")

	cfg := &Config{
		DBURL:            viper.GetString("DB_URL"),
		RedisAddr:        viper.GetString("REDIS_ADDR"),
		MQTTBroker:       viper.GetString("MQTT_BROKER"),
		MQTTClientID:     viper.GetString("MQTT_CLIENT_ID"),
		MQTTUsername:     viper.GetString("MQTT_USERNAME"),
		MQTTPassword:     viper.GetString("MQTT_PASSWORD"),
		EcoflowAPIURL:    viper.GetString("ECOFLOW_API_URL"),
		EcoflowAccessKey: viper.GetString("ECOFLOW_ACCESS_KEY"),
		EcoflowSecretKey: viper.GetString("ECOFLOW_SECRET_KEY"),
		DeviceSNs:        splitList(viper.GetString("DEVICE_SNS")),
		PollInterval:     time.Duration(viper.GetInt("POLL_INTERVAL_SECONDS")) * time.Second,
		WebhookURL:       viper.GetString("WEBHOOK_URL"),
		HTTPPort:         viper.GetInt("HTTP_PORT"),
		JWTSecret:        viper.GetString("JWT_SECRET"),
		AdminUser:        viper.GetString("ADMIN_USER"),
		AdminPassHash:    viper.GetString("ADMIN_PASSWORD_HASH"),
		MDNSLocalName:    viper.GetString("MDNS_LOCAL_NAME"),
		Timezone:         viper.GetString("TIMEZONE"),
		LogLevel:         viper.GetString("LOG_LEVEL"),
		LogDir:           viper.GetString("LOG_DIR"),
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
