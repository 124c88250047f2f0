/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the cagnotte service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort         string `mapstructure:"SERVER_PORT"`
	StoreBackend       string `mapstructure:"STORE_BACKEND"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	PaymentEventQueue  string `mapstructure:"PAYMENT_EVENT_QUEUE"`
	CheckoutAPIBaseURL string `mapstructure:"CHECKOUT_API_BASE_URL"`
	CheckoutAPIKey     string `mapstructure:"CHECKOUT_API_KEY"`
	OwnerTokenSecret   string `mapstructure:"OWNER_TOKEN_SECRET"`
	InternalAPIKey     string `mapstructure:"INTERNAL_API_KEY"`
	AppBaseURL         string `mapstructure:"APP_BASE_URL"`
	CycleCloseSchedule string `mapstructure:"CYCLE_CLOSE_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_BACKEND", "memory")
	viper.SetDefault("PAYMENT_EVENT_QUEUE", "cagnotte_service.payment_updates")
	viper.SetDefault("APP_BASE_URL", "http://localhost:8080")
	// Every 15 minutes; due cycles are detected by elapsed window, so the
	// tick granularity only bounds settlement latency.
	viper.SetDefault("CYCLE_CLOSE_SCHEDULE", "*/15 * * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("STORE_BACKEND")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYMENT_EVENT_QUEUE")
	_ = viper.BindEnv("CHECKOUT_API_BASE_URL")
	_ = viper.BindEnv("CHECKOUT_API_KEY")
	_ = viper.BindEnv("OWNER_TOKEN_SECRET", "OWNER_TOKEN_SECRET", "JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "CAGNOTTE_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("APP_BASE_URL")
	_ = viper.BindEnv("CYCLE_CLOSE_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	// PaaS platforms inject PORT; it wins over SERVER_PORT when set.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("CAGNOTTE_SERVICE_INTERNAL_API_KEY"))
	}
	if strings.TrimSpace(config.OwnerTokenSecret) == "" {
		config.OwnerTokenSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	}

	config.StoreBackend = strings.ToLower(strings.TrimSpace(config.StoreBackend))
	switch config.StoreBackend {
	case "memory", "postgres":
	case "":
		config.StoreBackend = "memory"
	default:
		log.Printf("level=warn component=config msg=\"unknown STORE_BACKEND; falling back to memory\" value=%q", config.StoreBackend)
		config.StoreBackend = "memory"
	}
	if config.StoreBackend == "postgres" && strings.TrimSpace(config.DatabaseURL) == "" {
		log.Printf("level=warn component=config msg=\"STORE_BACKEND=postgres without DATABASE_URL; falling back to memory\"")
		config.StoreBackend = "memory"
	}

	if strings.TrimSpace(config.CycleCloseSchedule) == "" {
		config.CycleCloseSchedule = "*/15 * * * *"
	}

	return
}
