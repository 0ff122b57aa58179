// Package config provides configuration parsing and validation for the
// proctor service.
package config

import (
	"fmt"
	"os"
)

// Config holds all configuration parameters for the proctor service.
type Config struct {
	HTTPPort             string
	KafkaBrokers         string
	ClassificationsTopic string
	AlertsTopic          string
	ConsumerGroupID      string
	RedisAddr            string
}

// Validate checks that all required configuration fields are set.
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("http-port cannot be empty")
	}
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.ClassificationsTopic == "" {
		return fmt.Errorf("classifications-topic cannot be empty")
	}
	if c.AlertsTopic == "" {
		return fmt.Errorf("alerts-topic cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	return nil
}

// GetEnvOrDefault returns the environment variable value or a default if not
// set.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
