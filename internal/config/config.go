// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	DataDir         string
	AutoAnswerDelay time.Duration
	BringupDelay    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "7777"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/agentsim.db"),
		DataDir:         getEnv("DATA_DIR", "./data"),
		AutoAnswerDelay: getEnvDuration("AUTO_ANSWER_DELAY", 5*time.Second),
		BringupDelay:    getEnvDuration("BRINGUP_DELAY", 3*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR cannot be empty")
	}
	if c.AutoAnswerDelay <= 0 {
		return fmt.Errorf("AUTO_ANSWER_DELAY must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AgentsFile returns the path of the agent directory fixture.
func (c *Config) AgentsFile() string {
	return c.DataDir + "/agents.yaml"
}

// CapabilitiesFile returns the path of the capability table fixture.
func (c *Config) CapabilitiesFile() string {
	return c.DataDir + "/capabilities.yaml"
}

// AttachedDataFile returns the path of the default attached-data fixture.
func (c *Config) AttachedDataFile() string {
	return c.DataDir + "/attached-data.yaml"
}

// WorkbinsFile returns the path of the workbin fixture.
func (c *Config) WorkbinsFile() string {
	return c.DataDir + "/workbins.yaml"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
		return d
	}
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
