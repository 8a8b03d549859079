package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
	} `yaml:"telegram"`
	OpenAI struct {
		APIKey         string `yaml:"api_key"`
		EmbeddingModel string `yaml:"embedding_model"`
		VisionModel    string `yaml:"vision_model"`
		Dimensions     int    `yaml:"dimensions"`
	} `yaml:"openai"`
	Model struct {
		ClassifierPath string `yaml:"classifier_path"`
		ScalerPath     string `yaml:"scaler_path"`
	} `yaml:"model"`
	Pipeline struct {
		DeletionSweepInterval int64 `yaml:"deletion_sweep_interval_seconds"`
	} `yaml:"pipeline"`
	Server struct {
		Port              string `yaml:"port"`
		AdminUsername     string `yaml:"admin_username"`
		AdminPasswordHash string `yaml:"admin_password_hash"` // bcrypt
		JWTSecret         string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

// LoadConfig reads configuration from the specified YAML file.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if config.OpenAI.Dimensions == 0 {
		config.OpenAI.Dimensions = 1536
	}
	if config.Pipeline.DeletionSweepInterval == 0 {
		config.Pipeline.DeletionSweepInterval = 10
	}

	return config, nil
}
