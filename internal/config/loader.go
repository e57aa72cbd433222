package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// GetConfigPath returns the default config file path (~/.mariobot/config.json).
func GetConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mariobot", "config.json")
}

// Load reads configuration from a JSON file and applies environment overrides
// for secrets. If path is empty, uses the default config path. If the file
// doesn't exist, returns DefaultConfig() (env overrides still applied).
func Load(path string) (Config, error) {
	if path == "" {
		path = GetConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, err
		}
	} else if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	return cfg, nil
}

// Save writes configuration to a JSON file.
func Save(cfg Config, path string) error {
	if path == "" {
		path = GetConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv overrides secrets from the environment so tokens can stay out of
// the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("WHATSAPP_PHONE_NUMBER_ID"); v != "" {
		cfg.WhatsApp.PhoneNumberID = v
	}
	if v := os.Getenv("WHATSAPP_ACCESS_TOKEN"); v != "" {
		cfg.WhatsApp.AccessToken = v
	}
	if v := os.Getenv("WHATSAPP_VERIFY_TOKEN"); v != "" {
		cfg.WhatsApp.VerifyToken = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.Redis.URL = v
	}
}
