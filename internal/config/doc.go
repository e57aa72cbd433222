// Package config handles configuration loading, saving, and schema definition.
package config

// Config is the top-level mariobot configuration.
type Config struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	OpenAI   OpenAIConfig   `json:"openai"`
	Server   ServerConfig   `json:"server"`
	Store    StoreConfig    `json:"store"`
	Policy   PolicyConfig   `json:"policy"`
}

// WhatsAppConfig holds Cloud API credentials and endpoints.
type WhatsAppConfig struct {
	PhoneNumberID string `json:"phoneNumberId"`
	AccessToken   string `json:"accessToken"`
	VerifyToken   string `json:"verifyToken"`
	APIBase       string `json:"apiBase,omitempty"`
}

// OpenAIConfig holds model backend settings.
type OpenAIConfig struct {
	APIKey          string `json:"apiKey"`
	APIBase         string `json:"apiBase,omitempty"`
	Model           string `json:"model,omitempty"`
	TranscribeModel string `json:"transcribeModel,omitempty"`
	MaxTokens       int    `json:"maxTokens,omitempty"`
}

// ServerConfig holds webhook server settings.
type ServerConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// StoreConfig selects and configures the session store backend.
type StoreConfig struct {
	Backend string      `json:"backend,omitempty"` // "file" or "redis"
	DataDir string      `json:"dataDir,omitempty"`
	Redis   RedisConfig `json:"redis,omitempty"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL      string `json:"url,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// PolicyConfig pins down behavior the source revisions disagreed on.
type PolicyConfig struct {
	IncludeHistory *bool `json:"includeHistory,omitempty"` // pass history to the generator (default true)
	HistoryWindow  int   `json:"historyWindow,omitempty"`  // entries passed with the prompt
	RequestTimeout int   `json:"requestTimeout,omitempty"` // delegation bound, seconds
}

// HistoryEnabled resolves the IncludeHistory tri-state.
func (p PolicyConfig) HistoryEnabled() bool {
	return p.IncludeHistory == nil || *p.IncludeHistory
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		OpenAI: OpenAIConfig{
			Model:           "gpt-4-turbo",
			TranscribeModel: "whisper-1",
			MaxTokens:       500,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Store: StoreConfig{
			Backend: "file",
		},
		Policy: PolicyConfig{
			HistoryWindow:  20,
			RequestTimeout: 60,
		},
	}
}
