package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	// API is the assistant server the chat client talks to.
	API struct {
		BaseURL        string `json:"base_url"`
		Token          string `json:"token"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"api"`
	Chat struct {
		PageSize         int `json:"page_size"`
		MaxMessageLength int `json:"max_message_length"`
		BannerMS         int `json:"banner_ms"`
		NearTopThreshold int `json:"near_top_threshold"`
		HistoryRetries   int `json:"history_retries"`
	} `json:"chat"`
	// Server configures the reference backend started by "serve".
	Server struct {
		Listen    string  `json:"listen"`
		Token     string  `json:"token"`
		RateLimit float64 `json:"rate_limit"`
		RateBurst int     `json:"rate_burst"`
		// ThreadIndex selects the thread index backend: "json" or "bolt".
		ThreadIndex string `json:"thread_index"`
	} `json:"server"`
	LLM struct {
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
		// PromptPath points at a text/template replacing the built-in
		// system prompt.
		PromptPath string `json:"prompt_path"`
	} `json:"llm"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
}

// Timeout is the per-request timeout for the assistant API.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// BannerDuration is how long transient notices stay visible.
func (c *Config) BannerDuration() time.Duration {
	return time.Duration(c.Chat.BannerMS) * time.Millisecond
}

func defaults() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".coachchat"),
		LogLevel: "info",
	}
	cfg.API.BaseURL = "http://localhost:8080"
	cfg.API.TimeoutSeconds = 30
	cfg.Chat.PageSize = 20
	cfg.Chat.MaxMessageLength = 2000
	cfg.Chat.BannerMS = 3500
	cfg.Chat.NearTopThreshold = 20
	cfg.Chat.HistoryRetries = 3
	cfg.Server.Listen = ":8080"
	cfg.Server.RateLimit = 0.5
	cfg.Server.RateBurst = 3
	cfg.Server.ThreadIndex = "json"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 1000
	cfg.LLM.Temperature = 0.4
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if baseURL := os.Getenv("COACHCHAT_BASE_URL"); baseURL != "" {
		cfg.API.BaseURL = baseURL
	}
	if token := os.Getenv("COACHCHAT_TOKEN"); token != "" {
		cfg.API.Token = token
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to the nested map form of its JSON encoding.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every setting keyed by its dotted path, with secrets
// masked when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

// GetValue returns the value stored in the config file under a dotted key.
// The file is created with defaults if missing.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a known dotted key in an existing config
// file. The value is converted to the type the setting has, so tokens stay
// strings even when they look like numbers.
func SetValue(path, key, value string) error {
	known, err := ToMap(defaults())
	if err != nil {
		return err
	}
	def, ok := Flatten(known)[key]
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	typed, err := coerce(def, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	m, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(m)
	flat[key] = typed
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

// coerce parses value into the JSON type of like.
func coerce(like any, value string) (any, error) {
	switch like.(type) {
	case float64:
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", value)
		}
		return n, nil
	case bool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", value)
		}
		return b, nil
	default:
		return value, nil
	}
}
