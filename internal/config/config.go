// Package config provides YAML-based configuration loading for atris.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent kinds.
const (
	KindClaude = "claude"
	KindAudius = "audius"
	KindRemote = "remote"
)

// Classifier names.
const (
	ClassifierKeyword = "keyword"
	ClassifierLLM     = "llm"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// DefaultKeywords is the vocabulary the keyword classifier uses to spot
// Audius questions when none is configured.
var DefaultKeywords = []string{
	"audius", "track", "tracks", "playlist", "playlists", "plays",
	"play count", "artist", "artists", "repost", "reposts", "trending",
	"remix", "album", "favorites", "followers",
}

// Config is the top-level atris configuration, loaded from atris.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Router RouterConfig `yaml:"router"`
	LLM    LLMConfig    `yaml:"llm"`
	Agents AgentsConfig `yaml:"agents"`
	Auth   AuthConfig   `yaml:"auth"`
	Chat   ChatConfig   `yaml:"chat"`
}

// ServerConfig holds web server settings.
type ServerConfig struct {
	Port              int `yaml:"port"`
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
}

// StoreConfig holds connection settings for the route-decision cache.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	Path          string `yaml:"path"` // sqlite file
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Database      string `yaml:"database"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	PruneSchedule string `yaml:"prune_schedule"`
	MaxAgeHours   int    `yaml:"max_age_hours"`
}

// RouterConfig selects and tunes the query classifier.
type RouterConfig struct {
	Classifier   string   `yaml:"classifier"`
	Keywords     []string `yaml:"keywords"`
	DisableCache bool     `yaml:"disable_cache"`
}

// LLMConfig holds Anthropic API settings shared by the LLM-backed pieces.
type LLMConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// AgentsConfig binds each category to an agent implementation.
type AgentsConfig struct {
	General AgentConfig `yaml:"general"`
	Audius  AgentConfig `yaml:"audius"`
}

// AgentConfig describes one agent binding.
type AgentConfig struct {
	Kind        string `yaml:"kind"`
	URL         string `yaml:"url"`      // remote agents
	APIHost     string `yaml:"api_host"` // audius agents
	AppName     string `yaml:"app_name"` // audius agents
	SearchLimit int    `yaml:"search_limit"`
}

// AuthConfig enables JWT auth on the web server when JWTSecret is set.
type AuthConfig struct {
	JWTSecret        string       `yaml:"jwt_secret"`
	TokenExpiryHours int          `yaml:"token_expiry_hours"`
	Users            []UserConfig `yaml:"users"`
}

// UserConfig is a login allowed to mint tokens via /auth/login.
type UserConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
}

// ChatConfig enables the chat-platform bridge.
type ChatConfig struct {
	Platform string        `yaml:"platform"` // "", "slack" or "discord"
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken  string `yaml:"app_token"`
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"` // answer mentions only here; DMs always
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"` // answer mentions only here; DMs always
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Empty input yields
// the defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SessionTTL returns the idle time after which a web session is evicted.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Server.SessionTTLMinutes) * time.Minute
}

// TokenExpiry returns the lifetime of minted auth tokens.
func (c *Config) TokenExpiry() time.Duration {
	return c.Auth.Expiry()
}

// Expiry returns the lifetime of minted auth tokens.
func (a AuthConfig) Expiry() time.Duration {
	return time.Duration(a.TokenExpiryHours) * time.Hour
}

// MaxAge returns how long a cached route decision is kept.
func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.Store.MaxAgeHours) * time.Hour
}

// applyDefaults fills in derived and default values. Secrets left empty in
// the file are taken from the environment.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.SessionTTLMinutes == 0 {
		c.Server.SessionTTLMinutes = 60
	}

	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			c.Store.Path = "atris.db"
		}
	case DriverMySQL, DriverPostgres:
		if c.Store.Host == "" {
			c.Store.Host = "127.0.0.1"
		}
		if c.Store.Port == 0 {
			c.Store.Port = 3306
			if c.Store.Driver == DriverPostgres {
				c.Store.Port = 5432
			}
		}
		if c.Store.Database == "" {
			c.Store.Database = "atris"
		}
		if c.Store.User == "" {
			c.Store.User = "root"
			if c.Store.Driver == DriverPostgres {
				c.Store.User = "postgres"
			}
		}
	}
	if c.Store.PruneSchedule == "" {
		c.Store.PruneSchedule = "0 3 * * *"
	}
	if c.Store.MaxAgeHours == 0 {
		c.Store.MaxAgeHours = 24 * 30
	}

	if c.Router.Classifier == "" {
		c.Router.Classifier = ClassifierKeyword
	}
	if len(c.Router.Keywords) == 0 {
		c.Router.Keywords = append([]string(nil), DefaultKeywords...)
	}

	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "claude-sonnet-4-5"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}

	if c.Agents.General.Kind == "" {
		c.Agents.General.Kind = KindClaude
	}
	if c.Agents.Audius.Kind == "" {
		c.Agents.Audius.Kind = KindAudius
	}
	for _, a := range []*AgentConfig{&c.Agents.General, &c.Agents.Audius} {
		if a.Kind != KindAudius {
			continue
		}
		if a.APIHost == "" {
			a.APIHost = "https://api.audius.co"
		}
		if a.AppName == "" {
			a.AppName = "atris"
		}
		if a.SearchLimit == 0 {
			a.SearchLimit = 5
		}
	}

	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = os.Getenv("ATRIS_JWT_SECRET")
	}
	if c.Auth.TokenExpiryHours == 0 {
		c.Auth.TokenExpiryHours = 24
	}

	switch c.Chat.Platform {
	case "slack":
		if c.Chat.Slack.AppToken == "" {
			c.Chat.Slack.AppToken = os.Getenv("SLACK_APP_TOKEN")
		}
		if c.Chat.Slack.BotToken == "" {
			c.Chat.Slack.BotToken = os.Getenv("SLACK_BOT_TOKEN")
		}
	case "discord":
		if c.Chat.Discord.BotToken == "" {
			c.Chat.Discord.BotToken = os.Getenv("DISCORD_BOT_TOKEN")
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.SessionTTLMinutes < 0 {
		errs = append(errs, "server.session_ttl_minutes must not be negative")
	}

	switch c.Store.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, mysql, postgres", c.Store.Driver))
	}
	if c.Store.MaxAgeHours < 0 {
		errs = append(errs, "store.max_age_hours must not be negative")
	}

	needsLLM := false
	switch c.Router.Classifier {
	case ClassifierKeyword:
	case ClassifierLLM:
		needsLLM = true
	default:
		errs = append(errs, fmt.Sprintf("router.classifier %q is not one of keyword, llm", c.Router.Classifier))
	}

	bindings := []struct {
		name  string
		agent AgentConfig
	}{
		{"general", c.Agents.General},
		{"audius", c.Agents.Audius},
	}
	for _, b := range bindings {
		name, a := b.name, b.agent
		switch a.Kind {
		case KindClaude:
			needsLLM = true
		case KindAudius:
		case KindRemote:
			if a.URL == "" {
				errs = append(errs, fmt.Sprintf("agents.%s.url is required for remote agents", name))
			}
		default:
			errs = append(errs, fmt.Sprintf("agents.%s.kind %q is not one of claude, audius, remote", name, a.Kind))
		}
	}
	if needsLLM && c.LLM.APIKey == "" {
		errs = append(errs, "llm.api_key (or ANTHROPIC_API_KEY) is required by the configured classifier or agents")
	}

	for i, u := range c.Auth.Users {
		if u.Username == "" {
			errs = append(errs, fmt.Sprintf("auth.users[%d].username is required", i))
		}
		if u.PasswordHash == "" {
			errs = append(errs, fmt.Sprintf("auth.users[%d].password_hash is required", i))
		}
	}
	if len(c.Auth.Users) > 0 && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required when auth.users is set")
	}

	switch c.Chat.Platform {
	case "":
	case "slack":
		if c.Chat.Slack.AppToken == "" || c.Chat.Slack.BotToken == "" {
			errs = append(errs, "chat.slack.app_token and chat.slack.bot_token are required")
		}
	case "discord":
		if c.Chat.Discord.BotToken == "" {
			errs = append(errs, "chat.discord.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("chat.platform %q is not one of slack, discord", c.Chat.Platform))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
