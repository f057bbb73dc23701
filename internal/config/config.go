package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Session SessionConfig `mapstructure:"session"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Search  SearchConfig  `mapstructure:"search"`
	UI      UIConfig      `mapstructure:"ui"`
	Opener  OpenerConfig  `mapstructure:"opener"`
	Keys    KeyConfig     `mapstructure:"keys"`
	Log     LogConfig     `mapstructure:"log"`
}

type APIConfig struct {
	BaseURL     string        `mapstructure:"base_url" validate:"required,url"`
	WebURL      string        `mapstructure:"web_url" validate:"omitempty,url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	UserAgent   string        `mapstructure:"user_agent"`
	// AllowLocal permits localhost and private addresses as base URL.
	AllowLocal bool `mapstructure:"allow_local"`
}

type SessionConfig struct {
	Path    string        `mapstructure:"path" validate:"required"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type FeedConfig struct {
	PageSize       int           `mapstructure:"page_size" validate:"min=1,max=100"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ReconcileDelay time.Duration `mapstructure:"reconcile_delay" validate:"gte=0"`
}

type SearchConfig struct {
	// Engine is "bleve" or "simple".
	Engine string `mapstructure:"engine" validate:"oneof=bleve simple"`
	Limit  int    `mapstructure:"limit" validate:"min=1"`
}

type UIConfig struct {
	Colors       UIColors           `mapstructure:"colors"`
	Notification NotificationConfig `mapstructure:"notification"`
}

type UIColors struct {
	Primary    string `mapstructure:"primary"`
	Secondary  string `mapstructure:"secondary"`
	Accent     string `mapstructure:"accent"`
	Background string `mapstructure:"background"`
	Surface    string `mapstructure:"surface"`
	Text       string `mapstructure:"text"`
	Muted      string `mapstructure:"muted"`
	Error      string `mapstructure:"error"`
	Success    string `mapstructure:"success"`
}

type NotificationConfig struct {
	MaxPreviewLength int `mapstructure:"max_preview_length"`
	WordWrapMaxWidth int `mapstructure:"word_wrap_max_width"`
	WordWrapMinWidth int `mapstructure:"word_wrap_min_width"`
}

type OpenerConfig struct {
	Darwin  []string `mapstructure:"darwin"`
	Linux   []string `mapstructure:"linux"`
	Windows []string `mapstructure:"windows"`
	Default string   `mapstructure:"default"`
}

type KeyConfig struct {
	// Modifier is prefixed to single-character bindings, e.g. "ctrl" or "alt".
	Modifier string      `mapstructure:"modifier"`
	Bindings KeyBindings `mapstructure:"bindings"`
}

type KeyBindings struct {
	Quit        string `mapstructure:"quit"`
	Search      string `mapstructure:"search"`
	Refresh     string `mapstructure:"refresh"`
	MarkRead    string `mapstructure:"mark_read"`
	MarkAllRead string `mapstructure:"mark_all_read"`
	Delete      string `mapstructure:"delete"`
	LoadMore    string `mapstructure:"load_more"`
	Open        string `mapstructure:"open"`
	Back        string `mapstructure:"back"`
	Help        string `mapstructure:"help"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	sessionPath := filepath.Join(homeDir, ".notifeed", "session.db")
	logPath := filepath.Join(homeDir, ".notifeed", "notifeed.log")

	return &Config{
		API: APIConfig{
			BaseURL:     "http://localhost:5000/api",
			WebURL:      "http://localhost:3000",
			HTTPTimeout: 15 * time.Second,
			UserAgent:   "notifeed/1.0 (https://github.com/pders01/notifeed)",
			AllowLocal:  true,
		},
		Session: SessionConfig{
			Path:    sessionPath,
			Timeout: 1 * time.Second,
		},
		Feed: FeedConfig{
			PageSize:       20,
			PollInterval:   30 * time.Second,
			ReconcileDelay: 1 * time.Second,
		},
		Search: SearchConfig{
			Engine: "bleve",
			Limit:  50,
		},
		UI: UIConfig{
			Colors: UIColors{
				Primary:    "#FF6B6B",
				Secondary:  "#4ECDC4",
				Accent:     "#95E1D3",
				Background: "#1A1A2E",
				Surface:    "#16213E",
				Text:       "#EAEAEA",
				Muted:      "#94A3B8",
				Error:      "#F87171",
				Success:    "#4ADE80",
			},
			Notification: NotificationConfig{
				MaxPreviewLength: 80,
				WordWrapMaxWidth: 120,
				WordWrapMinWidth: 40,
			},
		},
		Opener: OpenerConfig{
			Darwin:  []string{"open"},
			Linux:   []string{"xdg-open", "sensible-browser", "firefox"},
			Windows: []string{"start"},
			Default: getDefaultOpener(),
		},
		Keys: KeyConfig{
			Modifier: "",
			Bindings: KeyBindings{
				Quit:        "q",
				Search:      "s",
				Refresh:     "r",
				MarkRead:    "m",
				MarkAllRead: "a",
				Delete:      "x",
				LoadMore:    "n",
				Open:        "o",
				Back:        "esc",
				Help:        "?",
			},
		},
		Log: LogConfig{
			Level: "off",
			Path:  logPath,
		},
	}
}

func getDefaultOpener() string {
	switch runtime.GOOS {
	case "darwin":
		return "open"
	case "linux":
		return "xdg-open"
	case "windows":
		return "start"
	default:
		return "open"
	}
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	for key, value := range flatten(defaultConfig()) {
		v.SetDefault(key, value)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "notifeed")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("NOTIFEED")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints declared in the struct tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Session.Path = expandPath(cfg.Session.Path)
	cfg.Log.Path = expandPath(cfg.Log.Path)
}

func Save(config *Config, path string) error {
	v := viper.New()

	for key, value := range flatten(config) {
		v.Set(key, value)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

// flatten maps every leaf setting to its dotted viper key. Durations are
// rendered as strings so the written TOML stays readable.
func flatten(cfg *Config) map[string]interface{} {
	c := cfg.UI.Colors
	n := cfg.UI.Notification
	b := cfg.Keys.Bindings
	return map[string]interface{}{
		"api.base_url":     cfg.API.BaseURL,
		"api.web_url":      cfg.API.WebURL,
		"api.http_timeout": cfg.API.HTTPTimeout.String(),
		"api.user_agent":   cfg.API.UserAgent,
		"api.allow_local":  cfg.API.AllowLocal,

		"session.path":    cfg.Session.Path,
		"session.timeout": cfg.Session.Timeout.String(),

		"feed.page_size":       cfg.Feed.PageSize,
		"feed.poll_interval":   cfg.Feed.PollInterval.String(),
		"feed.reconcile_delay": cfg.Feed.ReconcileDelay.String(),

		"search.engine": cfg.Search.Engine,
		"search.limit":  cfg.Search.Limit,

		"ui.colors.primary":    c.Primary,
		"ui.colors.secondary":  c.Secondary,
		"ui.colors.accent":     c.Accent,
		"ui.colors.background": c.Background,
		"ui.colors.surface":    c.Surface,
		"ui.colors.text":       c.Text,
		"ui.colors.muted":      c.Muted,
		"ui.colors.error":      c.Error,
		"ui.colors.success":    c.Success,

		"ui.notification.max_preview_length":  n.MaxPreviewLength,
		"ui.notification.word_wrap_max_width": n.WordWrapMaxWidth,
		"ui.notification.word_wrap_min_width": n.WordWrapMinWidth,

		"opener.darwin":  cfg.Opener.Darwin,
		"opener.linux":   cfg.Opener.Linux,
		"opener.windows": cfg.Opener.Windows,
		"opener.default": cfg.Opener.Default,

		"keys.modifier":               cfg.Keys.Modifier,
		"keys.bindings.quit":          b.Quit,
		"keys.bindings.search":        b.Search,
		"keys.bindings.refresh":       b.Refresh,
		"keys.bindings.mark_read":     b.MarkRead,
		"keys.bindings.mark_all_read": b.MarkAllRead,
		"keys.bindings.delete":        b.Delete,
		"keys.bindings.load_more":     b.LoadMore,
		"keys.bindings.open":          b.Open,
		"keys.bindings.back":          b.Back,
		"keys.bindings.help":          b.Help,

		"log.level": cfg.Log.Level,
		"log.path":  cfg.Log.Path,
	}
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
