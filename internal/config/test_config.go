package config

import "time"

// TestConfig returns a config suitable for testing
func TestConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     "http://127.0.0.1:5000/api",
			WebURL:      "http://127.0.0.1:3000",
			HTTPTimeout: 5 * time.Second,
			UserAgent:   "notifeed-test/1.0",
			AllowLocal:  true,
		},
		Session: SessionConfig{
			Path:    "session-test.db", // tests override with a temp dir
			Timeout: 1 * time.Second,
		},
		Feed: FeedConfig{
			PageSize:       20,
			PollInterval:   50 * time.Millisecond,
			ReconcileDelay: 10 * time.Millisecond,
		},
		Search: SearchConfig{
			Engine: "simple",
			Limit:  20,
		},
		UI:     defaultConfig().UI,
		Opener: defaultConfig().Opener,
		Keys:   defaultConfig().Keys,
		Log:    LogConfig{Level: "off"},
	}
}
