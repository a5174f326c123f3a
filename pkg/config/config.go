package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Viewer struct {
		UserID   string `yaml:"user_id"`
		Timezone string `yaml:"timezone"`
	} `yaml:"viewer"`
	RateLimit struct {
		WindowMs int64 `yaml:"window_ms"`
		MaxNew   int   `yaml:"max_new"`
	} `yaml:"rate_limit"`
	Credits struct {
		Available int `yaml:"available"` // negative means unlimited
		Floor     int `yaml:"floor"`
		CostPer   int `yaml:"cost_per"`
	} `yaml:"credits"`
	Presence struct {
		TTLMs int64 `yaml:"ttl_ms"`
	} `yaml:"presence"`
	Notifications struct {
		DedupeWindowMs int64    `yaml:"dedupe_window_ms"`
		DigestWindowMs int64    `yaml:"digest_window_ms"`
		MaxItems       int      `yaml:"max_items"`
		BypassSeverity []string `yaml:"bypass_severity"`
		QuietHours     struct {
			Enabled     bool   `yaml:"enabled"`
			Start       string `yaml:"start"` // HH:MM
			End         string `yaml:"end"`   // HH:MM
			TzOffsetMin int    `yaml:"tz_offset_min"`
		} `yaml:"quiet_hours"`
	} `yaml:"notifications"`
	Moderation struct {
		RequiredApprovals int `yaml:"required_approvals"`
	} `yaml:"moderation"`
	Uploads struct {
		TTLMs          int64 `yaml:"ttl_ms"`
		PollIntervalMs int64 `yaml:"poll_interval_ms"`
		PollMaxAttempts int  `yaml:"poll_max_attempts"`
	} `yaml:"uploads"`
	Transport struct {
		WSURL     string `yaml:"ws_url"`
		AuthToken string `yaml:"auth_token"`
	} `yaml:"transport"`
	Logging struct {
		Level string `yaml:"level"`
		Sink  string `yaml:"sink"`
	} `yaml:"logging"`
	Audit struct {
		Path string `yaml:"path"`
	} `yaml:"audit"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// Default returns a config populated with the stock limits used when a
// field is absent from the file and environment.
func Default() *Config {
	var cfg Config
	cfg.RateLimit.WindowMs = (24 * time.Hour).Milliseconds()
	cfg.RateLimit.MaxNew = 5
	cfg.Credits.Available = -1
	cfg.Presence.TTLMs = (60 * time.Second).Milliseconds()
	cfg.Notifications.DedupeWindowMs = (2 * time.Minute).Milliseconds()
	cfg.Notifications.DigestWindowMs = (10 * time.Minute).Milliseconds()
	cfg.Notifications.MaxItems = 200
	cfg.Notifications.BypassSeverity = []string{"CRITICAL"}
	cfg.Moderation.RequiredApprovals = 2
	cfg.Uploads.TTLMs = (60 * time.Minute).Milliseconds()
	cfg.Uploads.PollIntervalMs = 1500
	cfg.Uploads.PollMaxAttempts = 20
	return &cfg
}

// applyDefaults fills zero-valued limit fields after a file load so a
// sparse config file still yields usable limits.
func (c *Config) applyDefaults() {
	d := Default()
	if c.RateLimit.WindowMs == 0 {
		c.RateLimit.WindowMs = d.RateLimit.WindowMs
	}
	if c.RateLimit.MaxNew == 0 {
		c.RateLimit.MaxNew = d.RateLimit.MaxNew
	}
	if c.Credits.Available == 0 && c.Credits.CostPer == 0 {
		c.Credits = d.Credits
	}
	if c.Presence.TTLMs == 0 {
		c.Presence.TTLMs = d.Presence.TTLMs
	}
	if c.Notifications.DedupeWindowMs == 0 {
		c.Notifications.DedupeWindowMs = d.Notifications.DedupeWindowMs
	}
	if c.Notifications.DigestWindowMs == 0 {
		c.Notifications.DigestWindowMs = d.Notifications.DigestWindowMs
	}
	if c.Notifications.MaxItems == 0 {
		c.Notifications.MaxItems = d.Notifications.MaxItems
	}
	if len(c.Notifications.BypassSeverity) == 0 {
		c.Notifications.BypassSeverity = d.Notifications.BypassSeverity
	}
	if c.Moderation.RequiredApprovals == 0 {
		c.Moderation.RequiredApprovals = d.Moderation.RequiredApprovals
	}
	if c.Uploads.TTLMs == 0 {
		c.Uploads.TTLMs = d.Uploads.TTLMs
	}
	if c.Uploads.PollIntervalMs == 0 {
		c.Uploads.PollIntervalMs = d.Uploads.PollIntervalMs
	}
	if c.Uploads.PollMaxAttempts == 0 {
		c.Uploads.PollMaxAttempts = d.Uploads.PollMaxAttempts
	}
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (cfgPath string, setFlags map[string]bool) {
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *cfgPtr, setFlags
}

// LoadEnvOverrides applies environment overrides onto the provided cfg
// and reports whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			envUsed = true
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				envUsed = true
				*dst = n
			}
		}
	}
	setInt64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				envUsed = true
				*dst = n
			}
		}
	}

	setStr("MSGCORE_VIEWER_ID", &cfg.Viewer.UserID)
	setStr("MSGCORE_TIMEZONE", &cfg.Viewer.Timezone)
	setInt64("MSGCORE_RATE_WINDOW_MS", &cfg.RateLimit.WindowMs)
	setInt("MSGCORE_RATE_MAX_NEW", &cfg.RateLimit.MaxNew)
	setInt("MSGCORE_CREDITS_AVAILABLE", &cfg.Credits.Available)
	setInt("MSGCORE_CREDITS_FLOOR", &cfg.Credits.Floor)
	setInt("MSGCORE_CREDITS_COST", &cfg.Credits.CostPer)
	setInt64("MSGCORE_PRESENCE_TTL_MS", &cfg.Presence.TTLMs)
	setInt64("MSGCORE_DEDUPE_WINDOW_MS", &cfg.Notifications.DedupeWindowMs)
	setInt64("MSGCORE_DIGEST_WINDOW_MS", &cfg.Notifications.DigestWindowMs)
	setInt("MSGCORE_NOTIFY_MAX_ITEMS", &cfg.Notifications.MaxItems)
	setStr("MSGCORE_QUIET_START", &cfg.Notifications.QuietHours.Start)
	setStr("MSGCORE_QUIET_END", &cfg.Notifications.QuietHours.End)
	if v := os.Getenv("MSGCORE_QUIET_ENABLED"); v != "" {
		envUsed = true
		vl := strings.ToLower(strings.TrimSpace(v))
		cfg.Notifications.QuietHours.Enabled = vl == "1" || vl == "true" || vl == "yes"
	}
	setInt("MSGCORE_MOD_REQUIRED_APPROVALS", &cfg.Moderation.RequiredApprovals)
	setInt64("MSGCORE_UPLOAD_TTL_MS", &cfg.Uploads.TTLMs)
	setStr("MSGCORE_WS_URL", &cfg.Transport.WSURL)
	setStr("MSGCORE_AUTH_TOKEN", &cfg.Transport.AuthToken)
	setStr("MSGCORE_LOG_LEVEL", &cfg.Logging.Level)
	setStr("MSGCORE_LOG_SINK", &cfg.Logging.Sink)
	setStr("MSGCORE_AUDIT_PATH", &cfg.Audit.Path)
	setStr("MSGCORE_METRICS_ADDR", &cfg.Metrics.Addr)
	return envUsed
}

// LoadEffective loads config from the given path and applies environment
// overrides. A missing file yields the defaults.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = Default()
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the environment variable `MSGCORE_CONFIG` when the flag was
// not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("MSGCORE_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// ParseClock parses an "HH:MM" quiet-hours boundary into minutes of day.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value: %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock value: %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock value: %q", s)
	}
	return h*60 + m, nil
}
