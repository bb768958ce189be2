package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChatID is a Telegram chat id in config. YAML authors write ids both
// quoted and bare ("-100123" and -100123); both decode to the same value.
type ChatID string

func (c *ChatID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = ChatID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = ChatID(n.String())
	return nil
}

func (c ChatID) String() string { return string(c) }

// Int64 parses the id. Validate has already rejected non-numeric values.
func (c ChatID) Int64() (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(string(c)), 10, 64)
}

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Watch    WatchConfig    `json:"watch"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// Channel is the numeric chat id where new posts are announced.
	Channel      ChatID  `json:"channel"`
	GroupLog     ChatID  `json:"group_log,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// WatchConfig controls the poll loop and the per-source fetchers.
//
// All durations are Go duration strings (e.g. "30s", "5m").
type WatchConfig struct {
	// Schedule is either a Go duration ("5m") or a standard cron
	// expression ("*/5 * * * *").
	Schedule string `json:"schedule"`

	// ActiveHours restricts polling to a local-time window, "HH:MM-HH:MM".
	// Empty means always active. Overnight windows ("22:00-06:00") wrap.
	ActiveHours string `json:"active_hours,omitempty"`
	Timezone    string `json:"timezone,omitempty"`

	RequestTimeout string `json:"request_timeout,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	// CooldownMax caps the adaptive rate-limit cooldown per source.
	CooldownMax string `json:"cooldown_max,omitempty"`
	// WarnAfterFailures escalates a source's fetch failures to a warning
	// once this many consecutive polls have failed.
	WarnAfterFailures int `json:"warn_after_failures,omitempty"`

	Bluesky   BlueskyConfig   `json:"bluesky"`
	Instagram InstagramConfig `json:"instagram"`
}

type BlueskyConfig struct {
	Enabled bool `json:"enabled"`
	// Handle is the account being watched (e.g. "alice.bsky.social").
	Handle string `json:"handle"`
	// Identifier and Password authenticate the session used for fetching.
	// When omitted, only the public fallback endpoint is used.
	Identifier string `json:"identifier,omitempty"`
	Password   string `json:"password,omitempty"`
	Host       string `json:"host,omitempty"`
}

type InstagramConfig struct {
	Enabled  bool   `json:"enabled"`
	Username string `json:"username"`
	// RSSURL is an optional mirror feed used as fallback when the web
	// profile endpoint is blocked.
	RSSURL string `json:"rss_url,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// Validate checks cross-field consistency. It is also installed as the
// manager's reload validator so a broken edit never replaces a good config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := c.Telegram.Channel.Int64(); err != nil {
		return fmt.Errorf("telegram.channel must be a numeric chat id")
	}
	if strings.TrimSpace(c.Watch.Schedule) == "" {
		return fmt.Errorf("watch.schedule is required")
	}
	if !c.Watch.Bluesky.Enabled && !c.Watch.Instagram.Enabled {
		return fmt.Errorf("watch: at least one source must be enabled")
	}
	if c.Watch.Bluesky.Enabled && strings.TrimSpace(c.Watch.Bluesky.Handle) == "" {
		return fmt.Errorf("watch.bluesky.handle is required when bluesky is enabled")
	}
	if c.Watch.Bluesky.Enabled {
		id := strings.TrimSpace(c.Watch.Bluesky.Identifier)
		pw := strings.TrimSpace(c.Watch.Bluesky.Password)
		if (id == "") != (pw == "") {
			return fmt.Errorf("watch.bluesky: identifier and password must be set together")
		}
	}
	if c.Watch.Instagram.Enabled && strings.TrimSpace(c.Watch.Instagram.Username) == "" {
		return fmt.Errorf("watch.instagram.username is required when instagram is enabled")
	}
	if tz := strings.TrimSpace(c.Watch.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("watch.timezone: %w", err)
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"watch.request_timeout", c.Watch.RequestTimeout},
		{"watch.retry_base", c.Watch.RetryBase},
		{"watch.cooldown_max", c.Watch.CooldownMax},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}
