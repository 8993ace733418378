// Package config defines the synchronizer configuration and how it is loaded.
package config

import (
	"fmt"
	"time"

	"calnotion/internal/notion"
)

// Source and sink kinds.
const (
	SourceGoogle = "google"
	SourceICS    = "ics"
	SinkNotion   = "notion"
	SinkCalDAV   = "caldav"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// SecretDir holds credentials.json, token.json and notion_secrets.json.
	SecretDir string `koanf:"secret_dir"`

	// MetricsAddr, when set, serves /metrics while watching, e.g. ":9090".
	MetricsAddr string `koanf:"metrics_addr"`

	Source SourceConfig `koanf:"source"`
	Sink   SinkConfig   `koanf:"sink"`
}

// SourceConfig selects the calendar events are read from.
type SourceConfig struct {
	// Type is "google" or "ics".
	Type string `koanf:"type"`

	// CalendarID is the Google calendar id, or the feed URL for ics.
	CalendarID string `koanf:"calendar_id"`

	// Limit caps the number of upcoming events per run.
	Limit int `koanf:"limit"`

	Google GoogleConfig `koanf:"google"`
	ICS    ICSConfig    `koanf:"ics"`
}

// GoogleConfig carries optional OAuth client credentials. When empty,
// credentials.json in SecretDir is used.
type GoogleConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
}

// ICSConfig tunes recurrence expansion for iCalendar feeds.
type ICSConfig struct {
	Horizon  time.Duration `koanf:"horizon"`
	Timezone string        `koanf:"timezone"`
}

// SinkConfig selects the table events are written to.
type SinkConfig struct {
	// Type is "notion" or "caldav".
	Type string `koanf:"type"`

	// TableID is the Notion database id, or the CalDAV calendar name.
	TableID string `koanf:"table_id"`

	Notion NotionConfig `koanf:"notion"`
	CalDAV CalDAVConfig `koanf:"caldav"`
}

// NotionConfig holds the integration token and the database schema.
type NotionConfig struct {
	Token  string        `koanf:"token"`
	Schema notion.Schema `koanf:"schema"`
}

// CalDAVConfig holds the server endpoint and basic-auth credentials.
type CalDAVConfig struct {
	Endpoint string `koanf:"endpoint"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		SecretDir: ".",
		Source: SourceConfig{
			Type:       SourceGoogle,
			CalendarID: "primary",
			Limit:      10,
			ICS: ICSConfig{
				Horizon:  30 * 24 * time.Hour,
				Timezone: "UTC",
			},
		},
		Sink: SinkConfig{
			Type: SinkNotion,
			Notion: NotionConfig{
				Schema: notion.DefaultSchema(),
			},
			CalDAV: CalDAVConfig{
				Endpoint: "https://caldav.icloud.com/",
			},
		},
	}
}

// Validate checks that the selected source and sink are fully configured.
func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceGoogle:
	case SourceICS:
		if c.Source.CalendarID == "" || c.Source.CalendarID == "primary" {
			return fmt.Errorf("source.calendar_id must be the feed URL for ics sources")
		}
		if c.Source.ICS.Horizon <= 0 {
			return fmt.Errorf("source.ics.horizon must be positive")
		}
	default:
		return fmt.Errorf("unknown source type %q", c.Source.Type)
	}
	if c.Source.Limit < 0 {
		return fmt.Errorf("source.limit must not be negative")
	}

	if c.Sink.TableID == "" {
		return fmt.Errorf("sink.table_id must not be empty")
	}
	switch c.Sink.Type {
	case SinkNotion:
		if c.Sink.Notion.Token == "" {
			return fmt.Errorf("sink.notion.token must not be empty")
		}
	case SinkCalDAV:
		if c.Sink.CalDAV.Endpoint == "" || c.Sink.CalDAV.Username == "" || c.Sink.CalDAV.Password == "" {
			return fmt.Errorf("sink.caldav endpoint, username and password must be set")
		}
	default:
		return fmt.Errorf("unknown sink type %q", c.Sink.Type)
	}
	return nil
}
