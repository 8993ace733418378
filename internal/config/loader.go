package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "CALNOTION_"
	notionSecretsFile = "notion_secrets.json"
)

// Load builds a Config by layering defaults, an optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. YAML file at path, or at CALNOTION_CONFIG when path is empty
//  3. env (prefix CALNOTION_, "__" separates nested keys)
//
// When no Notion token is configured, the token is read from
// notion_secrets.json inside the secret directory.
func Load(path string) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// CALNOTION_SINK__NOTION__TOKEN -> sink.notion.token
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	applyLegacyEnv(&cfg)

	if cfg.Sink.Type == SinkNotion && cfg.Sink.Notion.Token == "" {
		token, err := LoadNotionToken(cfg.SecretDir)
		if err != nil {
			return nil, err
		}
		cfg.Sink.Notion.Token = token
	}
	return &cfg, nil
}

// LoadNotionToken reads the "token" key of secretDir/notion_secrets.json.
// A missing file yields an empty token.
func LoadNotionToken(secretDir string) (string, error) {
	path := filepath.Join(secretDir, notionSecretsFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}

	// JSON is valid YAML, so the YAML parser reads the secrets file as is.
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return k.String("token"), nil
}

// applyLegacyEnv honours the unprefixed variables the CLI has always read.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" && os.Getenv(envPrefix+"LOG_LEVEL") == "" {
		cfg.LogLevel = v
	}
	if cfg.Source.Google.ClientID == "" {
		cfg.Source.Google.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	}
	if cfg.Source.Google.ClientSecret == "" {
		cfg.Source.Google.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}
}
