package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"calnotion/internal/config"
	"calnotion/internal/google"
	"calnotion/internal/metrics"
	"calnotion/internal/syncer"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "calnotion",
		Usage: "Copy upcoming calendar events into a Notion database.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to a YAML config file.", EnvVars: []string{"CALNOTION_CONFIG"}},
			&cli.StringFlag{Name: "secret-dir", Usage: "Directory holding credentials.json, token.json and notion_secrets.json."},
		},
		Commands: []*cli.Command{
			authCommand(),
			calendarsCommand(),
			syncCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the layered config and applies the global flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("secret-dir") {
		cfg.SecretDir = c.String("secret-dir")
		if cfg.Sink.Type == config.SinkNotion && cfg.Sink.Notion.Token == "" {
			if cfg.Sink.Notion.Token, err = config.LoadNotionToken(cfg.SecretDir); err != nil {
				return nil, err
			}
		}
	}
	return cfg, nil
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account and store token.json in the secret directory.",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(cfg.SecretDir, cfg.Source.Google.ClientID, cfg.Source.Google.ClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			tokenFile := google.TokenPath(cfg.SecretDir)
			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the Google calendars the authenticated account can read.",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)

			client, err := google.NewClient(c.Context, logger, cfg.SecretDir, cfg.Source.Google.ClientID, cfg.Source.Google.ClientSecret)
			if err != nil {
				return fmt.Errorf("failed to create google client: %w", err)
			}
			entries, err := client.DiscoverCalendars(c.Context)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s\t%s\n", e.Id, e.Summary)
			}
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the calendar synchronization process.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run the sync cycle once and exit."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Run sync every N seconds. Overrides --once."},
			&cli.StringFlag{Name: "calendar-id", Usage: "Source calendar id (or feed URL for ics sources)."},
			&cli.StringFlag{Name: "database-id", Aliases: []string{"table-id"}, Usage: "Destination database id (or calendar name for caldav)."},
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of upcoming events per cycle."},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address while watching."},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			applySyncFlags(c, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger := setupLogger(cfg.LogLevel)

			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			source, err := newSource(ctx, logger, cfg)
			if err != nil {
				return err
			}
			sink, err := newSink(logger, cfg)
			if err != nil {
				return err
			}

			recorder := metrics.NewRecorder()
			s, err := syncer.NewSyncer(logger, source, sink, syncer.Options{
				CalendarID: cfg.Source.CalendarID,
				TableID:    cfg.Sink.TableID,
				Limit:      cfg.Source.Limit,
				DryRun:     c.Bool("dry-run"),
			}, recorder)
			if err != nil {
				return fmt.Errorf("failed to create syncer: %w", err)
			}

			// --watch flag takes precedence
			if c.IsSet("watch") {
				if cfg.MetricsAddr != "" {
					go func() {
						if err := recorder.Serve(ctx, logger, cfg.MetricsAddr); err != nil {
							logger.Error("Metrics server failed", "error", err)
						}
					}()
				}
				return watch(ctx, logger, s, time.Duration(c.Int("watch"))*time.Second)
			}

			// --once is the default behavior if --watch is not set
			logger.Info("Running a single sync cycle.")
			if _, err := s.Sync(ctx); err != nil {
				return fmt.Errorf("single sync cycle failed: %w", err)
			}
			return nil
		},
	}
}

func applySyncFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("calendar-id") {
		cfg.Source.CalendarID = c.String("calendar-id")
	}
	if c.IsSet("database-id") {
		cfg.Sink.TableID = c.String("database-id")
	}
	if c.IsSet("limit") {
		cfg.Source.Limit = c.Int("limit")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
}

// watch runs a sync cycle every interval until ctx is cancelled. Failed
// cycles are logged and retried on the next tick.
func watch(ctx context.Context, logger *slog.Logger, s *syncer.Syncer, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("watch interval must be positive")
	}
	logger.Info("Starting watcher.", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sync(ctx); err != nil {
			logger.Error("Sync cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("Watcher stopped.")
			return nil
		case <-ticker.C:
		}
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
