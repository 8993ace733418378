package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"calnotion/internal/caldav"
	"calnotion/internal/config"
	"calnotion/internal/google"
	"calnotion/internal/ics"
	"calnotion/internal/notion"
	"calnotion/internal/syncer"
)

func newSource(ctx context.Context, logger *slog.Logger, cfg *config.Config) (syncer.Source, error) {
	switch cfg.Source.Type {
	case config.SourceGoogle:
		client, err := google.NewClient(ctx, logger, cfg.SecretDir, cfg.Source.Google.ClientID, cfg.Source.Google.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client: %w", err)
		}
		logger.Info("Initialized Google Calendar source.", "calendarID", cfg.Source.CalendarID)
		return client, nil
	case config.SourceICS:
		loc, err := time.LoadLocation(cfg.Source.ICS.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone '%s': %w", cfg.Source.ICS.Timezone, err)
		}
		logger.Info("Initialized iCalendar feed source.", "horizon", cfg.Source.ICS.Horizon)
		return ics.NewFeed(logger, &http.Client{Timeout: time.Minute}, cfg.Source.ICS.Horizon, loc), nil
	}
	return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
}

func newSink(logger *slog.Logger, cfg *config.Config) (syncer.Sink, error) {
	switch cfg.Sink.Type {
	case config.SinkNotion:
		client, err := notion.NewClient(logger, cfg.Sink.Notion.Token, cfg.Sink.Notion.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to create notion client: %w", err)
		}
		logger.Info("Initialized Notion sink.", "databaseID", cfg.Sink.TableID)
		return client, nil
	case config.SinkCalDAV:
		client, err := caldav.NewClient(logger, cfg.Sink.CalDAV.Endpoint, cfg.Sink.CalDAV.Username, cfg.Sink.CalDAV.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		logger.Info("Initialized CalDAV sink.", "calendar", cfg.Sink.TableID)
		return client, nil
	}
	return nil, fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
}
