package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"calnotion/internal/models"
)

// Source lists upcoming events from a calendar.
type Source interface {
	ListUpcoming(ctx context.Context, limit int, calendarID string) ([]models.Event, error)
}

// Sink stores events as rows of a table.
type Sink interface {
	ListExisting(ctx context.Context, tableID string) ([]models.Event, error)
	Create(ctx context.Context, tableID string, event models.Event) error
}

// Recorder receives the outcome of every sync cycle.
type Recorder interface {
	ObserveRun(result Result, err error, elapsed time.Duration)
}

// Options selects what a Syncer copies and where.
type Options struct {
	CalendarID string
	TableID    string
	Limit      int
	DryRun     bool
}

// Result summarizes one sync cycle.
type Result struct {
	Fetched  int // events returned by the source
	Existing int // rows already in the destination
	Skipped  int // events whose gcal_id was already present
	Created  int // rows created in this cycle
}

// Syncer orchestrates the one-way synchronization from a Source into a Sink.
type Syncer struct {
	logger   *slog.Logger
	source   Source
	sink     Sink
	opts     Options
	recorder Recorder
}

// NewSyncer creates a new Syncer. recorder may be nil.
func NewSyncer(logger *slog.Logger, source Source, sink Sink, opts Options, recorder Recorder) (*Syncer, error) {
	if source == nil || sink == nil {
		return nil, fmt.Errorf("syncer needs both a source and a sink")
	}
	if opts.TableID == "" {
		return nil, fmt.Errorf("syncer needs a destination table id")
	}
	return &Syncer{
		logger:   logger,
		source:   source,
		sink:     sink,
		opts:     opts,
		recorder: recorder,
	}, nil
}

// Sync performs a full synchronization cycle.
//
// Events whose gcal_id is already present in the destination are skipped, so
// running Sync again against an unchanged source creates nothing. The first
// failed create aborts the cycle; rows created before it are kept and the
// next cycle skips them.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	started := time.Now()
	result, err := s.sync(ctx)
	if s.recorder != nil {
		s.recorder.ObserveRun(result, err, time.Since(started))
	}
	return result, err
}

func (s *Syncer) sync(ctx context.Context) (Result, error) {
	var result Result
	s.logger.Info("Starting sync cycle.", "calendarID", s.opts.CalendarID, "tableID", s.opts.TableID)

	candidates, err := s.source.ListUpcoming(ctx, s.opts.Limit, s.opts.CalendarID)
	if err != nil {
		return result, fmt.Errorf("failed to fetch source events: %w", err)
	}
	result.Fetched = len(candidates)
	if len(candidates) == 0 {
		s.logger.Info("Nothing to sync.")
		return result, nil
	}

	existing, err := s.sink.ListExisting(ctx, s.opts.TableID)
	if err != nil {
		return result, fmt.Errorf("failed to fetch existing rows: %w", err)
	}
	result.Existing = len(existing)

	fresh := FilterNew(candidates, existing)
	result.Skipped = len(candidates) - len(fresh)
	s.logger.Info("Computed events to sync.", "fetched", result.Fetched, "existing", result.Existing, "new", len(fresh))

	for _, event := range fresh {
		if s.opts.DryRun {
			s.logger.Info("[DRY RUN] Would create row", "title", event.Title, "start", event.Start, "gcalID", event.GCalID)
			continue
		}
		if err := s.sink.Create(ctx, s.opts.TableID, event); err != nil {
			return result, fmt.Errorf("failed to create row for %s after %d created: %w", event, result.Created, err)
		}
		result.Created++
	}

	s.logger.Info("Sync cycle finished.", "created", result.Created, "skipped", result.Skipped)
	return result, nil
}

// FilterNew returns the candidates whose gcal_id does not appear among the
// existing rows, in their original order. Rows without a gcal_id never match.
func FilterNew(candidates, existing []models.Event) []models.Event {
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		if e.GCalID != "" {
			seen[e.GCalID] = struct{}{}
		}
	}

	out := make([]models.Event, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.GCalID]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}
