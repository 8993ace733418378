package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"calnotion/internal/models"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeSource struct {
	events []models.Event
	err    error
	calls  int
}

func (f *fakeSource) ListUpcoming(_ context.Context, _ int, _ string) ([]models.Event, error) {
	f.calls++
	return f.events, f.err
}

// memorySink behaves like a destination table: created rows show up in the
// next ListExisting.
type memorySink struct {
	rows      []models.Event
	created   []models.Event
	listErr   error
	failAfter int // fail the create call after this many successes; -1 disables
	lists     int
}

func newMemorySink(rows ...models.Event) *memorySink {
	return &memorySink{rows: rows, failAfter: -1}
}

func (m *memorySink) ListExisting(_ context.Context, _ string) ([]models.Event, error) {
	m.lists++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]models.Event(nil), m.rows...), nil
}

func (m *memorySink) Create(_ context.Context, _ string, event models.Event) error {
	if m.failAfter >= 0 && len(m.created) >= m.failAfter {
		return errors.New("destination unavailable")
	}
	m.rows = append(m.rows, event)
	m.created = append(m.created, event)
	return nil
}

type recordedRun struct {
	result Result
	err    error
}

type fakeRecorder struct {
	runs []recordedRun
}

func (r *fakeRecorder) ObserveRun(result Result, err error, _ time.Duration) {
	r.runs = append(r.runs, recordedRun{result: result, err: err})
}

func ev(id string) models.Event {
	return models.Event{
		Start:  "2024-05-01T09:00:00Z",
		End:    "2024-05-01T10:00:00Z",
		Title:  "Event " + id,
		GCalID: id,
	}
}

func ids(events []models.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.GCalID)
	}
	return out
}

func newTestSyncer(source Source, sink Sink, opts Options, rec Recorder) *Syncer {
	if opts.TableID == "" {
		opts.TableID = "db1"
	}
	s, err := NewSyncer(slog.New(slog.NewTextHandler(io.Discard, nil)), source, sink, opts, rec)
	So(err, ShouldBeNil)
	return s
}

func TestSync(t *testing.T) {
	ctx := context.Background()

	Convey("Given a source with A and B and a destination already holding A", t, func() {
		source := &fakeSource{events: []models.Event{ev("A"), ev("B")}}
		sink := newMemorySink(ev("A"))
		s := newTestSyncer(source, sink, Options{}, nil)

		result, err := s.Sync(ctx)

		Convey("Then only B is created", func() {
			So(err, ShouldBeNil)
			So(ids(sink.created), ShouldResemble, []string{"B"})
			So(result, ShouldResemble, Result{Fetched: 2, Existing: 1, Skipped: 1, Created: 1})
		})
	})

	Convey("Given an initially empty destination", t, func() {
		source := &fakeSource{events: []models.Event{ev("1"), ev("2"), ev("3")}}
		sink := newMemorySink()
		s := newTestSyncer(source, sink, Options{}, nil)

		Convey("When syncing twice", func() {
			first, err := s.Sync(ctx)
			So(err, ShouldBeNil)
			second, err := s.Sync(ctx)
			So(err, ShouldBeNil)

			Convey("Then each gcal_id is stored exactly once", func() {
				So(first.Created, ShouldEqual, 3)
				So(second.Created, ShouldEqual, 0)
				So(second.Skipped, ShouldEqual, 3)
				So(ids(sink.rows), ShouldResemble, []string{"1", "2", "3"})
			})
		})
	})

	Convey("Given a source order with existing rows interleaved", t, func() {
		source := &fakeSource{events: []models.Event{ev("e"), ev("d"), ev("c"), ev("b"), ev("a")}}
		sink := newMemorySink(ev("d"), ev("b"))
		s := newTestSyncer(source, sink, Options{}, nil)

		_, err := s.Sync(ctx)

		Convey("Then creates follow the source order", func() {
			So(err, ShouldBeNil)
			So(ids(sink.created), ShouldResemble, []string{"e", "c", "a"})
		})
	})

	Convey("Given a source with no upcoming events", t, func() {
		source := &fakeSource{events: nil}
		sink := newMemorySink(ev("x"))
		s := newTestSyncer(source, sink, Options{}, nil)

		result, err := s.Sync(ctx)

		Convey("Then nothing is created and no error is raised", func() {
			So(err, ShouldBeNil)
			So(result.Created, ShouldEqual, 0)
			So(len(sink.created), ShouldEqual, 0)
		})
	})

	Convey("Given destination rows without a gcal_id", t, func() {
		source := &fakeSource{events: []models.Event{ev("A")}}
		sink := newMemorySink(models.Event{Title: "Manual row", Start: "2024-05-01T09:00:00Z"})
		s := newTestSyncer(source, sink, Options{}, nil)

		_, err := s.Sync(ctx)

		Convey("Then they never match a candidate", func() {
			So(err, ShouldBeNil)
			So(ids(sink.created), ShouldResemble, []string{"A"})
		})
	})

	Convey("Given a destination that fails on the second create", t, func() {
		source := &fakeSource{events: []models.Event{ev("1"), ev("2"), ev("3")}}
		sink := newMemorySink()
		sink.failAfter = 1
		rec := &fakeRecorder{}
		s := newTestSyncer(source, sink, Options{}, rec)

		result, err := s.Sync(ctx)

		Convey("Then the run aborts and keeps the rows already created", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "destination unavailable")
			So(result.Created, ShouldEqual, 1)
			So(ids(sink.rows), ShouldResemble, []string{"1"})
			So(len(rec.runs), ShouldEqual, 1)
			So(rec.runs[0].err, ShouldNotBeNil)
		})

		Convey("And a later run resumes from where it left off", func() {
			sink.failAfter = -1
			result, err := s.Sync(ctx)

			So(err, ShouldBeNil)
			So(result.Created, ShouldEqual, 2)
			So(ids(sink.rows), ShouldResemble, []string{"1", "2", "3"})
		})
	})

	Convey("Given a destination scan that fails", t, func() {
		source := &fakeSource{events: []models.Event{ev("1")}}
		sink := newMemorySink()
		sink.listErr = &models.MalformedRowError{RowID: "p1", Field: "Date", Reason: "is missing"}
		s := newTestSyncer(source, sink, Options{}, nil)

		_, err := s.Sync(ctx)

		Convey("Then nothing is created and the error is surfaced", func() {
			var malformed *models.MalformedRowError
			So(errors.As(err, &malformed), ShouldBeTrue)
			So(len(sink.created), ShouldEqual, 0)
		})
	})

	Convey("Given a source that fails", t, func() {
		boom := errors.New("token expired")
		source := &fakeSource{err: boom}
		sink := newMemorySink()
		s := newTestSyncer(source, sink, Options{}, nil)

		_, err := s.Sync(ctx)

		So(errors.Is(err, boom), ShouldBeTrue)
		So(sink.lists, ShouldEqual, 0)
	})

	Convey("Given dry-run mode", t, func() {
		source := &fakeSource{events: []models.Event{ev("1"), ev("2")}}
		sink := newMemorySink(ev("1"))
		rec := &fakeRecorder{}
		s := newTestSyncer(source, sink, Options{DryRun: true}, rec)

		result, err := s.Sync(ctx)

		Convey("Then nothing is written", func() {
			So(err, ShouldBeNil)
			So(len(sink.created), ShouldEqual, 0)
			So(result.Skipped, ShouldEqual, 1)
			So(rec.runs[0].result.Created, ShouldEqual, 0)
		})
	})
}

func TestNewSyncer(t *testing.T) {
	Convey("Given missing collaborators", t, func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))

		_, err := NewSyncer(logger, nil, newMemorySink(), Options{TableID: "db"}, nil)
		So(err, ShouldNotBeNil)

		_, err = NewSyncer(logger, &fakeSource{}, newMemorySink(), Options{}, nil)
		So(err, ShouldNotBeNil)
	})
}

func TestFilterNew(t *testing.T) {
	Convey("Given candidates and existing rows", t, func() {
		got := FilterNew(
			[]models.Event{ev("a"), ev("b"), ev("c")},
			[]models.Event{ev("b"), {Title: "no id"}},
		)

		So(ids(got), ShouldResemble, []string{"a", "c"})
	})
}
