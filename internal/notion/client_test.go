package notion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"calnotion/internal/models"

	"github.com/jomei/notionapi"
	. "github.com/smartystreets/goconvey/convey"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDatabase serves rows in fixed-size pages keyed by cursor.
type fakeDatabase struct {
	rows     []notionapi.Page
	pageSize int
	cursors  []notionapi.Cursor
	err      error
}

func (f *fakeDatabase) Query(_ context.Context, _ notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.cursors = append(f.cursors, req.StartCursor)

	start := 0
	if req.StartCursor != "" {
		fmt.Sscanf(string(req.StartCursor), "c%d", &start)
	}
	end := start + f.pageSize
	if end > len(f.rows) {
		end = len(f.rows)
	}
	resp := &notionapi.DatabaseQueryResponse{Results: f.rows[start:end]}
	if end < len(f.rows) {
		resp.HasMore = true
		resp.NextCursor = notionapi.Cursor(fmt.Sprintf("c%d", end))
	}
	return resp, nil
}

type fakePages struct {
	created []*notionapi.PageCreateRequest
	err     error
}

func (f *fakePages) Create(_ context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, req)
	return &notionapi.Page{ID: notionapi.ObjectID(fmt.Sprintf("page-%d", len(f.created)))}, nil
}

func row(id, gcalID string) notionapi.Page {
	start := notionapi.Date(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	end := notionapi.Date(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			"Event": &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: "Row " + id}}},
			"Date":  &notionapi.DateProperty{Date: &notionapi.DateObject{Start: &start, End: &end}},
			"gcal_id": &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: gcalID}},
			},
		},
	}
}

func TestListExisting(t *testing.T) {
	Convey("Given a database spread across several result pages", t, func() {
		db := &fakeDatabase{pageSize: 2}
		for i := 0; i < 5; i++ {
			db.rows = append(db.rows, row(fmt.Sprintf("p%d", i), fmt.Sprintf("g%d", i)))
		}
		client := newClient(discardLogger(), db, &fakePages{}, DefaultSchema())

		Convey("When listing existing rows", func() {
			events, err := client.ListExisting(context.Background(), "db1")

			Convey("Then every page is fetched and aggregated in order", func() {
				So(err, ShouldBeNil)
				So(len(events), ShouldEqual, 5)
				So(events[0].GCalID, ShouldEqual, "g0")
				So(events[4].GCalID, ShouldEqual, "g4")
				So(db.cursors, ShouldResemble, []notionapi.Cursor{"", "c2", "c4"})
			})

			Convey("Then the row fields are mapped", func() {
				So(events[1].Title, ShouldEqual, "Row p1")
				So(events[1].Start, ShouldEqual, "2024-05-01T09:00:00Z")
				So(events[1].End, ShouldEqual, "2024-05-01T10:00:00Z")
				So(events[1].Location, ShouldBeNil)
			})
		})
	})

	Convey("Given a database containing a malformed row", t, func() {
		db := &fakeDatabase{pageSize: 2, rows: []notionapi.Page{row("p0", "g0"), row("p1", "g1"), row("p2", "g2")}}
		delete(db.rows[2].Properties, "Date")
		client := newClient(discardLogger(), db, &fakePages{}, DefaultSchema())

		_, err := client.ListExisting(context.Background(), "db1")

		Convey("Then the whole scan fails with a MalformedRowError", func() {
			var malformed *models.MalformedRowError
			So(errors.As(err, &malformed), ShouldBeTrue)
			So(malformed.RowID, ShouldEqual, "p2")
			So(malformed.Field, ShouldEqual, "Date")
		})
	})

	Convey("Given a database query that fails", t, func() {
		boom := errors.New("unauthorized")
		client := newClient(discardLogger(), &fakeDatabase{err: boom}, &fakePages{}, DefaultSchema())

		_, err := client.ListExisting(context.Background(), "db1")

		So(errors.Is(err, boom), ShouldBeTrue)
	})
}

func TestCreate(t *testing.T) {
	Convey("Given a Notion client", t, func() {
		pages := &fakePages{}
		client := newClient(discardLogger(), &fakeDatabase{}, pages, DefaultSchema())
		event := models.Event{
			Start:    "2024-05-01T09:00:00+02:00",
			End:      "2024-05-01T10:00:00+02:00",
			Title:    "Planning",
			Location: models.StringPtr("https://meet.google.com/xyz"),
			GCalID:   "g1",
		}

		Convey("When creating the same event twice", func() {
			So(client.Create(context.Background(), "db1", event), ShouldBeNil)
			So(client.Create(context.Background(), "db1", event), ShouldBeNil)

			Convey("Then two rows are created under the database", func() {
				So(len(pages.created), ShouldEqual, 2)
				req := pages.created[0]
				So(req.Parent.Type, ShouldEqual, notionapi.ParentTypeDatabaseID)
				So(req.Parent.DatabaseID, ShouldEqual, notionapi.DatabaseID("db1"))
				So(req.Properties, ShouldContainKey, "Meeting")
			})
		})

		Convey("When the page service fails", func() {
			pages.err = errors.New("rate limited")
			err := client.Create(context.Background(), "db1", event)

			So(err, ShouldNotBeNil)
			So(errors.Is(err, pages.err), ShouldBeTrue)
		})

		Convey("When the event has an unparseable timestamp", func() {
			event.Start = "not a time"
			err := client.Create(context.Background(), "db1", event)

			So(err, ShouldNotBeNil)
			So(len(pages.created), ShouldEqual, 0)
		})
	})
}
