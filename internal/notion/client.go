// Package notion stores synced events as rows of a Notion database.
package notion

import (
	"context"
	"fmt"
	"log/slog"

	"calnotion/internal/models"

	"github.com/jomei/notionapi"
)

// queryPageSize is the largest page the database query endpoint returns.
const queryPageSize = 100

// databaseService is the subset of notionapi.DatabaseService used here.
type databaseService interface {
	Query(ctx context.Context, id notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

// pageService is the subset of notionapi.PageService used here.
type pageService interface {
	Create(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// Client reads and writes event rows in a Notion database.
type Client struct {
	databases databaseService
	pages     pageService
	schema    Schema
	logger    *slog.Logger
}

// NewClient creates a Client authenticated with an integration token.
func NewClient(logger *slog.Logger, token string, schema Schema) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("notion token must not be empty")
	}
	api := notionapi.NewClient(notionapi.Token(token))
	return newClient(logger, api.Database, api.Page, schema), nil
}

func newClient(logger *slog.Logger, databases databaseService, pages pageService, schema Schema) *Client {
	return &Client{
		databases: databases,
		pages:     pages,
		schema:    schema.withDefaults(),
		logger:    logger,
	}
}

// ListExisting returns every row of the database, following pagination
// cursors until the last page. A single malformed row fails the whole scan.
func (c *Client) ListExisting(ctx context.Context, tableID string) ([]models.Event, error) {
	var (
		events []models.Event
		cursor notionapi.Cursor
		pages  int
	)
	for {
		resp, err := c.databases.Query(ctx, notionapi.DatabaseID(tableID), &notionapi.DatabaseQueryRequest{
			StartCursor: cursor,
			PageSize:    queryPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query notion database %s: %w", tableID, err)
		}
		pages++

		for _, page := range resp.Results {
			event, err := FromSink(c.schema, page)
			if err != nil {
				return nil, fmt.Errorf("failed to read notion database %s: %w", tableID, err)
			}
			events = append(events, event)
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	c.logger.Debug("Fetched existing Notion rows", "databaseID", tableID, "count", len(events), "pages", pages)
	return events, nil
}

// Create inserts one row for event. Calling it twice creates two rows.
func (c *Client) Create(ctx context.Context, tableID string, event models.Event) error {
	props, err := ToSinkFields(c.schema, event)
	if err != nil {
		return fmt.Errorf("failed to build notion properties for %s: %w", event, err)
	}

	page, err := c.pages.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(tableID),
		},
		Properties: props,
	})
	if err != nil {
		return fmt.Errorf("failed to create notion page: %w", err)
	}

	c.logger.Info("Created Notion row", "title", event.Title, "gcalID", event.GCalID, "pageID", page.ID)
	return nil
}
