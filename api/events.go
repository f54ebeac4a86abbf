package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/clustrhq/clustr-go/models"
)

// EventFilter narrows a catalog fetch. Zero-valued fields are omitted from
// the outgoing query entirely.
type EventFilter struct {
	Category string
	Search   string
	Limit    int
	Offset   int
}

func (f EventFilter) query() url.Values {
	q := url.Values{}
	if f.Category != "" && f.Category != models.CategoryAll {
		q.Set("category", f.Category)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		q.Set("search", s)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q
}

// EventList is a page of the catalog.
type EventList struct {
	Events []models.Event `json:"events"`
	Total  int            `json:"total"`
}

// ListEvents fetches the catalog. Filtering is performed server-side; an
// unknown category simply yields zero results.
func (c *Client) ListEvents(ctx context.Context, filter EventFilter) (*EventList, error) {
	var res EventList
	if err := c.get(ctx, "/events", filter.query(), &res, false); err != nil {
		return nil, err
	}
	return &res, nil
}

// EventCreateInput mirrors the creation form. Validation rules follow the
// server's: capacity 1-9999, at least one category.
type EventCreateInput struct {
	Title         string   `json:"title" validate:"required"`
	Description   string   `json:"description" validate:"required"`
	Categories    []string `json:"categories" validate:"required,min=1"`
	StreetAddress string   `json:"streetAddress" validate:"required"`
	City          string   `json:"city" validate:"required"`
	State         string   `json:"state" validate:"required"`
	ZipCode       string   `json:"zipCode"`
	Landmark      string   `json:"landmark"`
	Capacity      int      `json:"capacity" validate:"required,min=1,max=9999"`
	Date          string   `json:"date"`
}

func (in *EventCreateInput) Validate() error {
	return validate.Struct(in)
}

func (c *Client) CreateEvent(ctx context.Context, in EventCreateInput) (*models.Event, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("validate event input: %w", err)
	}
	var res struct {
		Event *models.Event `json:"event"`
	}
	if err := c.post(ctx, "/events", in, &res, true); err != nil {
		return nil, err
	}
	return res.Event, nil
}

// JoinEvent registers the current user as an attendee. The server enforces
// capacity and double-join rules and reports them as *Error.
func (c *Client) JoinEvent(ctx context.Context, eventID string) error {
	return c.post(ctx, "/events/"+url.PathEscape(eventID)+"/join", nil, nil, true)
}

// LeaveEvent removes the current user from the attendee set.
func (c *Client) LeaveEvent(ctx context.Context, eventID string) error {
	return c.post(ctx, "/events/"+url.PathEscape(eventID)+"/leave", nil, nil, true)
}
