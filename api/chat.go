package api

import (
	"context"
	"net/url"
	"strconv"

	"github.com/clustrhq/clustr-go/models"
)

// MessageHistory is one page of a room's prior messages, oldest first.
type MessageHistory struct {
	Messages   []models.ChatMessage `json:"messages"`
	ChatRoomID string               `json:"chat_room_id"`
	Total      int                  `json:"total"`
}

// Messages fetches prior messages for an event's chat room. limit defaults
// server-side to 50 when zero.
func (c *Client) Messages(ctx context.Context, eventID string, limit, offset int) (*MessageHistory, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var res MessageHistory
	if err := c.get(ctx, "/chat/events/"+url.PathEscape(eventID)+"/messages", q, &res, true); err != nil {
		return nil, err
	}
	return &res, nil
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage persists a message to the event's chat room. The broadcast
// comes back over the live channel; nothing is returned for local append.
func (c *Client) SendMessage(ctx context.Context, eventID, content string) error {
	req := sendMessageRequest{Content: content}
	return c.post(ctx, "/chat/events/"+url.PathEscape(eventID)+"/messages", req, nil, true)
}
