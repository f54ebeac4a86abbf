package ws

import (
	"encoding/json"
	"fmt"
	"io"
)

// Event names carried on the live channel.
const (
	EventNewMessage = "new_message"
	EventUserJoined = "user_joined_chat"
	EventUserLeft   = "user_left_chat"
	EventError      = "error"
	EventJoinRoom   = "join_event_chat"
	EventLeaveRoom  = "leave_event_chat"
)

// Packet is a single frame on the live channel. The body is decoded into a
// concrete type by the registered handler.
type Packet struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

func decodePacket(r io.Reader) (*Packet, error) {
	var p Packet
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode packet: %w", err)
	}
	return &p, nil
}

func encodePacket(w io.Writer, p *Packet) error {
	if err := json.NewEncoder(w).Encode(p); err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	return nil
}
