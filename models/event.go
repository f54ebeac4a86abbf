package models

import (
	"slices"
	"time"
)

// Event represents a community gathering owned by the server.
// Attendance counts are authoritative only after a fetch; the client never
// mutates them locally.
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// Category is the legacy single tag. Tags carries the full ordered set
	// of category identifiers; Category mirrors its first entry.
	Category      string    `json:"category"`
	Tags          []string  `json:"tags"`
	Location      string    `json:"location"`
	EventDate     time.Time `json:"event_date"`
	MaxAttendees  int       `json:"max_attendees"`
	Attendees     []string  `json:"attendees"`
	AttendeeCount int       `json:"attendee_count"`
	// SpotsLeft may be server-supplied; SpotsRemaining derives it when absent.
	SpotsLeft *int      `json:"spots_left,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// HasAttendee reports whether the user is in the attendee set.
func (e *Event) HasAttendee(userID string) bool {
	return slices.Contains(e.Attendees, userID)
}

// IsFull reports whether the event has reached capacity according to the
// last fetched counts. The server remains authoritative; this only drives
// button state.
func (e *Event) IsFull() bool {
	return e.MaxAttendees > 0 && e.AttendeeCount >= e.MaxAttendees
}

// SpotsRemaining returns the server-supplied spots_left when present,
// otherwise derives it from the capacity and attendee count. Never negative.
func (e *Event) SpotsRemaining() int {
	if e.SpotsLeft != nil {
		return max(*e.SpotsLeft, 0)
	}
	return max(e.MaxAttendees-e.AttendeeCount, 0)
}
