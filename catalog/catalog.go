// Package catalog is the single source of truth for the browsable event list:
// filters, debounced refetching, join/leave submission, and the event-detail
// selection. It owns no transport details beyond invoking the REST client.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clustrhq/clustr-go/api"
	"github.com/clustrhq/clustr-go/models"
)

const (
	defaultCategoryDebounce = 100 * time.Millisecond
	defaultSearchDebounce   = 300 * time.Millisecond
)

// API is the slice of the REST client the catalog consumes.
type API interface {
	ListEvents(ctx context.Context, filter api.EventFilter) (*api.EventList, error)
	JoinEvent(ctx context.Context, eventID string) error
	LeaveEvent(ctx context.Context, eventID string) error
}

// TokenSource reports the cached auth token; "" means unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Notifier surfaces user-facing conditions: auth prompts, join/leave results,
// validation failures. The catalog never blocks on it.
type Notifier interface {
	Notify(title, message string)
}

// Confirmer asks the user to approve a destructive action. Returning false
// must leave the operation without side effects.
type Confirmer interface {
	Confirm(title, message string) bool
}

// Store holds the visible event list and mediates all browse/join/leave
// operations. Construct one per app (or per test); it is safe for concurrent
// use.
type Store struct {
	api       API
	tokens    TokenSource
	notifier  Notifier
	confirmer Confirmer
	logger    *slog.Logger
	baseCtx   context.Context

	categoryDebounce time.Duration
	searchDebounce   time.Duration

	// fetchSeq stamps every fetch; responses from superseded fetches are
	// discarded so a slow stale request can never overwrite a newer list.
	fetchSeq atomic.Uint64

	mu               sync.Mutex
	events           []models.Event
	loading          bool
	selectedCategory string
	searchQuery      string
	selectedEvent    *models.Event
	showEventModal   bool
	joining          map[string]struct{}
	lastErr          error
	refetch          *time.Timer
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithBaseContext sets the context used by debounce-triggered fetches.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Store) {
		s.baseCtx = ctx
	}
}

// WithDebounce overrides the refetch delays for category and search changes.
func WithDebounce(category, search time.Duration) Option {
	return func(s *Store) {
		s.categoryDebounce = category
		s.searchDebounce = search
	}
}

func New(a API, tokens TokenSource, notifier Notifier, confirmer Confirmer, opts ...Option) *Store {
	s := &Store{
		api:              a,
		tokens:           tokens,
		notifier:         notifier,
		confirmer:        confirmer,
		logger:           slog.Default(),
		baseCtx:          context.Background(),
		categoryDebounce: defaultCategoryDebounce,
		searchDebounce:   defaultSearchDebounce,
		selectedCategory: models.CategoryAll,
		joining:          make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close cancels any pending debounced refetch.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refetch != nil {
		s.refetch.Stop()
		s.refetch = nil
	}
}

// SetCategory selects a category filter and schedules a refetch after a short
// debounce. Unknown ids are forwarded as-is; the server just returns zero
// results for them.
func (s *Store) SetCategory(categoryID string) {
	s.mu.Lock()
	s.selectedCategory = categoryID
	s.scheduleRefetch(s.categoryDebounce)
	s.mu.Unlock()
}

// SetSearchQuery updates the search text and schedules a refetch after a
// longer debounce so a burst of keystrokes produces one request.
func (s *Store) SetSearchQuery(query string) {
	s.mu.Lock()
	s.searchQuery = query
	s.scheduleRefetch(s.searchDebounce)
	s.mu.Unlock()
}

// scheduleRefetch resets the single pending refetch timer. Called with s.mu
// held. Resetting rather than stacking guarantees rapid successive filter
// edits issue exactly one fetch, with the final filter values.
func (s *Store) scheduleRefetch(d time.Duration) {
	if s.refetch != nil {
		s.refetch.Stop()
	}
	s.refetch = time.AfterFunc(d, func() {
		s.FetchEvents(s.baseCtx)
	})
}

// FetchEvents refreshes the event list using the current filters. Failures
// degrade to an empty list without any user-facing error; the cause is logged
// and retained for LastError.
func (s *Store) FetchEvents(ctx context.Context) {
	s.FetchEventsFiltered(ctx, api.EventFilter{})
}

// FetchEventsFiltered is FetchEvents with one-off extra filters (pagination
// and the like) merged under the current category/search state.
func (s *Store) FetchEventsFiltered(ctx context.Context, extra api.EventFilter) {
	seq := s.fetchSeq.Add(1)

	s.mu.Lock()
	s.loading = true
	filter := extra
	filter.Category = s.selectedCategory
	filter.Search = s.searchQuery
	s.mu.Unlock()

	list, err := s.api.ListEvents(ctx, filter)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchSeq.Load() != seq {
		// A newer fetch has been issued; it owns the list and the loading
		// flag now.
		return
	}
	s.loading = false
	if err != nil {
		s.logger.Error("fetch events", slog.String("error", err.Error()))
		s.events = nil
		s.lastErr = err
		return
	}
	s.events = list.Events
	s.lastErr = nil
}

// JoinEvent submits a join for the event. It is a no-op while a join or leave
// for the same event is in flight, and aborts before any network call when no
// auth token is cached. On success the full list is refetched so attendee
// counts are authoritative.
func (s *Store) JoinEvent(ctx context.Context, eventID string) {
	if s.Joining(eventID) {
		return
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		s.logger.Error("read token", slog.String("error", err.Error()))
		return
	}
	if token == "" {
		s.notifier.Notify("Authentication Required", "Please log in to join events")
		return
	}

	if !s.acquire(eventID) {
		return
	}
	defer s.release(eventID)

	if err := s.api.JoinEvent(ctx, eventID); err != nil {
		if errors.Is(err, api.ErrAuthRequired) {
			s.notifier.Notify("Authentication Required", "Please log in to join events")
			return
		}
		s.notifier.Notify("Error", api.ServerMessage(err, "Failed to join event"))
		return
	}

	s.FetchEvents(ctx)
	s.notifier.Notify("Success", "You have joined the event!")
	s.closeDetailFor(eventID)
}

// LeaveEvent is symmetric to JoinEvent but requires the user to confirm
// first. Declining leaves all state untouched: no lock, no network call.
func (s *Store) LeaveEvent(ctx context.Context, eventID string) {
	if s.Joining(eventID) {
		return
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		s.logger.Error("read token", slog.String("error", err.Error()))
		return
	}
	if token == "" {
		s.notifier.Notify("Authentication Required", "Please log in to manage events")
		return
	}

	if !s.confirmer.Confirm("Leave Event", "Are you sure you want to leave this event?") {
		return
	}

	if !s.acquire(eventID) {
		return
	}
	defer s.release(eventID)

	if err := s.api.LeaveEvent(ctx, eventID); err != nil {
		if errors.Is(err, api.ErrAuthRequired) {
			s.notifier.Notify("Authentication Required", "Please log in to manage events")
			return
		}
		s.notifier.Notify("Error", api.ServerMessage(err, "Failed to leave event"))
		return
	}

	s.FetchEvents(ctx)
	s.notifier.Notify("Success", "You have left the event.")
	s.closeDetailFor(eventID)
}

// OpenEventDetail selects an event and shows the detail modal. Pure state.
func (s *Store) OpenEventDetail(event models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedEvent = &event
	s.showEventModal = true
}

// CloseEventDetail clears the selection and hides the modal.
func (s *Store) CloseEventDetail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedEvent = nil
	s.showEventModal = false
}

// closeDetailFor closes the modal only when it is showing the given event.
func (s *Store) closeDetailFor(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.showEventModal && s.selectedEvent != nil && s.selectedEvent.ID == eventID {
		s.selectedEvent = nil
		s.showEventModal = false
	}
}

// acquire atomically inserts the event into the join-lock set. It fails when
// an operation for the event is already in flight.
func (s *Store) acquire(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.joining[eventID]; ok {
		return false
	}
	s.joining[eventID] = struct{}{}
	return true
}

func (s *Store) release(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joining, eventID)
}

// Joining reports whether a join/leave for the event is in flight.
func (s *Store) Joining(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.joining[eventID]
	return ok
}

// Events returns the current list. The slice is shared; treat it as
// read-only.
func (s *Store) Events() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Store) SelectedCategory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedCategory
}

func (s *Store) SearchQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchQuery
}

// SelectedEvent returns the event shown in the detail modal, or nil.
func (s *Store) SelectedEvent() *models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedEvent
}

func (s *Store) ModalVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showEventModal
}

// LastError reports the most recent fetch failure, or nil. Fetch failures are
// deliberately not surfaced to the user; this lets callers do so if they want.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
