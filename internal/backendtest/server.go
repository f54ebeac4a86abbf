// Package backendtest is an in-process stand-in for the Clustr backend: the
// REST surface under /api plus the websocket live channel, with just enough
// behavior to exercise the client core end to end.
package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/clustrhq/clustr-go/models"
)

type account struct {
	user         models.User
	passwordHash []byte
}

// Server is one fake backend instance. Construct with New, stop with Close.
type Server struct {
	httpServer *httptest.Server
	secret     []byte

	mu       sync.Mutex
	accounts map[string]*account // keyed by email
	events   map[string]*models.Event
	messages map[string][]models.ChatMessage // keyed by event id
	rooms    *roomHub
}

func New() *Server {
	s := &Server{
		secret:   []byte("backendtest-secret"),
		accounts: make(map[string]*account),
		events:   make(map[string]*models.Event),
		messages: make(map[string][]models.ChatMessage),
		rooms:    newRoomHub(),
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", s.signupHandler)
		r.Post("/auth/login", s.loginHandler)
		r.Get("/auth/me", s.authed(s.meHandler))
		r.Post("/auth/interests", s.authed(s.interestsHandler))

		r.Get("/events", s.listEventsHandler)
		r.Post("/events", s.authed(s.createEventHandler))
		r.Post("/events/{eventID}/join", s.authed(s.joinEventHandler))
		r.Post("/events/{eventID}/leave", s.authed(s.leaveEventHandler))

		r.Get("/chat/events/{eventID}/messages", s.authed(s.messagesHandler))
		r.Post("/chat/events/{eventID}/messages", s.authed(s.sendMessageHandler))
	})
	r.Get("/ws", s.rooms.serveWS)

	s.httpServer = httptest.NewServer(r)
	return s
}

func (s *Server) Close() {
	s.rooms.close()
	s.httpServer.Close()
}

// APIBaseURL is the REST base, including the /api prefix.
func (s *Server) APIBaseURL() string {
	return s.httpServer.URL + "/api"
}

// SocketURL is the live channel endpoint.
func (s *Server) SocketURL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/ws"
}

// SeedUser registers an account and returns a valid token for it.
func (s *Server) SeedUser(email, password, username string) (models.User, string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	user := models.User{
		ID:       uuid.NewString(),
		Email:    email,
		Username: username,
	}
	s.mu.Lock()
	s.accounts[email] = &account{user: user, passwordHash: hash}
	s.mu.Unlock()
	return user, s.tokenFor(user.ID)
}

// SeedEvent installs an event as-is.
func (s *Server) SeedEvent(event models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := event
	e.AttendeeCount = len(e.Attendees)
	s.events[e.ID] = &e
}

// SeedMessage installs a prior chat message without broadcasting it.
func (s *Server) SeedMessage(eventID string, msg models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[eventID] = append(s.messages[eventID], msg)
}

// BroadcastRaw pushes an arbitrary packet to every live connection. Tests use
// it to simulate server-originated traffic.
func (s *Server) BroadcastRaw(event string, body any) {
	s.rooms.broadcast(event, body)
}

// Event returns a copy of the stored event.
func (s *Server) Event(id string) (models.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return models.Event{}, false
	}
	return *e, true
}

func (s *Server) tokenFor(userID string) string {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		Issuer:    "backendtest",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return token
}

type ctxKey int

const userIDKey ctxKey = 0

// authed verifies the bearer token and stashes the user id in the request
// context.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "Missing Authorization header")
			return
		}
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, claims.Subject)))
	}
}

func requestUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func (s *Server) userByID(id string) *models.User {
	for _, acc := range s.accounts {
		if acc.user.ID == id {
			u := acc.user
			return &u
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) signupHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	s.mu.Lock()
	if _, exists := s.accounts[in.Email]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}
	hash, _ := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.MinCost)
	user := models.User{ID: uuid.NewString(), Email: in.Email, Username: in.Username}
	s.accounts[in.Email] = &account{user: user, passwordHash: hash}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"token": s.tokenFor(user.ID), "user": user})
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	s.mu.Lock()
	acc := s.accounts[in.Email]
	s.mu.Unlock()
	if acc == nil || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(in.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": s.tokenFor(acc.user.ID), "user": acc.user})
}

func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	user := s.userByID(requestUserID(r))
	s.mu.Unlock()
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) interestsHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Interests []string `json:"interests"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Interests saved"})
}

func (s *Server) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	search := strings.ToLower(r.URL.Query().Get("search"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]models.Event, 0, len(s.events))
	for _, e := range s.events {
		if category != "" && category != models.CategoryAll && !slices.Contains(e.Tags, category) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.Title), search) &&
			!strings.Contains(strings.ToLower(e.Description), search) &&
			!strings.Contains(strings.ToLower(e.Location), search) {
			continue
		}
		events = append(events, *e)
	}
	slices.SortFunc(events, func(a, b models.Event) int {
		return a.EventDate.Compare(b.EventDate)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "total": len(events)})
}

func (s *Server) createEventHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title         string   `json:"title"`
		Description   string   `json:"description"`
		Categories    []string `json:"categories"`
		StreetAddress string   `json:"streetAddress"`
		City          string   `json:"city"`
		State         string   `json:"state"`
		ZipCode       string   `json:"zipCode"`
		Landmark      string   `json:"landmark"`
		Capacity      int      `json:"capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if in.Title == "" || len(in.Categories) == 0 {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if in.Capacity < 1 || in.Capacity > 9999 {
		writeError(w, http.StatusBadRequest, "Capacity must be between 1 and 9999")
		return
	}

	location := fmt.Sprintf("%s, %s, %s %s", in.StreetAddress, in.City, in.State, in.ZipCode)
	if in.Landmark != "" {
		location += fmt.Sprintf(" (%s)", in.Landmark)
	}
	event := models.Event{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(in.Title),
		Description:  strings.TrimSpace(in.Description),
		Category:     in.Categories[0],
		Tags:         in.Categories,
		Location:     location,
		EventDate:    time.Now().Add(time.Hour).Truncate(time.Hour),
		MaxAttendees: in.Capacity,
		CreatedBy:    requestUserID(r),
		CreatedAt:    time.Now(),
	}
	s.mu.Lock()
	s.events[event.ID] = &event
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Event created successfully", "event": event})
}

func (s *Server) joinEventHandler(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	userID := requestUserID(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		writeError(w, http.StatusNotFound, "Event not found")
		return
	}
	if slices.Contains(event.Attendees, userID) {
		writeError(w, http.StatusBadRequest, "You have already joined this event")
		return
	}
	if len(event.Attendees) >= event.MaxAttendees {
		writeError(w, http.StatusBadRequest, "Event is full")
		return
	}
	event.Attendees = append(event.Attendees, userID)
	event.AttendeeCount = len(event.Attendees)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Successfully joined event", "event": event})
}

func (s *Server) leaveEventHandler(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	userID := requestUserID(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		writeError(w, http.StatusNotFound, "Event not found")
		return
	}
	idx := slices.Index(event.Attendees, userID)
	if idx == -1 {
		writeError(w, http.StatusBadRequest, "You are not attending this event")
		return
	}
	event.Attendees = slices.Delete(event.Attendees, idx, idx+1)
	event.AttendeeCount = len(event.Attendees)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Successfully left event", "event": event})
}

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		writeError(w, http.StatusNotFound, "Event not found")
		return
	}
	all := s.messages[eventID]
	start := max(len(all)-offset-limit, 0)
	end := max(len(all)-offset, 0)
	page := slices.Clone(all[start:end])
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":     page,
		"chat_room_id": "room_" + eventID,
		"total":        len(all),
	})
}

func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	var in struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Content) == "" {
		writeError(w, http.StatusBadRequest, "Message content is required")
		return
	}

	s.mu.Lock()
	if _, ok := s.events[eventID]; !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Event not found")
		return
	}
	user := s.userByID(requestUserID(r))
	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		EventID:   eventID,
		UserID:    requestUserID(r),
		Content:   strings.TrimSpace(in.Content),
		Type:      models.UserMessage,
		CreatedAt: time.Now(),
	}
	if user != nil {
		msg.Username = user.Username
	}
	s.messages[eventID] = append(s.messages[eventID], msg)
	s.mu.Unlock()

	// The reference backend broadcasts globally, tagged with event_id, and
	// lets clients filter.
	s.rooms.broadcast("new_message", msg)

	writeJSON(w, http.StatusCreated, map[string]any{"message": "Message sent successfully", "data": msg})
}
