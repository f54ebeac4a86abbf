package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clustrhq/clustr-go/models"
)

func newTestStore(t *testing.T) *SQLiteSessionStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db))
	return NewSQLiteSessionStore(db)
}

// signedToken mints a token with the given expiry; the store never verifies
// signatures so any key works.
func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "user-1", "exp": exp.Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token, "fresh store starts logged out")

	user, err := s.User(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)

	want := &models.User{ID: "u1", Email: "a@b.co", Username: "alice"}
	require.NoError(t, s.SetSession(ctx, signedToken(t, time.Now().Add(time.Hour)), want))

	token, err = s.Token(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	user, err = s.User(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)
}

func TestSetSessionReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := signedToken(t, time.Now().Add(time.Hour))
	require.NoError(t, s.SetSession(ctx, first, &models.User{ID: "u1", Username: "alice"}))

	second := signedToken(t, time.Now().Add(2*time.Hour))
	require.NoError(t, s.SetSession(ctx, second, &models.User{ID: "u2", Username: "bob"}))

	token, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, token)

	user, err := s.User(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)
}

func TestExpiredTokenReadsAsLoggedOut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetSession(ctx, signedToken(t, time.Now().Add(time.Hour)), nil))

	token, err := s.Token(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// Jump the clock past the expiry.
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	token, err = s.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestOpaqueTokenPassesThrough(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetSession(ctx, "not-a-jwt", nil))

	token, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "not-a-jwt", token)
}

func TestInterests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	interests, err := s.Interests(ctx)
	require.NoError(t, err)
	assert.Nil(t, interests)

	require.NoError(t, s.SetInterests(ctx, []string{"music", "sports"}))

	interests, err = s.Interests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"music", "sports"}, interests)

	// Interests survive a session replace.
	require.NoError(t, s.SetSession(ctx, signedToken(t, time.Now().Add(time.Hour)), &models.User{ID: "u1"}))
	interests, err = s.Interests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"music", "sports"}, interests)
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Clear(ctx), "clearing an empty store is not an error")

	require.NoError(t, s.SetSession(ctx, signedToken(t, time.Now().Add(time.Hour)), &models.User{ID: "u1"}))
	require.NoError(t, s.SetInterests(ctx, []string{"music"}))
	require.NoError(t, s.Clear(ctx))

	token, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	user, err := s.User(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)

	interests, err := s.Interests(ctx)
	require.NoError(t, err)
	assert.Nil(t, interests)
}
