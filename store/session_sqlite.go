package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pressly/goose/v3"

	"github.com/clustrhq/clustr-go/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate brings the local cache database up to the current schema.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// SQLiteSessionStore keeps at most one session row in a local sqlite file.
type SQLiteSessionStore struct {
	db *sql.DB
	// now is swapped in tests to control token expiry checks.
	now func() time.Time
}

func NewSQLiteSessionStore(db *sql.DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db, now: time.Now}
}

func (s *SQLiteSessionStore) SetSession(ctx context.Context, token string, user *models.User) error {
	var userJSON []byte
	if user != nil {
		var err error
		userJSON, err = json.Marshal(user)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, token, user, updated_at) VALUES (1, @token, @user, @now)
		 ON CONFLICT (id) DO UPDATE SET token = @token, user = @user, updated_at = @now`,
		sql.Named("token", token),
		sql.Named("user", string(userJSON)),
		sql.Named("now", s.now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) Token(ctx context.Context) (string, error) {
	var token string
	row := s.db.QueryRowContext(ctx, "SELECT token FROM sessions WHERE id = 1")
	if err := row.Scan(&token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	if token == "" || s.expired(token) {
		return "", nil
	}
	return token, nil
}

// expired inspects the token's exp claim without verifying the signature;
// verification is the server's job, this only avoids sending a token that is
// certain to be rejected. Tokens that do not parse are treated as opaque and
// passed through.
func (s *SQLiteSessionStore) expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(s.now())
}

func (s *SQLiteSessionStore) User(ctx context.Context) (*models.User, error) {
	var userJSON string
	row := s.db.QueryRowContext(ctx, "SELECT user FROM sessions WHERE id = 1")
	if err := row.Scan(&userJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read user: %w", err)
	}
	if userJSON == "" {
		return nil, nil
	}
	var user models.User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteSessionStore) SetInterests(ctx context.Context, interests []string) error {
	b, err := json.Marshal(interests)
	if err != nil {
		return fmt.Errorf("marshal interests: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, interests, updated_at) VALUES (1, @interests, @now)
		 ON CONFLICT (id) DO UPDATE SET interests = @interests, updated_at = @now`,
		sql.Named("interests", string(b)),
		sql.Named("now", s.now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("store interests: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) Interests(ctx context.Context) ([]string, error) {
	var interestsJSON sql.NullString
	row := s.db.QueryRowContext(ctx, "SELECT interests FROM sessions WHERE id = 1")
	if err := row.Scan(&interestsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read interests: %w", err)
	}
	if !interestsJSON.Valid || interestsJSON.String == "" {
		return nil, nil
	}
	var interests []string
	if err := json.Unmarshal([]byte(interestsJSON.String), &interests); err != nil {
		return nil, fmt.Errorf("unmarshal interests: %w", err)
	}
	return interests, nil
}

func (s *SQLiteSessionStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
