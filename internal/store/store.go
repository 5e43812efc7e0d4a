package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/authgate/authgate/internal/model"
)

// Store is the persistence collaborator for the auth core, backed by SQLite.
// It is the single source of truth for identity: users, refresh tokens, and
// API keys. All "not found" conditions surface as ErrNotFound, never panics.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open creates a new store. Pass empty string for an in-memory database
// (used by tests). A nil logger falls back to slog.Default.
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "authgate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection, used by the liveness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. The ID, CreatedAt, and UpdatedAt fields on
// u are populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	const q = `INSERT INTO users (name, email, password_hash, avatar, role, created_at, updated_at)
		VALUES (:name, :email, :password_hash, :avatar, :role, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, u)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("user insert id: %w", err)
	}
	return nil
}

// GetUserByID returns a user by ID. Soft-deleted users are treated as not
// found so they can never resolve to an authenticated principal.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u,
		`SELECT * FROM users WHERE id = ? AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail returns a non-deleted user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u,
		`SELECT * FROM users WHERE email = ? AND deleted_at IS NULL`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// ListUsers returns all non-deleted users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := s.db.SelectContext(ctx, &users,
		`SELECT * FROM users WHERE deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUserRole changes a user's role. The new role takes effect on the
// next token issued for the user (renewal included).
func (s *Store) UpdateUserRole(ctx context.Context, id int64, role string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		role, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserPassword replaces a user's password hash.
func (s *Store) UpdateUserPassword(ctx context.Context, id int64, hash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		hash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser soft-deletes a user. The record stays in the table; the user
// can no longer authenticate.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Refresh tokens
// ---------------------------------------------------------------------------

// CreateRefreshToken persists a new refresh token record.
func (s *Store) CreateRefreshToken(ctx context.Context, rt *model.RefreshToken) error {
	rt.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO refresh_tokens (token, user_id, user_agent, ip_address, expires_at, revoked, created_at)
		VALUES (:token, :user_id, :user_agent, :ip_address, :expires_at, :revoked, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, rt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	rt.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("refresh token insert id: %w", err)
	}
	return nil
}

// GetValidRefreshToken returns the refresh token record matching token that
// is not revoked and not expired as of now. Anything else is ErrNotFound.
func (s *Store) GetValidRefreshToken(ctx context.Context, token string, now time.Time) (*model.RefreshToken, error) {
	var rt model.RefreshToken
	err := s.db.GetContext(ctx, &rt,
		`SELECT * FROM refresh_tokens WHERE token = ? AND revoked = 0 AND expires_at > ?`,
		token, now.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken flips the revoked flag on a single token. Revoking a
// token that does not exist is a no-op, not an error: logout must succeed
// even with a stale cookie.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1 WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes every outstanding refresh token for a
// user, e.g. after a password change.
func (s *Store) RevokeUserRefreshTokens(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ? AND revoked = 0`, userID)
	if err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// DeleteExpiredRefreshTokens removes rows whose expiry is in the past.
// Housekeeping only; validity checks never rely on it.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// apiKeyRow maps 1:1 to the api_keys table. The JSON list columns are
// decoded into the model at the store boundary.
type apiKeyRow struct {
	ID              int64      `db:"id"`
	Name            string     `db:"name"`
	KeyHash         string     `db:"key_hash"`
	KeyPrefix       string     `db:"key_prefix"`
	PermissionsJSON string     `db:"permissions_json"`
	IPWhitelistJSON string     `db:"ip_whitelist_json"`
	IsActive        bool       `db:"is_active"`
	ExpiresAt       *time.Time `db:"expires_at"`
	DeletedAt       *time.Time `db:"deleted_at"`
	LastUsedAt      *time.Time `db:"last_used_at"`
	CreatedAt       time.Time  `db:"created_at"`
}

func (s *Store) apiKeyRowToModel(r *apiKeyRow) model.APIKey {
	return model.APIKey{
		ID:          r.ID,
		Name:        r.Name,
		KeyHash:     r.KeyHash,
		KeyPrefix:   r.KeyPrefix,
		Permissions: s.decodeStringList(r.PermissionsJSON, "permissions", r.ID),
		IPWhitelist: s.decodeStringList(r.IPWhitelistJSON, "ip_whitelist", r.ID),
		IsActive:    r.IsActive,
		ExpiresAt:   r.ExpiresAt,
		DeletedAt:   r.DeletedAt,
		LastUsedAt:  r.LastUsedAt,
		CreatedAt:   r.CreatedAt,
	}
}

// decodeStringList parses a JSON array column. Malformed stored JSON decodes
// to an empty list with a logged warning, never an error: a corrupt column
// must not take down authentication.
func (s *Store) decodeStringList(raw, column string, keyID int64) []string {
	if raw == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.logger.Warn("malformed JSON column, treating as empty",
			"column", column, "api_key_id", keyID, "error", err)
		return []string{}
	}
	return out
}

// CreateAPIKey inserts a new API key record. The caller supplies the bcrypt
// hash; the plaintext key never reaches the store.
func (s *Store) CreateAPIKey(ctx context.Context, k *model.APIKey) error {
	k.CreatedAt = time.Now().UTC()

	permsJSON, err := json.Marshal(k.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	whitelistJSON, err := json.Marshal(k.IPWhitelist)
	if err != nil {
		return fmt.Errorf("encode ip whitelist: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (name, key_hash, key_prefix, permissions_json, ip_whitelist_json, is_active, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k.Name, k.KeyHash, k.KeyPrefix, string(permsJSON), string(whitelistJSON),
		k.IsActive, k.ExpiresAt, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	k.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("api key insert id: %w", err)
	}
	return nil
}

// ListAPIKeys returns all non-deleted keys, including inactive and expired
// ones, for administrative listings.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var rows []apiKeyRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]model.APIKey, len(rows))
	for i := range rows {
		keys[i] = s.apiKeyRowToModel(&rows[i])
	}
	return keys, nil
}

// ListActiveAPIKeys returns the candidate set for verification: active,
// not deleted, and either without expiry or expiring after now.
func (s *Store) ListActiveAPIKeys(ctx context.Context, now time.Time) ([]model.APIKey, error) {
	var rows []apiKeyRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM api_keys
		 WHERE is_active = 1 AND deleted_at IS NULL
		   AND (expires_at IS NULL OR expires_at > ?)`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list active api keys: %w", err)
	}
	keys := make([]model.APIKey, len(rows))
	for i := range rows {
		keys[i] = s.apiKeyRowToModel(&rows[i])
	}
	return keys, nil
}

// TouchAPIKeyLastUsed updates the last-used timestamp after a successful
// verification.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// RevokeAPIKey soft-deletes a key. The record is kept with deleted_at set;
// it is never hard-removed.
func (s *Store) RevokeAPIKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = 0, deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
