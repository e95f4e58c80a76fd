package serverdb

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"
)

// Keys look like tpl_live_<32 base62 chars>. Only the sha256 of the whole
// key is stored, plus the first 8 secret chars for display.
const (
	apiKeyPrefix    = "tpl_live_"
	keySecretLength = 32
	keyDisplayLen   = 8
)

// Key scopes. CLI and scripted clients get ScopeAPI keys; browser sessions
// are ScopeWeb keys carried in a cookie. ScopeAdmin is added to API keys
// minted by operators for the read-only admin endpoints.
const (
	ScopeAPI   = "api"
	ScopeWeb   = "web"
	ScopeAdmin = "admin"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const apiKeyColumns = `ak.id, ak.user_id, ak.key_prefix, ak.name, ak.scopes, ak.expires_at, ak.last_used_at, ak.created_at`

// APIKey is a stored key without its secret.
type APIKey struct {
	ID         string
	UserID     string
	KeyPrefix  string
	Name       string
	Scopes     string // comma separated
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// ScopeList splits Scopes, dropping blanks.
func (k *APIKey) ScopeList() []string {
	var out []string
	for _, s := range strings.Split(k.Scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// HasScope reports whether the key carries scope.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.ScopeList() {
		if s == scope {
			return true
		}
	}
	return false
}

// IsSession reports whether the key is a browser session. Session keys
// carry exactly the web scope and are the only keys accepted from the
// session cookie.
func (k *APIKey) IsSession() bool {
	return k.Scopes == ScopeWeb
}

func (k *APIKey) expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func newKeySecret() (string, error) {
	max := big.NewInt(int64(len(base62Alphabet)))
	var b strings.Builder
	b.Grow(keySecretLength)
	for range keySecretLength {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(base62Alphabet[n.Int64()])
	}
	return b.String(), nil
}

func scanAPIKey(sc interface{ Scan(...any) error }, ak *APIKey, extra ...any) error {
	dest := append([]any{&ak.ID, &ak.UserID, &ak.KeyPrefix, &ak.Name, &ak.Scopes, &ak.ExpiresAt, &ak.LastUsedAt, &ak.CreatedAt}, extra...)
	return sc.Scan(dest...)
}

// GenerateAPIKey mints a key for userID. The plaintext is returned once and
// never stored. Empty scopes default to ScopeAPI; a nil expiresAt never
// expires.
func (db *ServerDB) GenerateAPIKey(userID, name, scopes string, expiresAt *time.Time) (string, *APIKey, error) {
	if scopes == "" {
		scopes = ScopeAPI
	}

	u, err := db.GetUserByID(userID)
	if err != nil {
		return "", nil, err
	}
	if u == nil {
		return "", nil, fmt.Errorf("user not found: %s", userID)
	}

	id, err := generateID("ak_")
	if err != nil {
		return "", nil, fmt.Errorf("generate api key id: %w", err)
	}
	secret, err := newKeySecret()
	if err != nil {
		return "", nil, fmt.Errorf("generate key secret: %w", err)
	}
	plaintext := apiKeyPrefix + secret

	ak := &APIKey{
		ID:        id,
		UserID:    userID,
		KeyPrefix: secret[:keyDisplayLen],
		Name:      name,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := db.conn.Exec(
		`INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, scopes, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ak.ID, ak.UserID, hashKey(plaintext), ak.KeyPrefix, ak.Name, ak.Scopes, ak.ExpiresAt, ak.CreatedAt,
	); err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}
	return plaintext, ak, nil
}

// VerifyAPIKey resolves a plaintext key to its record and user. Unknown,
// malformed and expired keys return (nil, nil, nil). A successful lookup
// stamps last_used_at.
func (db *ServerDB) VerifyAPIKey(plaintextKey string) (*APIKey, *User, error) {
	if !strings.HasPrefix(plaintextKey, apiKeyPrefix) {
		return nil, nil, nil
	}

	ak, u := &APIKey{}, &User{}
	row := db.conn.QueryRow(`
		SELECT `+apiKeyColumns+`, u.id, u.email, u.created_at, u.updated_at
		FROM api_keys ak
		JOIN users u ON u.id = ak.user_id
		WHERE ak.key_hash = ?
	`, hashKey(plaintextKey))
	err := scanAPIKey(row, ak, &u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("verify api key: %w", err)
	}

	now := time.Now().UTC()
	if ak.expired(now) {
		slog.Debug("api key expired", "key_id", ak.ID, "expires_at", ak.ExpiresAt)
		return nil, nil, nil
	}
	if _, err := db.conn.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, now, ak.ID); err != nil {
		slog.Warn("stamp api key use", "key_id", ak.ID, "err", err)
	}
	ak.LastUsedAt = &now
	return ak, u, nil
}

// RevokeAPIKey deletes keyID if userID owns it. Logging out revokes the
// session key this way.
func (db *ServerDB) RevokeAPIKey(keyID, userID string) error {
	res, err := db.conn.Exec(`DELETE FROM api_keys WHERE id = ? AND user_id = ?`, keyID, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key %s not found for user", keyID)
	}
	return nil
}

// PruneExpiredAPIKeys deletes keys whose expiry has passed, which is how
// abandoned browser sessions go away.
func (db *ServerDB) PruneExpiredAPIKeys() (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM api_keys WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("prune expired api keys: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListAPIKeys returns a user's keys, oldest first.
func (db *ServerDB) ListAPIKeys(userID string) ([]*APIKey, error) {
	rows, err := db.conn.Query(`SELECT `+apiKeyColumns+` FROM api_keys ak WHERE ak.user_id = ? ORDER BY ak.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		ak := &APIKey{}
		if err := scanAPIKey(rows, ak); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, ak)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys: iterate: %w", err)
	}
	return keys, nil
}
