package serverdb

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// AuthRequest is a pending sign-in. The CLI polls it by device code while
// the person confirms the user code in a browser; the web login keeps the
// device code in a cookie and redeems both codes in one step.
type AuthRequest struct {
	ID         string
	Email      string
	Client     string
	DeviceCode string
	UserCode   string
	Status     string
	UserID     *string
	APIKeyID   *string
	ExpiresAt  time.Time
	VerifiedAt *time.Time
	CreatedAt  time.Time
}

const (
	AuthStatusPending  = "pending"
	AuthStatusVerified = "verified"
	AuthStatusExpired  = "expired"
	AuthStatusUsed     = "used"
	AuthRequestTTL     = 15 * time.Minute
	PollInterval       = 5
)

// Login clients.
const (
	ClientCLI = "cli"
	ClientWeb = "web"
)

// UserCodeChars excludes ambiguous characters (0, 1, I, L, O).
const UserCodeChars = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const authRequestColumns = `id, email, client, device_code, user_code, status, user_id, api_key_id, expires_at, verified_at, created_at`

func generateUserCode() (string, error) {
	code := make([]byte, 6)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(UserCodeChars))))
		if err != nil {
			return "", err
		}
		code[i] = UserCodeChars[n.Int64()]
	}
	return string(code), nil
}

// generateDeviceCode creates a 40-hex-character device code.
func generateDeviceCode() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthRequest(row rowScanner) (*AuthRequest, error) {
	ar := &AuthRequest{}
	err := row.Scan(&ar.ID, &ar.Email, &ar.Client, &ar.DeviceCode, &ar.UserCode, &ar.Status,
		&ar.UserID, &ar.APIKeyID, &ar.ExpiresAt, &ar.VerifiedAt, &ar.CreatedAt)
	if err != nil {
		return nil, err
	}
	return ar, nil
}

// CreateAuthRequest creates a new pending sign-in for the given email.
func (db *ServerDB) CreateAuthRequest(email, client string) (*AuthRequest, error) {
	if client != ClientCLI && client != ClientWeb {
		return nil, fmt.Errorf("invalid login client: %s", client)
	}

	id, err := generateID("ar_")
	if err != nil {
		return nil, fmt.Errorf("generate auth request id: %w", err)
	}
	deviceCode, err := generateDeviceCode()
	if err != nil {
		return nil, fmt.Errorf("generate device code: %w", err)
	}
	userCode, err := generateUserCode()
	if err != nil {
		return nil, fmt.Errorf("generate user code: %w", err)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(AuthRequestTTL)

	_, err = db.conn.Exec(
		`INSERT INTO auth_requests (id, email, client, device_code, user_code, status, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, email, client, deviceCode, userCode, AuthStatusPending, expiresAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert auth request: %w", err)
	}

	return &AuthRequest{
		ID:         id,
		Email:      email,
		Client:     client,
		DeviceCode: deviceCode,
		UserCode:   userCode,
		Status:     AuthStatusPending,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	}, nil
}

// GetAuthRequestByDeviceCode returns the auth request with the given device code, or nil.
func (db *ServerDB) GetAuthRequestByDeviceCode(deviceCode string) (*AuthRequest, error) {
	ar, err := scanAuthRequest(db.conn.QueryRow(
		`SELECT `+authRequestColumns+` FROM auth_requests WHERE device_code = ?`, deviceCode,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auth request by device code: %w", err)
	}
	return ar, nil
}

// GetAuthRequestByUserCode returns the pending, unexpired CLI request with
// the given user code, or nil. Web requests are only redeemable together
// with their device code, see RedeemAuthRequest.
func (db *ServerDB) GetAuthRequestByUserCode(userCode string) (*AuthRequest, error) {
	ar, err := scanAuthRequest(db.conn.QueryRow(
		`SELECT `+authRequestColumns+` FROM auth_requests
		 WHERE user_code = ? AND client = ? AND status = ? AND expires_at > ?`,
		userCode, ClientCLI, AuthStatusPending, time.Now().UTC(),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auth request by user code: %w", err)
	}
	return ar, nil
}

// VerifyAuthRequest marks a pending CLI request as verified for userID.
func (db *ServerDB) VerifyAuthRequest(userCode, userID string) error {
	now := time.Now().UTC()
	res, err := db.conn.Exec(
		`UPDATE auth_requests SET status = ?, user_id = ?, verified_at = ?
		 WHERE user_code = ? AND client = ? AND status = ? AND expires_at > ?`,
		AuthStatusVerified, userID, now, userCode, ClientCLI, AuthStatusPending, now,
	)
	if err != nil {
		return fmt.Errorf("verify auth request: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auth request not found, already verified, or expired")
	}
	return nil
}

// CompleteAuthRequest transitions a verified auth request to used and returns it.
// Returns nil if the request is not in verified status.
func (db *ServerDB) CompleteAuthRequest(deviceCode string) (*AuthRequest, error) {
	res, err := db.conn.Exec(
		`UPDATE auth_requests SET status = ? WHERE device_code = ? AND status = ?`,
		AuthStatusUsed, deviceCode, AuthStatusVerified,
	)
	if err != nil {
		return nil, fmt.Errorf("complete auth request: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, nil
	}
	return db.GetAuthRequestByDeviceCode(deviceCode)
}

// RedeemAuthRequest consumes a pending web request in one step when both
// codes match. It returns nil when the pair is unknown, expired or spent.
func (db *ServerDB) RedeemAuthRequest(deviceCode, userCode, userID string) (*AuthRequest, error) {
	now := time.Now().UTC()
	res, err := db.conn.Exec(
		`UPDATE auth_requests SET status = ?, user_id = ?, verified_at = ?
		 WHERE device_code = ? AND user_code = ? AND client = ? AND status = ? AND expires_at > ?`,
		AuthStatusUsed, userID, now, deviceCode, userCode, ClientWeb, AuthStatusPending, now,
	)
	if err != nil {
		return nil, fmt.Errorf("redeem auth request: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, nil
	}
	return db.GetAuthRequestByDeviceCode(deviceCode)
}

// SetAuthRequestAPIKey sets the API key ID on an auth request.
func (db *ServerDB) SetAuthRequestAPIKey(id, apiKeyID string) error {
	_, err := db.conn.Exec(
		`UPDATE auth_requests SET api_key_id = ? WHERE id = ?`,
		apiKeyID, id,
	)
	if err != nil {
		return fmt.Errorf("set auth request api key: %w", err)
	}
	return nil
}

// CleanupExpiredAuthRequests marks pending auth requests past their expiry as expired.
func (db *ServerDB) CleanupExpiredAuthRequests() (int64, error) {
	res, err := db.conn.Exec(
		`UPDATE auth_requests SET status = ? WHERE status = ? AND expires_at <= ?`,
		AuthStatusExpired, AuthStatusPending, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired auth requests: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// IsValidUserCode checks that code has the right length and every character
// is in the user code alphabet.
func IsValidUserCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(UserCodeChars, c) {
			return false
		}
	}
	return true
}
