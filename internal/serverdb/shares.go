package serverdb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Share grants one user a role on one template.
type Share struct {
	TemplateID string
	SharedWith string
	Email      string
	Role       string
	CreatedAt  time.Time
}

// ShareTemplate grants userID the given role on a template. Sharing again
// with the same user replaces the role and keeps the original created_at.
func (db *ServerDB) ShareTemplate(templateID, userID, role string) (*Share, error) {
	if !IsShareRole(role) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var ownerID string
	err = tx.QueryRow(`SELECT owner_id FROM templates WHERE id = ?`, templateID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template owner: %w", err)
	}
	if ownerID == userID {
		return nil, ErrShareWithOwner
	}

	var email string
	err = tx.QueryRow(`SELECT email FROM users WHERE id = ?`, userID).Scan(&email)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`
		INSERT INTO template_shares (template_id, shared_with, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (template_id, shared_with) DO UPDATE SET role = excluded.role
	`, templateID, userID, role, now)
	if err != nil {
		return nil, fmt.Errorf("upsert share: %w", err)
	}

	s := &Share{TemplateID: templateID, SharedWith: userID, Email: email}
	err = tx.QueryRow(
		`SELECT role, created_at FROM template_shares WHERE template_id = ? AND shared_with = ?`,
		templateID, userID,
	).Scan(&s.Role, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("read share: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s, nil
}

// ShareTemplateWithEmail resolves email to a user and shares with them. The
// user must have signed in at least once.
func (db *ServerDB) ShareTemplateWithEmail(templateID, email, role string) (*Share, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: empty email", ErrUserNotFound)
	}
	u, err := db.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	return db.ShareTemplate(templateID, u.ID, role)
}

// GetShare returns a single share, or nil.
func (db *ServerDB) GetShare(templateID, userID string) (*Share, error) {
	s := &Share{}
	err := db.conn.QueryRow(`
		SELECT s.template_id, s.shared_with, u.email, s.role, s.created_at
		FROM template_shares s JOIN users u ON u.id = s.shared_with
		WHERE s.template_id = ? AND s.shared_with = ?
	`, templateID, userID).Scan(&s.TemplateID, &s.SharedWith, &s.Email, &s.Role, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get share: %w", err)
	}
	return s, nil
}

// ListShares returns everyone a template is shared with, newest first.
func (db *ServerDB) ListShares(templateID string) ([]*Share, error) {
	rows, err := db.conn.Query(`
		SELECT s.template_id, s.shared_with, u.email, s.role, s.created_at
		FROM template_shares s JOIN users u ON u.id = s.shared_with
		WHERE s.template_id = ?
		ORDER BY s.created_at DESC, u.email
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	var shares []*Share
	for rows.Next() {
		s := &Share{}
		if err := rows.Scan(&s.TemplateID, &s.SharedWith, &s.Email, &s.Role, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		shares = append(shares, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list shares: iterate: %w", err)
	}
	return shares, nil
}

// UpdateShareRole changes the role of an existing share.
func (db *ServerDB) UpdateShareRole(templateID, userID, role string) error {
	if !IsShareRole(role) {
		return fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	res, err := db.conn.Exec(
		`UPDATE template_shares SET role = ? WHERE template_id = ? AND shared_with = ?`,
		role, templateID, userID,
	)
	if err != nil {
		return fmt.Errorf("update share role: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrShareNotFound
	}
	return nil
}

// RemoveShare revokes a user's access to a template.
func (db *ServerDB) RemoveShare(templateID, userID string) error {
	res, err := db.conn.Exec(
		`DELETE FROM template_shares WHERE template_id = ? AND shared_with = ?`,
		templateID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove share: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrShareNotFound
	}
	return nil
}
