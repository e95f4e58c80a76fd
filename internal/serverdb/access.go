package serverdb

import (
	"database/sql"
	"fmt"
)

// Role constants. The owner role is implied by templates.owner_id; shares
// only ever carry editor or viewer.
const (
	RoleOwner  = "owner"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// roleLevel returns the numeric level for a role (higher = more permissions).
func roleLevel(role string) int {
	switch role {
	case RoleOwner:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// IsShareRole reports whether role can be granted through a share.
func IsShareRole(role string) bool {
	return role == RoleEditor || role == RoleViewer
}

// CanEdit reports whether role may save versions and rename.
func CanEdit(role string) bool {
	return roleLevel(role) >= roleLevel(RoleEditor)
}

// TemplateRole returns the user's role on a template, or "" when the
// template does not exist or is not visible to the user.
func (db *ServerDB) TemplateRole(templateID, userID string) (string, error) {
	var ownerID string
	var shareRole sql.NullString
	err := db.conn.QueryRow(`
		SELECT t.owner_id, s.role
		FROM templates t
		LEFT JOIN template_shares s ON s.template_id = t.id AND s.shared_with = ?
		WHERE t.id = ?
	`, userID, templateID).Scan(&ownerID, &shareRole)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("template role: %w", err)
	}
	if ownerID == userID {
		return RoleOwner, nil
	}
	if shareRole.Valid {
		return shareRole.String, nil
	}
	return "", nil
}

// Authorize checks that the user has at least the required role on the
// template and returns the role actually held.
func (db *ServerDB) Authorize(templateID, userID, requiredRole string) (string, error) {
	role, err := db.TemplateRole(templateID, userID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", ErrTemplateNotFound
	}
	if roleLevel(role) < roleLevel(requiredRole) {
		return role, fmt.Errorf("%w: have %s, need %s", ErrForbidden, role, requiredRole)
	}
	return role, nil
}
