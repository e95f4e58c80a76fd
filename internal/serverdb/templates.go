package serverdb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MaxTemplateNameLen bounds template names.
const MaxTemplateNameLen = 200

// Template is a template row including the current editor state.
type Template struct {
	ID         string
	OwnerID    string
	Name       string
	DesignJSON *string // current_design_json, nil until the first save
	HTML       *string // current_html, nil until the first save
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TemplateListing is a template as shown in a list: no bodies, plus the
// owner's email and the caller's role.
type TemplateListing struct {
	ID         string
	OwnerID    string
	OwnerEmail string
	Name       string
	Role          string
	HasContent    bool
	LatestVersion int // 0 until the first save
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// normalizeName trims a template name and validates it.
func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	if len(name) > MaxTemplateNameLen {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxTemplateNameLen)
	}
	return name, nil
}

// CreateTemplate creates an empty template owned by ownerID.
func (db *ServerDB) CreateTemplate(ownerID, name string) (*Template, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	id, err := newUUID()
	if err != nil {
		return nil, fmt.Errorf("generate template id: %w", err)
	}

	now := time.Now().UTC()
	_, err = db.conn.Exec(
		`INSERT INTO templates (id, owner_id, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, ownerID, name, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}

	return &Template{ID: id, OwnerID: ownerID, Name: name, CreatedAt: now, UpdatedAt: now}, nil
}

// GetTemplate returns a template by ID without any access check, or nil.
func (db *ServerDB) GetTemplate(id string) (*Template, error) {
	t := &Template{}
	err := db.conn.QueryRow(
		`SELECT id, owner_id, name, current_design_json, current_html, created_at, updated_at FROM templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.OwnerID, &t.Name, &t.DesignJSON, &t.HTML, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// GetAccessibleTemplate returns the template and the user's role on it, or
// a nil template when the user cannot see it.
func (db *ServerDB) GetAccessibleTemplate(id, userID string) (*Template, string, error) {
	role, err := db.TemplateRole(id, userID)
	if err != nil {
		return nil, "", err
	}
	if role == "" {
		return nil, "", nil
	}
	t, err := db.GetTemplate(id)
	if err != nil {
		return nil, "", err
	}
	if t == nil {
		// deleted between the two reads
		return nil, "", nil
	}
	return t, role, nil
}

func scanListings(rows *sql.Rows) ([]*TemplateListing, error) {
	defer rows.Close()
	var out []*TemplateListing
	for rows.Next() {
		l := &TemplateListing{}
		if err := rows.Scan(&l.ID, &l.OwnerID, &l.OwnerEmail, &l.Name, &l.Role, &l.HasContent, &l.LatestVersion, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates: iterate: %w", err)
	}
	return out, nil
}

// ListOwnedTemplates returns the user's own templates, most recently updated first.
func (db *ServerDB) ListOwnedTemplates(userID string) ([]*TemplateListing, error) {
	rows, err := db.conn.Query(`
		SELECT t.id, t.owner_id, u.email, t.name, 'owner', t.current_html IS NOT NULL,
		       COALESCE((SELECT MAX(v.version) FROM template_versions v WHERE v.template_id = t.id), 0),
		       t.created_at, t.updated_at
		FROM templates t
		JOIN users u ON u.id = t.owner_id
		WHERE t.owner_id = ?
		ORDER BY t.updated_at DESC, t.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned templates: %w", err)
	}
	return scanListings(rows)
}

// ListSharedTemplates returns templates other users shared with userID,
// most recently updated first.
func (db *ServerDB) ListSharedTemplates(userID string) ([]*TemplateListing, error) {
	rows, err := db.conn.Query(`
		SELECT t.id, t.owner_id, u.email, t.name, s.role, t.current_html IS NOT NULL,
		       COALESCE((SELECT MAX(v.version) FROM template_versions v WHERE v.template_id = t.id), 0),
		       t.created_at, t.updated_at
		FROM template_shares s
		JOIN templates t ON t.id = s.template_id
		JOIN users u ON u.id = t.owner_id
		WHERE s.shared_with = ?
		ORDER BY t.updated_at DESC, t.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list shared templates: %w", err)
	}
	return scanListings(rows)
}

// RenameTemplate changes a template's name.
func (db *ServerDB) RenameTemplate(id, name string) (*Template, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res, err := db.conn.Exec(`UPDATE templates SET name = ?, updated_at = ? WHERE id = ?`, name, now, id)
	if err != nil {
		return nil, fmt.Errorf("rename template: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, ErrTemplateNotFound
	}
	return db.GetTemplate(id)
}

// DeleteTemplate removes a template together with its shares and versions.
func (db *ServerDB) DeleteTemplate(id string) error {
	res, err := db.conn.Exec(`DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// CountTemplates returns the total number of templates.
func (db *ServerDB) CountTemplates() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM templates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return n, nil
}
