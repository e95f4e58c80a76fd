package serverdb

import (
	"database/sql"
	"fmt"
	"time"
)

// DefaultVersionListLimit is how many versions the history panel shows.
const DefaultVersionListLimit = 20

// Version is an immutable snapshot of a template's editor state.
type Version struct {
	ID           string
	TemplateID   string
	Version      int
	SavedBy      string
	SavedByEmail string
	DesignJSON   *string
	HTML         *string
	CreatedAt    time.Time
}

// SaveVersionInput is the payload of a save.
type SaveVersionInput struct {
	TemplateID string
	SavedBy    string
	DesignJSON string // raw project JSON from the editor; empty stores NULL
	HTML       string // full HTML document
	// BaseVersion, when set, must equal the latest version number or the
	// save is refused with ErrVersionConflict. Nil means last writer wins.
	BaseVersion *int
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SaveVersion appends version max+1 and makes it the template's current
// state. The read of max(version), the insert and the template update run
// in one transaction.
func (db *ServerDB) SaveVersion(in SaveVersionInput) (*Version, error) {
	id, err := newUUID()
	if err != nil {
		return nil, fmt.Errorf("generate version id: %w", err)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT 1 FROM templates WHERE id = ?`, in.TemplateID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("check template: %w", err)
	}

	var latest int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM template_versions WHERE template_id = ?`, in.TemplateID,
	).Scan(&latest); err != nil {
		return nil, fmt.Errorf("read latest version: %w", err)
	}
	if in.BaseVersion != nil && *in.BaseVersion != latest {
		return nil, fmt.Errorf("%w: based on v%d, latest is v%d", ErrVersionConflict, *in.BaseVersion, latest)
	}

	next := latest + 1
	now := time.Now().UTC()
	_, err = tx.Exec(
		`INSERT INTO template_versions (id, template_id, version, saved_by, design_json, html, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, in.TemplateID, next, in.SavedBy, nullIfEmpty(in.DesignJSON), nullIfEmpty(in.HTML), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE templates SET current_design_json = ?, current_html = ?, updated_at = ? WHERE id = ?`,
		nullIfEmpty(in.DesignJSON), nullIfEmpty(in.HTML), now, in.TemplateID,
	)
	if err != nil {
		return nil, fmt.Errorf("update current template state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	v := &Version{
		ID:         id,
		TemplateID: in.TemplateID,
		Version:    next,
		SavedBy:    in.SavedBy,
		CreatedAt:  now,
	}
	if in.DesignJSON != "" {
		d := in.DesignJSON
		v.DesignJSON = &d
	}
	if in.HTML != "" {
		h := in.HTML
		v.HTML = &h
	}
	return v, nil
}

// ListVersions returns version metadata (no bodies), newest first.
func (db *ServerDB) ListVersions(templateID string, limit int) ([]*Version, error) {
	if limit <= 0 {
		limit = DefaultVersionListLimit
	}
	rows, err := db.conn.Query(`
		SELECT v.id, v.template_id, v.version, v.saved_by, COALESCE(u.email, ''), v.created_at
		FROM template_versions v
		LEFT JOIN users u ON u.id = v.saved_by
		WHERE v.template_id = ?
		ORDER BY v.version DESC
		LIMIT ?
	`, templateID, limit)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []*Version
	for rows.Next() {
		v := &Version{}
		if err := rows.Scan(&v.ID, &v.TemplateID, &v.Version, &v.SavedBy, &v.SavedByEmail, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: iterate: %w", err)
	}
	return versions, nil
}

// GetVersion returns one version with its bodies, or nil.
func (db *ServerDB) GetVersion(templateID string, version int) (*Version, error) {
	v := &Version{}
	err := db.conn.QueryRow(`
		SELECT v.id, v.template_id, v.version, v.saved_by, COALESCE(u.email, ''), v.design_json, v.html, v.created_at
		FROM template_versions v
		LEFT JOIN users u ON u.id = v.saved_by
		WHERE v.template_id = ? AND v.version = ?
	`, templateID, version).Scan(&v.ID, &v.TemplateID, &v.Version, &v.SavedBy, &v.SavedByEmail, &v.DesignJSON, &v.HTML, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

// LatestVersion returns the highest version number, or 0 if the template
// was never saved.
func (db *ServerDB) LatestVersion(templateID string) (int, error) {
	var latest int
	err := db.conn.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM template_versions WHERE template_id = ?`, templateID,
	).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("latest version: %w", err)
	}
	return latest, nil
}

// RestoreVersion saves a copy of an earlier version as the newest one.
func (db *ServerDB) RestoreVersion(templateID string, version int, savedBy string) (*Version, error) {
	old, err := db.GetVersion(templateID, version)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, fmt.Errorf("%w: v%d", ErrVersionNotFound, version)
	}

	in := SaveVersionInput{TemplateID: templateID, SavedBy: savedBy}
	if old.DesignJSON != nil {
		in.DesignJSON = *old.DesignJSON
	}
	if old.HTML != nil {
		in.HTML = *old.HTML
	}
	return db.SaveVersion(in)
}
