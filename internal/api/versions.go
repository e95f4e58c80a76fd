package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/marcus/tpled/internal/htmldoc"
	"github.com/marcus/tpled/internal/serverdb"
)

const maxVersionListLimit = 100

// SaveVersionRequest is the JSON body for POST /v1/templates/{id}/versions.
// HTML may be a body fragment (wrapped together with CSS) or a complete
// document (stored as is).
type SaveVersionRequest struct {
	DesignJSON  json.RawMessage `json:"design_json,omitempty"`
	HTML        string          `json:"html"`
	CSS         string          `json:"css,omitempty"`
	BaseVersion *int            `json:"base_version,omitempty"`
}

// VersionResponse is the JSON representation of a template version.
type VersionResponse struct {
	ID           string          `json:"id"`
	TemplateID   string          `json:"template_id"`
	Version      int             `json:"version"`
	SavedBy      string          `json:"saved_by"`
	SavedByEmail string          `json:"saved_by_email,omitempty"`
	DesignJSON   json.RawMessage `json:"design_json,omitempty"`
	HTML         *string         `json:"html,omitempty"`
	CreatedAt    string          `json:"created_at"`
}

func versionToResponse(v *serverdb.Version) VersionResponse {
	resp := VersionResponse{
		ID:           v.ID,
		TemplateID:   v.TemplateID,
		Version:      v.Version,
		SavedBy:      v.SavedBy,
		SavedByEmail: v.SavedByEmail,
		HTML:         v.HTML,
		CreatedAt:    formatTime(v.CreatedAt),
	}
	if v.DesignJSON != nil && json.Valid([]byte(*v.DesignJSON)) {
		resp.DesignJSON = json.RawMessage(*v.DesignJSON)
	}
	return resp
}

// parseVersion reads the {version} path value.
func parseVersion(r *http.Request) (int, error) {
	n, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("version must be a positive integer")
	}
	return n, nil
}

// handleListVersions handles GET /v1/templates/{id}/versions.
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	limit := serverdb.DefaultVersionListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxVersionListLimit {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxVersionListLimit))
			return
		}
		limit = n
	}

	versions, err := s.store.ListVersions(r.PathValue("id"), limit)
	if err != nil {
		writeStoreError(w, r, err, "failed to list versions")
		return
	}
	resp := make([]VersionResponse, 0, len(versions))
	for _, v := range versions {
		resp = append(resp, versionToResponse(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSaveVersion handles POST /v1/templates/{id}/versions.
func (s *Server) handleSaveVersion(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	var req SaveVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	design := bytes.TrimSpace(req.DesignJSON)
	if bytes.Equal(design, []byte("null")) {
		design = nil
	}
	if len(design) > 0 && design[0] != '{' {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "design_json must be an object")
		return
	}
	doc := htmldoc.Ensure(req.HTML, req.CSS)
	if len(design) == 0 && doc == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "nothing to save: design_json or html is required")
		return
	}
	if req.BaseVersion != nil && *req.BaseVersion < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "base_version must not be negative")
		return
	}

	v, err := s.store.SaveVersion(serverdb.SaveVersionInput{
		TemplateID:  r.PathValue("id"),
		SavedBy:     user.UserID,
		DesignJSON:  string(design),
		HTML:        doc,
		BaseVersion: req.BaseVersion,
	})
	if err != nil {
		writeStoreError(w, r, err, "failed to save version")
		return
	}
	v.SavedByEmail = user.Email
	s.metrics.RecordVersionSaved()
	logFor(r.Context()).Info("version saved", "version", v.Version)

	resp := versionToResponse(v)
	resp.DesignJSON, resp.HTML = nil, nil
	writeJSON(w, http.StatusCreated, resp)
}

// handleGetVersion handles GET /v1/templates/{id}/versions/{version}.
func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	n, err := parseVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	v, err := s.store.GetVersion(r.PathValue("id"), n)
	if err != nil {
		writeStoreError(w, r, err, "failed to get version")
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "version not found")
		return
	}
	writeJSON(w, http.StatusOK, versionToResponse(v))
}

// handleVersionHTML handles GET /v1/templates/{id}/versions/{version}/html.
func (s *Server) handleVersionHTML(w http.ResponseWriter, r *http.Request) {
	n, err := parseVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	v, err := s.store.GetVersion(r.PathValue("id"), n)
	if err != nil {
		writeStoreError(w, r, err, "failed to get version")
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "version not found")
		return
	}
	if v.HTML == nil {
		writeError(w, http.StatusNotFound, ErrCodeNoContent, "version has no html")
		return
	}
	writeHTMLDocument(w, *v.HTML, fmt.Sprintf("v%d.html", v.Version))
}

// handleRestoreVersion handles POST /v1/templates/{id}/versions/{version}/restore.
func (s *Server) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	n, err := parseVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	v, err := s.store.RestoreVersion(r.PathValue("id"), n, user.UserID)
	if err != nil {
		writeStoreError(w, r, err, "failed to restore version")
		return
	}
	v.SavedByEmail = user.Email
	s.metrics.RecordVersionSaved()
	logFor(r.Context()).Info("version restored", "from", n, "version", v.Version)

	resp := versionToResponse(v)
	resp.DesignJSON, resp.HTML = nil, nil
	writeJSON(w, http.StatusCreated, resp)
}
