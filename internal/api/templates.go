package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/marcus/tpled/internal/serverdb"
)

// CreateTemplateRequest is the JSON body for POST /v1/templates.
type CreateTemplateRequest struct {
	Name string `json:"name"`
}

// RenameTemplateRequest is the JSON body for PATCH /v1/templates/{id}.
type RenameTemplateRequest struct {
	Name string `json:"name"`
}

// TemplateResponse is the JSON representation of a template.
type TemplateResponse struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	OwnerEmail    string          `json:"owner_email,omitempty"`
	Name          string          `json:"name"`
	Role          string          `json:"role"`
	HasContent    bool            `json:"has_content"`
	LatestVersion *int            `json:"latest_version,omitempty"`
	DesignJSON    json.RawMessage `json:"design_json,omitempty"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

// TemplateListResponse is the JSON response for GET /v1/templates.
type TemplateListResponse struct {
	Owned  []TemplateResponse `json:"owned"`
	Shared []TemplateResponse `json:"shared"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func listingToResponse(l *serverdb.TemplateListing) TemplateResponse {
	latest := l.LatestVersion
	return TemplateResponse{
		ID:            l.ID,
		OwnerID:       l.OwnerID,
		OwnerEmail:    l.OwnerEmail,
		Name:          l.Name,
		Role:          l.Role,
		HasContent:    l.HasContent,
		LatestVersion: &latest,
		CreatedAt:     formatTime(l.CreatedAt),
		UpdatedAt:     formatTime(l.UpdatedAt),
	}
}

func templateToResponse(t *serverdb.Template, role string) TemplateResponse {
	resp := TemplateResponse{
		ID:         t.ID,
		OwnerID:    t.OwnerID,
		Name:       t.Name,
		Role:       role,
		HasContent: t.HTML != nil,
		CreatedAt:  formatTime(t.CreatedAt),
		UpdatedAt:  formatTime(t.UpdatedAt),
	}
	if t.DesignJSON != nil && json.Valid([]byte(*t.DesignJSON)) {
		resp.DesignJSON = json.RawMessage(*t.DesignJSON)
	}
	return resp
}

// handleListTemplates handles GET /v1/templates.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	owned, err := s.store.ListOwnedTemplates(user.UserID)
	if err != nil {
		writeStoreError(w, r, err, "failed to list templates")
		return
	}
	shared, err := s.store.ListSharedTemplates(user.UserID)
	if err != nil {
		writeStoreError(w, r, err, "failed to list templates")
		return
	}

	resp := TemplateListResponse{
		Owned:  make([]TemplateResponse, 0, len(owned)),
		Shared: make([]TemplateResponse, 0, len(shared)),
	}
	for _, l := range owned {
		resp.Owned = append(resp.Owned, listingToResponse(l))
	}
	for _, l := range shared {
		resp.Shared = append(resp.Shared, listingToResponse(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateTemplate handles POST /v1/templates.
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	var req CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	t, err := s.store.CreateTemplate(user.UserID, req.Name)
	if err != nil {
		writeStoreError(w, r, err, "failed to create template")
		return
	}
	s.metrics.RecordTemplateCreated()
	logFor(r.Context()).Info("template created", "tid", t.ID)

	resp := templateToResponse(t, serverdb.RoleOwner)
	latest := 0
	resp.LatestVersion = &latest
	writeJSON(w, http.StatusCreated, resp)
}

// handleGetTemplate handles GET /v1/templates/{id}.
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	templateID := r.PathValue("id")

	t, err := s.store.GetTemplate(templateID)
	if err != nil {
		writeStoreError(w, r, err, "failed to get template")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "template not found")
		return
	}
	latest, err := s.store.LatestVersion(templateID)
	if err != nil {
		writeStoreError(w, r, err, "failed to get template")
		return
	}

	resp := templateToResponse(t, getTemplateRole(r.Context()))
	resp.LatestVersion = &latest
	writeJSON(w, http.StatusOK, resp)
}

// handleRenameTemplate handles PATCH /v1/templates/{id}.
func (s *Server) handleRenameTemplate(w http.ResponseWriter, r *http.Request) {
	templateID := r.PathValue("id")

	var req RenameTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	t, err := s.store.RenameTemplate(templateID, req.Name)
	if err != nil {
		writeStoreError(w, r, err, "failed to rename template")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "template not found")
		return
	}
	writeJSON(w, http.StatusOK, templateToResponse(t, getTemplateRole(r.Context())))
}

// handleDeleteTemplate handles DELETE /v1/templates/{id}.
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	templateID := r.PathValue("id")

	if err := s.store.DeleteTemplate(templateID); err != nil {
		writeStoreError(w, r, err, "failed to delete template")
		return
	}
	logFor(r.Context()).Info("template deleted")
	w.WriteHeader(http.StatusNoContent)
}

// handleTemplateHTML handles GET /v1/templates/{id}/html.
func (s *Server) handleTemplateHTML(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTemplate(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err, "failed to get template")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "template not found")
		return
	}
	if t.HTML == nil {
		writeError(w, http.StatusNotFound, ErrCodeNoContent, "template has never been saved")
		return
	}
	writeHTMLDocument(w, *t.HTML, t.Name+".html")
}

// writeHTMLDocument serves a stored document. The sandbox CSP keeps saved
// markup from running script on this origin when opened directly.
func writeHTMLDocument(w http.ResponseWriter, doc, filename string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "sandbox")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Disposition", `inline; filename="`+sanitizeFilename(filename)+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc))
}

func sanitizeFilename(name string) string {
	out := make([]rune, 0, len(name))
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
