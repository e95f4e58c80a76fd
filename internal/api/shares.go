package api

import (
	"encoding/json"
	"net/http"

	"github.com/marcus/tpled/internal/serverdb"
)

// AddShareRequest is the JSON body for POST /v1/templates/{id}/shares.
type AddShareRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// UpdateShareRequest is the JSON body for PATCH /v1/templates/{id}/shares/{userID}.
type UpdateShareRequest struct {
	Role string `json:"role"`
}

// ShareResponse is the JSON representation of a share.
type ShareResponse struct {
	TemplateID string `json:"template_id"`
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	CreatedAt  string `json:"created_at"`
}

func shareToResponse(sh *serverdb.Share) ShareResponse {
	return ShareResponse{
		TemplateID: sh.TemplateID,
		UserID:     sh.SharedWith,
		Email:      sh.Email,
		Role:       sh.Role,
		CreatedAt:  formatTime(sh.CreatedAt),
	}
}

// handleListShares handles GET /v1/templates/{id}/shares.
func (s *Server) handleListShares(w http.ResponseWriter, r *http.Request) {
	shares, err := s.store.ListShares(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err, "failed to list shares")
		return
	}
	resp := make([]ShareResponse, 0, len(shares))
	for _, sh := range shares {
		resp = append(resp, shareToResponse(sh))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAddShare handles POST /v1/templates/{id}/shares.
func (s *Server) handleAddShare(w http.ResponseWriter, r *http.Request) {
	var req AddShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "email is required")
		return
	}
	if req.Role == "" {
		req.Role = serverdb.RoleViewer
	}

	sh, err := s.store.ShareTemplateWithEmail(r.PathValue("id"), req.Email, req.Role)
	if err != nil {
		writeStoreError(w, r, err, "failed to share template")
		return
	}
	logFor(r.Context()).Info("template shared", "with", sh.SharedWith, "role", sh.Role)
	writeJSON(w, http.StatusCreated, shareToResponse(sh))
}

// handleUpdateShare handles PATCH /v1/templates/{id}/shares/{userID}.
func (s *Server) handleUpdateShare(w http.ResponseWriter, r *http.Request) {
	templateID, userID := r.PathValue("id"), r.PathValue("userID")

	var req UpdateShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	if err := s.store.UpdateShareRole(templateID, userID, req.Role); err != nil {
		writeStoreError(w, r, err, "failed to update share")
		return
	}
	sh, err := s.store.GetShare(templateID, userID)
	if err != nil {
		writeStoreError(w, r, err, "failed to update share")
		return
	}
	if sh == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "share not found")
		return
	}
	writeJSON(w, http.StatusOK, shareToResponse(sh))
}

// handleRemoveShare handles DELETE /v1/templates/{id}/shares/{userID}.
func (s *Server) handleRemoveShare(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveShare(r.PathValue("id"), r.PathValue("userID")); err != nil {
		writeStoreError(w, r, err, "failed to remove share")
		return
	}
	logFor(r.Context()).Info("share removed", "with", r.PathValue("userID"))
	w.WriteHeader(http.StatusNoContent)
}
