package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"time"

	"github.com/marcus/tpled/internal/htmldoc"
	"github.com/marcus/tpled/internal/serverdb"
)

//go:embed web/*.html
var webFS embed.FS

// pages maps a page file name to its template set (layout + page).
var pages = mustParsePages()

var pageFuncs = template.FuncMap{
	"fmtTime": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04") },
	"roleLabel": func(role string) string {
		switch role {
		case serverdb.RoleOwner:
			return "Owner"
		case serverdb.RoleEditor:
			return "Editor"
		case serverdb.RoleViewer:
			return "Viewer"
		}
		return role
	},
}

func mustParsePages() map[string]*template.Template {
	names, err := fs.Glob(webFS, "web/*.html")
	if err != nil {
		panic(err)
	}
	out := make(map[string]*template.Template, len(names))
	for _, name := range names {
		base := path.Base(name)
		if base == "layout.html" {
			continue
		}
		out[base] = template.Must(template.New(base).Funcs(pageFuncs).ParseFS(webFS, "web/layout.html", name))
	}
	return out
}

// pageBase carries the fields every page's layout needs.
type pageBase struct {
	Title string
	User  *AuthUser
}

func (s *Server) base(r *http.Request, title string) pageBase {
	return pageBase{Title: title, User: s.pageUser(r)}
}

// render executes a page into a buffer and writes it with status.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	t, ok := pages[name]
	if !ok {
		logFor(r.Context()).Error("unknown page template", "name", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		logFor(r.Context()).Error("render page", "name", name, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

type errorPageData struct {
	pageBase
	Status  int
	Message string
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.render(w, r, status, "error.html", errorPageData{
		pageBase: s.base(r, http.StatusText(status)),
		Status:   status,
		Message:  msg,
	})
}

// handleHomePage handles GET /.
func (s *Server) handleHomePage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "home.html", s.base(r, "tpled"))
}

type templatesPageData struct {
	pageBase
	Owned  []*serverdb.TemplateListing
	Shared []*serverdb.TemplateListing
	Name   string
	Error  string
}

func (s *Server) templatesPage(w http.ResponseWriter, r *http.Request, status int, data templatesPageData) {
	user := getUserFromContext(r.Context())
	owned, err := s.store.ListOwnedTemplates(user.UserID)
	if err != nil {
		logFor(r.Context()).Error("list owned templates", "err", err)
		s.renderError(w, r, http.StatusInternalServerError, "Could not load your templates.")
		return
	}
	shared, err := s.store.ListSharedTemplates(user.UserID)
	if err != nil {
		logFor(r.Context()).Error("list shared templates", "err", err)
		s.renderError(w, r, http.StatusInternalServerError, "Could not load your templates.")
		return
	}
	data.pageBase = pageBase{Title: "Templates", User: user}
	data.Owned, data.Shared = owned, shared
	s.render(w, r, status, "templates.html", data)
}

// handleTemplatesPage handles GET /templates.
func (s *Server) handleTemplatesPage(w http.ResponseWriter, r *http.Request) {
	s.templatesPage(w, r, http.StatusOK, templatesPageData{})
}

// handleCreateTemplatePage handles POST /templates.
func (s *Server) handleCreateTemplatePage(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		s.templatesPage(w, r, http.StatusBadRequest, templatesPageData{Error: "Invalid form data."})
		return
	}
	name := r.FormValue("name")
	t, err := s.store.CreateTemplate(user.UserID, name)
	if err != nil {
		if errors.Is(err, serverdb.ErrInvalidName) {
			s.templatesPage(w, r, http.StatusBadRequest, templatesPageData{Name: name, Error: "Please enter a name (up to 200 characters)."})
			return
		}
		logFor(r.Context()).Error("create template", "err", err)
		s.templatesPage(w, r, http.StatusInternalServerError, templatesPageData{Name: name, Error: "Could not create the template."})
		return
	}
	s.metrics.RecordTemplateCreated()
	logFor(r.Context()).Info("template created", "tid", t.ID)
	http.Redirect(w, r, "/templates/"+t.ID, http.StatusSeeOther)
}

// handleDeleteTemplatePage handles POST /templates/{id}/delete.
func (s *Server) handleDeleteTemplatePage(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	templateID := r.PathValue("id")
	if !serverdb.IsUUID(templateID) {
		s.renderError(w, r, http.StatusNotFound, "Template not found.")
		return
	}
	if _, err := s.store.Authorize(templateID, user.UserID, serverdb.RoleOwner); err != nil {
		s.pageStoreError(w, r, err)
		return
	}
	if err := s.store.DeleteTemplate(templateID); err != nil {
		s.pageStoreError(w, r, err)
		return
	}
	logFor(r.Context()).Info("template deleted", "tid", templateID)
	http.Redirect(w, r, "/templates", http.StatusSeeOther)
}

// editorBoot is handed to the editor script as JSON.
type editorBoot struct {
	TemplateID    string           `json:"template_id"`
	Name          string           `json:"name"`
	Role          string           `json:"role"`
	CanEdit       bool             `json:"can_edit"`
	LatestVersion int              `json:"latest_version"`
	Design        json.RawMessage  `json:"design,omitempty"`
	HTML          string           `json:"html,omitempty"`
	Doc           htmldoc.Skeleton `json:"doc"`
}

type editorPageData struct {
	pageBase
	Template  *serverdb.Template
	Role      string
	CanEdit   bool
	IsOwner   bool
	Versions  []*serverdb.Version
	Shares    []*serverdb.Share
	Boot      editorBoot
	EditorCDN string
}

// handleEditorPage handles GET /templates/{id}.
func (s *Server) handleEditorPage(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	templateID := r.PathValue("id")
	if !serverdb.IsUUID(templateID) {
		s.renderError(w, r, http.StatusNotFound, "Template not found.")
		return
	}

	t, role, err := s.store.GetAccessibleTemplate(templateID, user.UserID)
	if err != nil {
		s.pageStoreError(w, r, err)
		return
	}
	if t == nil {
		s.renderError(w, r, http.StatusNotFound, "Template not found.")
		return
	}

	versions, err := s.store.ListVersions(templateID, serverdb.DefaultVersionListLimit)
	if err != nil {
		s.pageStoreError(w, r, err)
		return
	}
	latest := 0
	if len(versions) > 0 {
		latest = versions[0].Version
	}

	data := editorPageData{
		pageBase:  pageBase{Title: t.Name, User: user},
		Template:  t,
		Role:      role,
		CanEdit:   serverdb.CanEdit(role),
		IsOwner:   role == serverdb.RoleOwner,
		Versions:  versions,
		EditorCDN: s.config.EditorCDN,
	}
	if data.IsOwner {
		if data.Shares, err = s.store.ListShares(templateID); err != nil {
			s.pageStoreError(w, r, err)
			return
		}
	}

	data.Boot = editorBoot{
		TemplateID:    t.ID,
		Name:          t.Name,
		Role:          role,
		CanEdit:       data.CanEdit,
		LatestVersion: latest,
		Doc:           htmldoc.Parts(),
	}
	if t.DesignJSON != nil && json.Valid([]byte(*t.DesignJSON)) {
		data.Boot.Design = json.RawMessage(*t.DesignJSON)
	} else if t.HTML != nil {
		data.Boot.HTML = *t.HTML
	}

	s.render(w, r, http.StatusOK, "editor.html", data)
}

// pageStoreError is the HTML counterpart of writeStoreError.
func (s *Server) pageStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status, _, _ := classifyStoreError(err)
	msg := "Something went wrong."
	switch status {
	case http.StatusNotFound:
		msg = "Template not found."
	case http.StatusForbidden:
		msg = "You do not have permission to do that."
	case http.StatusInternalServerError:
		logFor(r.Context()).Error("page store error", "err", err)
	default:
		msg = fmt.Sprintf("Request failed: %v", err)
	}
	s.renderError(w, r, status, msg)
}
