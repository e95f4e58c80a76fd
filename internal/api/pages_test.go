package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/marcus/tpled/internal/htmldoc"
	"github.com/marcus/tpled/internal/serverdb"
)

func getPage(srv *Server, path, session string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: session})
	}
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	return w
}

func TestAllPagesParse(t *testing.T) {
	for _, name := range []string{"home.html", "login.html", "login_verify.html", "verify.html", "templates.html", "editor.html", "error.html"} {
		if pages[name] == nil {
			t.Errorf("page %s not parsed", name)
		}
	}
}

func TestHomePage(t *testing.T) {
	srv, _ := newTestServer(t)
	w := getPage(srv, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `href="/login"`) {
		t.Fatal("anonymous home page should link to sign in")
	}
	if w := getPage(srv, "/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown path: expected 404, got %d", w.Code)
	}
}

func TestProtectedPagesRedirect(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/templates", "/templates/00000000-0000-4000-8000-000000000000"} {
		w := getPage(srv, path, "")
		if w.Code != http.StatusSeeOther {
			t.Fatalf("%s: expected 303, got %d", path, w.Code)
		}
		want := "/login?next=" + url.QueryEscape(path)
		if loc := w.Header().Get("Location"); loc != want {
			t.Fatalf("%s: expected %q, got %q", path, want, loc)
		}
	}
}

func TestTemplatesPage(t *testing.T) {
	f := newSharedFixture(t)
	viewerSession := createSession(t, f.store, f.viewerID)
	createTemplateViaAPI(t, f.srv, f.viewer, "Viewer <own>")

	w := getPage(f.srv, "/templates", viewerSession)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "Viewer &lt;own&gt;") {
		t.Fatal("owned template name should be listed and escaped")
	}
	if !strings.Contains(body, "Newsletter") || !strings.Contains(body, "owner@test.com") {
		t.Fatal("shared template should be listed with its owner")
	}
	if !strings.Contains(body, "viewer@test.com") {
		t.Fatal("header should show the signed-in email")
	}
}

func TestCreateTemplateFromPage(t *testing.T) {
	srv, store := newTestServer(t)
	userID, _ := createTestUser(t, store, "maker@test.com")
	session := &http.Cookie{Name: sessionCookieName, Value: createSession(t, store, userID)}

	w := doForm(srv, "/templates", "", url.Values{"name": {"Launch"}}, session)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", w.Code, w.Body.String())
	}
	if !regexp.MustCompile(`^/templates/[0-9a-f-]{36}$`).MatchString(w.Header().Get("Location")) {
		t.Fatalf("expected redirect into the editor, got %q", w.Header().Get("Location"))
	}

	w = doForm(srv, "/templates", "", url.Values{"name": {"  "}}, session)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Please enter a name") {
		t.Fatalf("blank name: expected 400 with message, got %d", w.Code)
	}

	w = doForm(srv, "/templates", "https://evil.example", url.Values{"name": {"X"}}, session)
	if w.Code != http.StatusForbidden {
		t.Fatalf("cross-origin: expected 403, got %d", w.Code)
	}
	if n, _ := store.CountTemplates(); n != 1 {
		t.Fatalf("expected exactly 1 template, got %d", n)
	}
}

func TestDeleteTemplateFromPage(t *testing.T) {
	f := newSharedFixture(t)
	path := "/templates/" + f.templateID + "/delete"

	editorSession := &http.Cookie{Name: sessionCookieName, Value: createSession(t, f.store, f.editorID)}
	if w := doForm(f.srv, path, "", nil, editorSession); w.Code != http.StatusForbidden {
		t.Fatalf("editor: expected 403, got %d", w.Code)
	}

	owner, _ := f.store.GetUserByEmail("owner@test.com")
	ownerSession := &http.Cookie{Name: sessionCookieName, Value: createSession(t, f.store, owner.ID)}
	w := doForm(f.srv, path, "", nil, ownerSession)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/templates" {
		t.Fatalf("owner: expected redirect, got %d %q", w.Code, w.Header().Get("Location"))
	}
	if tpl, _ := f.store.GetTemplate(f.templateID); tpl != nil {
		t.Fatal("template should be deleted")
	}
}

var bootRe = regexp.MustCompile(`(?s)<script type="application/json" id="boot">(.*?)</script>`)

func editorBootFrom(t *testing.T, body string) editorBoot {
	t.Helper()
	m := bootRe.FindStringSubmatch(body)
	if m == nil {
		t.Fatal("boot script not found")
	}
	var boot editorBoot
	if err := json.Unmarshal([]byte(m[1]), &boot); err != nil {
		t.Fatalf("decode boot: %v (%s)", err, m[1])
	}
	return boot
}

func TestEditorPage(t *testing.T) {
	f := newSharedFixture(t)
	saveVersion(t, f, f.owner, SaveVersionRequest{
		DesignJSON: json.RawMessage(`{"pages":[{"id":"p","note":"</script><b>"}]}`),
		HTML:       "<p>hi</p>",
	})
	owner, _ := f.store.GetUserByEmail("owner@test.com")

	t.Run("owner", func(t *testing.T) {
		w := getPage(f.srv, "/templates/"+f.templateID, createSession(t, f.store, owner.ID))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		body := w.Body.String()
		boot := editorBootFrom(t, body)
		if boot.TemplateID != f.templateID || boot.Role != serverdb.RoleOwner || !boot.CanEdit || boot.LatestVersion != 1 {
			t.Fatalf("unexpected boot: %+v", boot)
		}
		// Copy HTML in the browser assembles the same document as the export.
		if got, want := boot.Doc.Head+"p{}"+boot.Doc.Body+"<p>hi</p>"+boot.Doc.Tail, htmldoc.Build("<p>hi</p>", "p{}"); got != want {
			t.Fatalf("editor skeleton differs from export:\n%s\n---\n%s", got, want)
		}
		var design map[string]any
		if err := json.Unmarshal(boot.Design, &design); err != nil {
			t.Fatalf("design should survive embedding: %v", err)
		}
		for _, want := range []string{"Save (new version)", "Copy HTML", "Sharing", "User must have logged in once", "editor@test.com", DefaultEditorCDN + "/grapes.min.js"} {
			if !strings.Contains(body, want) {
				t.Errorf("owner page missing %q", want)
			}
		}
		if strings.Contains(body, "View only") {
			t.Error("owner should not see the view-only badge")
		}
	})

	t.Run("viewer", func(t *testing.T) {
		w := getPage(f.srv, "/templates/"+f.templateID, createSession(t, f.store, f.viewerID))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		body := w.Body.String()
		if boot := editorBootFrom(t, body); boot.CanEdit {
			t.Fatal("viewer must not be able to edit")
		}
		if !strings.Contains(body, "View only") {
			t.Error("viewer should see the view-only badge")
		}
		for _, absent := range []string{"Save (new version)", "<h2>Sharing</h2>", `data-restore="`} {
			if strings.Contains(body, absent) {
				t.Errorf("viewer page should not contain %q", absent)
			}
		}
	})

	t.Run("editor", func(t *testing.T) {
		body := getPage(f.srv, "/templates/"+f.templateID, createSession(t, f.store, f.editorID)).Body.String()
		if !strings.Contains(body, "Save (new version)") || !strings.Contains(body, `data-restore="`) {
			t.Error("editor should be able to save and restore")
		}
		if strings.Contains(body, `id="share-form"`) {
			t.Error("only owners manage sharing")
		}
	})

	t.Run("outsider", func(t *testing.T) {
		outsider, _ := f.store.GetUserByEmail("outsider@test.com")
		w := getPage(f.srv, "/templates/"+f.templateID, createSession(t, f.store, outsider.ID))
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})
}
