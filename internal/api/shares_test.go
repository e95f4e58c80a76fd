package api

import (
	"net/http"
	"testing"

	"github.com/marcus/tpled/internal/serverdb"
)

func TestListShares(t *testing.T) {
	f := newSharedFixture(t)

	w := doRequest(f.srv, "GET", "/v1/templates/"+f.templateID+"/shares", f.owner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	shares := decodeJSON[[]ShareResponse](t, w)
	if len(shares) != 2 {
		t.Fatalf("expected 2 shares, got %d", len(shares))
	}
	roles := map[string]string{}
	for _, sh := range shares {
		roles[sh.Email] = sh.Role
	}
	if roles["editor@test.com"] != serverdb.RoleEditor || roles["viewer@test.com"] != serverdb.RoleViewer {
		t.Fatalf("unexpected shares: %+v", shares)
	}
}

func TestAddShare(t *testing.T) {
	f := newSharedFixture(t)
	path := "/v1/templates/" + f.templateID + "/shares"

	t.Run("default role is viewer", func(t *testing.T) {
		w := doRequest(f.srv, "POST", path, f.owner, AddShareRequest{Email: "Outsider@Test.com"})
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}
		if sh := decodeJSON[ShareResponse](t, w); sh.Role != serverdb.RoleViewer || sh.Email != "outsider@test.com" {
			t.Fatalf("unexpected share: %+v", sh)
		}
		assertCode(t, doRequest(f.srv, "GET", "/v1/templates/"+f.templateID, f.outsider, nil), http.StatusOK, "")
	})

	t.Run("re-sharing updates the role", func(t *testing.T) {
		w := doRequest(f.srv, "POST", path, f.owner, AddShareRequest{Email: "viewer@test.com", Role: serverdb.RoleEditor})
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}
		if sh := decodeJSON[ShareResponse](t, w); sh.Role != serverdb.RoleEditor {
			t.Fatalf("expected editor, got %s", sh.Role)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		assertCode(t, doRequest(f.srv, "POST", path, f.owner, AddShareRequest{Email: "nobody@test.com"}), http.StatusNotFound, ErrCodeUserNotFound)
	})

	t.Run("owner role is not shareable", func(t *testing.T) {
		assertCode(t, doRequest(f.srv, "POST", path, f.owner, AddShareRequest{Email: "viewer@test.com", Role: serverdb.RoleOwner}), http.StatusBadRequest, ErrCodeBadRequest)
	})

	t.Run("sharing with the owner", func(t *testing.T) {
		assertCode(t, doRequest(f.srv, "POST", path, f.owner, AddShareRequest{Email: "owner@test.com"}), http.StatusBadRequest, ErrCodeBadRequest)
	})

	t.Run("missing email", func(t *testing.T) {
		assertCode(t, doRequest(f.srv, "POST", path, f.owner, AddShareRequest{}), http.StatusBadRequest, ErrCodeBadRequest)
	})
}

func TestUpdateShare(t *testing.T) {
	f := newSharedFixture(t)
	path := "/v1/templates/" + f.templateID + "/shares/" + f.viewerID

	w := doRequest(f.srv, "PATCH", path, f.owner, UpdateShareRequest{Role: serverdb.RoleEditor})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if sh := decodeJSON[ShareResponse](t, w); sh.Role != serverdb.RoleEditor {
		t.Fatalf("expected editor, got %s", sh.Role)
	}

	// The promoted viewer can now save.
	w = doRequest(f.srv, "POST", "/v1/templates/"+f.templateID+"/versions", f.viewer, SaveVersionRequest{HTML: "<p>promoted</p>"})
	assertCode(t, w, http.StatusCreated, "")

	assertCode(t, doRequest(f.srv, "PATCH", path, f.owner, UpdateShareRequest{Role: "admin"}), http.StatusBadRequest, ErrCodeBadRequest)
	assertCode(t, doRequest(f.srv, "PATCH", "/v1/templates/"+f.templateID+"/shares/00000000-0000-4000-8000-000000000000", f.owner, UpdateShareRequest{Role: serverdb.RoleViewer}), http.StatusNotFound, ErrCodeNotFound)
}

func TestRemoveShare(t *testing.T) {
	f := newSharedFixture(t)
	path := "/v1/templates/" + f.templateID + "/shares/" + f.editorID

	assertCode(t, doRequest(f.srv, "DELETE", path, f.editor, nil), http.StatusForbidden, ErrCodeForbidden)

	w := doRequest(f.srv, "DELETE", path, f.owner, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	// Access is gone immediately and existence is not leaked.
	assertCode(t, doRequest(f.srv, "GET", "/v1/templates/"+f.templateID, f.editor, nil), http.StatusNotFound, ErrCodeNotFound)
	assertCode(t, doRequest(f.srv, "DELETE", path, f.owner, nil), http.StatusNotFound, ErrCodeNotFound)
}
