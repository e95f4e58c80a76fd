package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func corsRequest(origins []string, method, path, origin string) *httptest.ResponseRecorder {
	s := &Server{config: Config{CORSAllowedOrigins: origins}}
	req := httptest.NewRequest(method, path, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	s.CORSMiddleware(okHandler).ServeHTTP(w, req)
	return w
}

func TestCORSOrigins(t *testing.T) {
	dash := "https://dashboard.example.com"
	tests := []struct {
		name    string
		origins []string
		origin  string
		path    string
		want    string
	}{
		{"nothing configured", nil, dash, "/v1/templates", ""},
		{"no origin header", []string{dash}, "", "/v1/templates", ""},
		{"listed origin", []string{dash}, dash, "/v1/templates", dash},
		{"unlisted origin", []string{dash}, "https://evil.com", "/v1/templates", ""},
		{"second of two", []string{"https://one.example.com", dash}, dash, "/v1/templates/x/html", dash},
		{"wildcard echoes origin", []string{"*"}, "https://any.example.com", "/v1/templates", "https://any.example.com"},
		{"editor page", []string{"*"}, dash, "/templates", ""},
		{"browser export", []string{"*"}, dash, "/templates/x/export", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := corsRequest(tt.origins, http.MethodGet, tt.path, tt.origin)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Fatalf("Allow-Origin = %q, want %q", got, tt.want)
			}
			if tt.want != "" && w.Header().Get("Access-Control-Expose-Headers") != corsExposeHeaders {
				t.Fatalf("expected exposed headers, got %q", w.Header().Get("Access-Control-Expose-Headers"))
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	w := corsRequest([]string{"https://dashboard.example.com"}, http.MethodOptions, "/v1/templates", "https://dashboard.example.com")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	for header, want := range map[string]string{
		"Access-Control-Allow-Headers": corsAllowHeaders,
		"Access-Control-Allow-Methods": corsAllowMethods,
		"Access-Control-Max-Age":       corsMaxAge,
		"Vary":                         "Origin",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestCORSPreflightOutsideAPIFallsThrough(t *testing.T) {
	for _, path := range []string{"/templates", "/login", "/auth/verify"} {
		w := corsRequest([]string{"*"}, http.MethodOptions, path, "https://example.com")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected fall through, got %d", path, w.Code)
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Fatalf("%s: expected no CORS headers outside /v1/", path)
		}
	}
}
