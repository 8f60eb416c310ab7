package static

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newPublicDir(t *testing.T) (string, string) {
	t.Helper()
	parent := t.TempDir()
	root := filepath.Join(parent, "public")
	if err := os.MkdirAll(filepath.Join(root, "css"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"index.html":   "<h1>battle</h1>",
		"css/site.css": "body{}",
		"data.bin":     "\x00\x01",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root, parent
}

func TestServeFiles(t *testing.T) {
	root, _ := newPublicDir(t)
	handler := NewRoot(root)

	cases := []struct {
		path        string
		status      int
		contentType string
		body        string
	}{
		{"/", http.StatusOK, "text/html", "<h1>battle</h1>"},
		{"/index.html", http.StatusOK, "text/html", "<h1>battle</h1>"},
		{"/css/site.css", http.StatusOK, "text/css", "body{}"},
		{"/data.bin", http.StatusOK, "application/octet-stream", "\x00\x01"},
		{"/missing.js", http.StatusNotFound, "", ""},
		{"/css", http.StatusNotFound, "", ""},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.path, rec.Code, tc.status)
		}
		if tc.status != http.StatusOK {
			continue
		}
		if got := rec.Header().Get("Content-Type"); got != tc.contentType {
			t.Fatalf("%s: content type = %q, want %q", tc.path, got, tc.contentType)
		}
		if rec.Body.String() != tc.body {
			t.Fatalf("%s: body = %q", tc.path, rec.Body.String())
		}
	}
}

func TestResolveStaysInsideRoot(t *testing.T) {
	root, parent := newPublicDir(t)
	r := NewRoot(root)

	if _, err := r.Resolve("/../secret.txt"); err == nil {
		t.Fatal("dot-dot should be cleaned to a path inside the root")
	}

	link := filepath.Join(root, "escape.txt")
	if err := os.Symlink(filepath.Join(parent, "secret.txt"), link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := r.Resolve("/escape.txt"); err != ErrOutsideRoot {
		t.Fatalf("expected ErrOutsideRoot, got %v", err)
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("app.JS"); got != "application/javascript" {
		t.Fatalf("unexpected type %q", got)
	}
	if got := ContentType("logo.jpeg"); got != "application/octet-stream" {
		t.Fatalf("unexpected type %q", got)
	}
}
