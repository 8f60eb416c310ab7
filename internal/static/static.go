// Package static serves the browser client from a directory on disk.
package static

import (
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrOutsideRoot = errors.New("path must be inside the public directory")

var contentTypes = map[string]string{
	"html": "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"json": "application/json",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"svg":  "image/svg+xml",
}

type Root struct {
	dir string
}

func NewRoot(dir string) *Root {
	return &Root{dir: filepath.Clean(dir)}
}

func (r *Root) Dir() string {
	return r.dir
}

// Resolve maps a URL path to a file under the root. "/" maps to index.html.
// Symlinks are followed and must stay inside the root.
func (r *Root) Resolve(urlPath string) (string, error) {
	clean := path.Clean("/" + urlPath)
	if clean == "/" {
		clean = "/index.html"
	}
	rootReal, err := filepath.EvalSymlinks(r.dir)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(filepath.Join(r.dir, filepath.FromSlash(clean)))
	if err != nil {
		return "", err
	}
	if real != rootReal && !strings.HasPrefix(real, rootReal+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return real, nil
}

// ContentType picks the response type from the extension. Unknown types are
// served as application/octet-stream.
func ContentType(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

func (r *Root) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		http.NotFound(w, req)
		return
	}
	file, err := r.Resolve(req.URL.Path)
	if err != nil {
		http.NotFound(w, req)
		return
	}
	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		http.NotFound(w, req)
		return
	}
	data, err := os.ReadFile(file)
	if err != nil {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", ContentType(file))
	w.WriteHeader(http.StatusOK)
	if req.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}
