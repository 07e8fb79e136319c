package viewer

import (
	"net/http"
	"os"
	"path/filepath"
)

// assetHandler serves client files, preferring a fresh build over the
// checked-in assets.
type assetHandler struct {
	dirs []string
}

func newAssetHandler(buildDir, assetsDir string) *assetHandler {
	h := &assetHandler{}
	for _, dir := range []string{buildDir, assetsDir} {
		if dir != "" {
			h.dirs = append(h.dirs, dir)
		}
	}
	return h
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(r.URL.Path)
	if filename == "." || filename == "/" {
		http.NotFound(w, r)
		return
	}
	for _, dir := range h.dirs {
		path := filepath.Join(dir, filename)
		if fileExists(path) {
			http.ServeFile(w, r, path)
			return
		}
	}
	http.NotFound(w, r)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
