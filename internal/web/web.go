// Package web serves the installable browser client: the page, the UI
// controller script and the offline cache worker.
package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"text/template"
)

const (
	workerPath   = "/sw.js"
	manifestPath = "/manifest.json"
	cachePrefix  = "jdownloader-remote-"
)

//go:embed public
var publicFS embed.FS

// APIPaths are the request paths the offline worker always sends to the
// network first.
var APIPaths = []string{"/add", "/downloads", "/devices", "/packages", "/history"}

type workerData struct {
	CacheName string
	Precache  []string
	APIPaths  []string
}

// Handler serves the embedded bundle. The worker script is rendered once at
// construction with the cache name for the configured asset version.
type Handler struct {
	files     http.Handler
	worker    []byte
	cacheName string
	precache  []string
}

func NewHandler(assetVersion string) (*Handler, error) {
	assetVersion = strings.TrimSpace(assetVersion)
	if assetVersion == "" {
		return nil, errors.New("asset version must not be empty")
	}

	root, err := fs.Sub(publicFS, "public")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded assets: %w", err)
	}

	precache, err := precacheList(root)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		files:     http.FileServer(http.FS(root)),
		cacheName: cachePrefix + assetVersion,
		precache:  precache,
	}

	h.worker, err = renderWorker(root, workerData{
		CacheName: h.cacheName,
		Precache:  precache,
		APIPaths:  APIPaths,
	})
	if err != nil {
		return nil, err
	}

	return h, nil
}

// CacheName is the name of the single live cache generation.
func (h *Handler) CacheName() string {
	return h.cacheName
}

// Precache returns the request paths the worker stores on install.
func (h *Handler) Precache() []string {
	return append([]string(nil), h.precache...)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	switch r.URL.Path {
	case workerPath:
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if r.Method == http.MethodGet {
			_, _ = w.Write(h.worker)
		}
		return
	case manifestPath:
		w.Header().Set("Content-Type", "application/manifest+json")
	}

	h.files.ServeHTTP(w, r)
}

// precacheList walks the bundle and returns the paths the page is reachable
// under. index.html is served as "/" and the worker never caches itself.
func precacheList(root fs.FS) ([]string, error) {
	paths := []string{"/"}

	err := fs.WalkDir(root, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		switch "/" + p {
		case "/index.html", workerPath:
			return nil
		}

		paths = append(paths, path.Join("/", p))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list embedded assets: %w", err)
	}

	return paths, nil
}

func renderWorker(root fs.FS, data workerData) ([]byte, error) {
	src, err := fs.ReadFile(root, strings.TrimPrefix(workerPath, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to read worker script: %w", err)
	}

	tmpl, err := template.New("sw.js").Funcs(template.FuncMap{"json": toJSON}).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse worker script: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render worker script: %w", err)
	}

	return buf.Bytes(), nil
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(b), nil
}
