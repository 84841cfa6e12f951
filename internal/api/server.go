// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/GFrasson/personal-drive/internal/auth"
	"github.com/GFrasson/personal-drive/internal/config"
	"github.com/GFrasson/personal-drive/internal/logging"
	"github.com/GFrasson/personal-drive/internal/metrics"
	"github.com/GFrasson/personal-drive/internal/storage"
	"github.com/GFrasson/personal-drive/webapp"
)

// Server is the HTTP server.
type Server struct {
	store *storage.Store
	auth  *auth.Auth
	cfg   *config.Config
}

// NewServer creates a new server.
func NewServer(store *storage.Store, authGate *auth.Auth, cfg *config.Config) *Server {
	return &Server{
		store: store,
		auth:  authGate,
		cfg:   cfg,
	}
}

// Handler returns the HTTP handler with auth, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/login", s.auth.HandleLogin)

	// Static assets (public, like the login page they style)
	assetsFS, _ := fs.Sub(webapp.Assets, ".")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(assetsFS))))

	// Pages
	mux.Handle("GET /{$}", s.auth.PageMiddleware(s.servePage("index.html")))
	mux.Handle("GET /login", s.auth.LoginPageMiddleware(s.servePage("login.html")))

	// Protected API endpoints. The login route above is more specific and
	// keeps matching without passing through the gate.
	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/files", s.handleList)
	protected.HandleFunc("GET /api/files/{path...}", s.handleList)
	protected.HandleFunc("POST /api/files", s.handleUploadOrMkdir)
	protected.HandleFunc("POST /api/files/{path...}", s.handleUploadOrMkdir)
	protected.HandleFunc("DELETE /api/files", s.handleDelete)
	protected.HandleFunc("DELETE /api/files/{path...}", s.handleDelete)
	protected.HandleFunc("GET /api/download/{path...}", s.handleDownload)
	protected.HandleFunc("POST /api/logout", s.auth.HandleLogout)
	mux.Handle("/api/", s.auth.Middleware(protected))

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ─── Pages ──────────────────────────────────────────────────────────────────

func (s *Server) servePage(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := webapp.Assets.ReadFile(name)
		if err != nil {
			logging.Error("missing embedded page", zap.String("page", name), zap.Error(err))
			http.Error(w, "page not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(data)
	})
}

// ─── Listing ────────────────────────────────────────────────────────────────

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r)

	entries, err := s.store.List(r.Context(), segments)
	if err != nil {
		s.sendStorageError(w, r, err, "failed to list files")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// ─── Upload / folder creation ───────────────────────────────────────────────

func (s *Server) handleUploadOrMkdir(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r)

	if r.ContentLength > s.cfg.MaxUploadSize {
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload too large: max %d bytes", s.cfg.MaxUploadSize))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload too large: max %d bytes", s.cfg.MaxUploadSize))
			return
		}
		s.sendError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	if name := r.FormValue("newFolderName"); name != "" {
		if err := s.store.CreateFolder(r.Context(), segments, name); err != nil {
			s.sendStorageError(w, r, err, "failed to create folder")
			return
		}
		s.sendOperation(w, "Folder created successfully.")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.sendError(w, http.StatusBadRequest, "no files provided")
		return
	}

	for _, fh := range files {
		part, err := fh.Open()
		if err != nil {
			metrics.RecordFileUpload(0, false)
			s.sendStorageError(w, r, err, "failed to read upload")
			return
		}
		n, err := s.store.SaveFile(r.Context(), segments, fh.Filename, part)
		part.Close()
		if err != nil {
			metrics.RecordFileUpload(0, false)
			s.sendStorageError(w, r, err, "failed to save file")
			return
		}
		metrics.RecordFileUpload(n, true)
		logging.Info("file uploaded",
			zap.String("name", fh.Filename),
			zap.Int64("bytes", n))
	}

	s.sendOperation(w, "Files uploaded successfully.")
}

// ─── Delete ─────────────────────────────────────────────────────────────────

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r)

	var req struct {
		Name        string `json:"name"`
		IsDirectory bool   `json:"isDirectory"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.store.Delete(r.Context(), segments, req.Name, req.IsDirectory); err != nil {
		s.sendStorageError(w, r, err, "failed to delete item")
		return
	}

	s.sendOperation(w, "Item deleted successfully.")
}

// ─── Download ───────────────────────────────────────────────────────────────

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r)
	if len(segments) == 0 {
		s.sendError(w, http.StatusBadRequest, "file path required")
		return
	}

	reader, info, err := s.store.OpenFile(r.Context(), segments)
	if err != nil {
		metrics.RecordFileDownload(0, false)
		if errors.Is(err, storage.ErrIsDirectory) {
			s.sendError(w, http.StatusBadRequest, "path is a directory")
			return
		}
		s.sendStorageError(w, r, err, "failed to download file")
		return
	}
	defer reader.Close()

	ct := mime.TypeByExtension(filepath.Ext(info.Name()))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", `attachment; filename="`+info.Name()+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))

	// Stream lazily so large files never sit in memory.
	n, err := io.Copy(w, reader)
	if err != nil {
		logging.Warn("download transfer error",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	metrics.RecordFileDownload(n, err == nil)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// pathSegments splits the wildcard path value into non-empty segments. An
// empty list addresses the storage root itself.
func pathSegments(r *http.Request) []string {
	p := r.PathValue("path")
	if p == "" {
		return nil
	}
	var segments []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type operationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) sendOperation(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(operationResponse{Success: true, Message: message})
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}

// sendStorageError maps a storage failure to a response. Traversal attempts
// are client errors; everything else is logged in full and reported to the
// client with the generic message only.
func (s *Server) sendStorageError(w http.ResponseWriter, r *http.Request, err error, generic string) {
	if errors.Is(err, storage.ErrPathTraversal) {
		metrics.RecordPathTraversalRejection()
		logging.Warn("path traversal rejected",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		s.sendError(w, http.StatusBadRequest, "invalid path")
		return
	}
	logging.WithContext(r.Context()).Error(generic,
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	s.sendError(w, http.StatusInternalServerError, generic)
}
