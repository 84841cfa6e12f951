// End-to-end tests for the HTTP API: login flow, session gating, listing,
// upload, folder creation, delete and download against a real temp-dir store.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GFrasson/personal-drive/internal/auth"
	"github.com/GFrasson/personal-drive/internal/config"
	"github.com/GFrasson/personal-drive/internal/storage"
)

type testEnv struct {
	server *httptest.Server
	store  *storage.Store
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		StorageRoot:   filepath.Join(t.TempDir(), "drive"),
		AdminUser:     "admin",
		AdminPassword: "hunter2",
		SessionSecret: "test-secret",
		SessionTTL:    time.Hour,
		MaxUploadSize: 10 << 20,
	}

	store, err := storage.New(cfg.StorageRoot)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}

	srv := NewServer(store, auth.New(cfg), cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: store, cfg: cfg}
}

// client returns an HTTP client with a cookie jar that does not follow
// redirects, so gate behavior stays observable.
func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (e *testEnv) login(t *testing.T) *http.Client {
	t.Helper()
	client := e.client(t)
	resp, err := client.Post(e.server.URL+"/api/login", "application/json",
		strings.NewReader(`{"username":"admin","password":"hunter2"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	return client
}

func multipartFiles(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func multipartFolder(t *testing.T, name string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("newFolderName", name); err != nil {
		t.Fatal(err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func listEntries(t *testing.T, client *http.Client, url string) []storage.Entry {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	var entries []storage.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	return entries
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.client(t).Get(env.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestUnauthenticatedAPIRejected(t *testing.T) {
	env := newTestEnv(t)
	client := env.client(t)

	for _, req := range []struct {
		method, path string
	}{
		{"GET", "/api/files"},
		{"GET", "/api/files/docs"},
		{"POST", "/api/files"},
		{"DELETE", "/api/files"},
		{"GET", "/api/download/report.pdf"},
		{"POST", "/api/logout"},
	} {
		r, err := http.NewRequest(req.method, env.server.URL+req.path, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := client.Do(r)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", req.method, req.path, resp.StatusCode)
		}
	}
}

func TestUnauthenticatedPageRedirects(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.client(t).Get(env.server.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/login" {
		t.Errorf("redirect to %q, want /login", loc)
	}
}

func TestAuthenticatedLoginPageRedirectsHome(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t)

	resp, err := client.Get(env.server.URL + "/login")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("redirect to %q, want /", loc)
	}
}

func TestLoginPageServedWhenUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.client(t).Get(env.server.URL + "/login")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "login-form") {
		t.Error("login page content not served")
	}
}

func TestFileLifecycle(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t)

	// Upload into a subdirectory.
	body, contentType := multipartFiles(t, map[string]string{"report.pdf": "pdf bytes"})
	resp, err := client.Post(env.server.URL+"/api/files/docs", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d, want 200", resp.StatusCode)
	}

	// Listing shows the uploaded file with its real size.
	entries := listEntries(t, client, env.server.URL+"/api/files/docs")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Name != "report.pdf" || e.IsDirectory || e.Size != int64(len("pdf bytes")) {
		t.Fatalf("unexpected entry %+v", e)
	}

	// Download streams the exact bytes with attachment headers.
	resp, err = client.Get(env.server.URL + "/api/download/docs/report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d, want 200", resp.StatusCode)
	}
	if string(data) != "pdf bytes" {
		t.Errorf("downloaded %q, want %q", data, "pdf bytes")
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, "report.pdf") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if cl := resp.Header.Get("Content-Length"); cl != fmt.Sprint(len("pdf bytes")) {
		t.Errorf("Content-Length = %q", cl)
	}

	// Delete, then the listing no longer contains it.
	delReq, _ := http.NewRequest("DELETE", env.server.URL+"/api/files/docs",
		strings.NewReader(`{"name":"report.pdf","isDirectory":false}`))
	resp, err = client.Do(delReq)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}
	if entries := listEntries(t, client, env.server.URL+"/api/files/docs"); len(entries) != 0 {
		t.Errorf("expected empty listing after delete, got %d entries", len(entries))
	}
}

func TestUploadMultipleFiles(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t)

	body, contentType := multipartFiles(t, map[string]string{
		"a.txt": "aaa",
		"b.txt": "bbbb",
	})
	resp, err := client.Post(env.server.URL+"/api/files", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d, want 200", resp.StatusCode)
	}

	entries := listEntries(t, client, env.server.URL+"/api/files")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestCreateFolderAndSortOrder(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t)

	body, contentType := multipartFiles(t, map[string]string{"b.txt": "x"})
	resp, err := client.Post(env.server.URL+"/api/files", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	body, contentType = multipartFolder(t, "A")
	resp, err = client.Post(env.server.URL+"/api/files", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	var op struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	json.NewDecoder(resp.Body).Decode(&op)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !op.Success {
		t.Fatalf("mkdir status = %d, success = %v", resp.StatusCode, op.Success)
	}

	entries := listEntries(t, client, env.server.URL+"/api/files")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Name != "A" || !entries[0].IsDirectory {
		t.Errorf("expected folder A first, got %+v", entries[0])
	}
	if entries[1].Name != "b.txt" {
		t.Errorf("expected b.txt second, got %+v", entries[1])
	}
}

func TestUploadWithoutFilesOrFolder(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.Close()

	resp, err := client.Post(env.server.URL+"/api/files", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.MaxUploadSize = 64
	client := env.login(t)

	body, contentType := multipartFiles(t, map[string]string{
		"big.bin": strings.Repeat("x", 4096),
	})
	resp, err := client.Post(env.server.URL+"/api/files", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestDeleteMissingFileFails(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t)

	req, _ := http.NewRequest("DELETE", env.server.URL+"/api/files",
		strings.NewReader(`{"name":"ghost.txt","isDirectory":false}`))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestDeleteRequiresName(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t)

	req, _ := http.NewRequest("DELETE", env.server.URL+"/api/files",
		strings.NewReader(`{"isDirectory":false}`))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteFolderRecursive(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t)

	body, contentType := multipartFiles(t, map[string]string{"nested.txt": "x"})
	resp, err := client.Post(env.server.URL+"/api/files/old", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	req, _ := http.NewRequest("DELETE", env.server.URL+"/api/files",
		strings.NewReader(`{"name":"old","isDirectory":true}`))
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if _, err := os.Stat(filepath.Join(env.store.Root(), "old")); !os.IsNotExist(err) {
		t.Errorf("folder still exists: %v", err)
	}
}

func TestTraversalNamesRejected(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t)

	// Escape attempt via the upload filename. The multipart parser already
	// reduces the filename to its base, so the file lands inside the root.
	body, contentType := multipartFiles(t, map[string]string{"../escape.txt": "x"})
	resp, err := client.Post(env.server.URL+"/api/files", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("upload status = %d, want 200", resp.StatusCode)
	}
	if _, err := os.Stat(filepath.Join(env.store.Root(), "escape.txt")); err != nil {
		t.Errorf("sanitized upload not stored in root: %v", err)
	}

	// Escape attempt via the folder name.
	body, contentType = multipartFolder(t, "../evil")
	resp, err = client.Post(env.server.URL+"/api/files", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("mkdir traversal status = %d, want 400", resp.StatusCode)
	}

	// Escape attempt via the delete name.
	req, _ := http.NewRequest("DELETE", env.server.URL+"/api/files",
		strings.NewReader(`{"name":"../../passwd","isDirectory":false}`))
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("delete traversal status = %d, want 400", resp.StatusCode)
	}

	// Nothing escaped the root.
	parent := filepath.Dir(env.store.Root())
	for _, name := range []string{"escape.txt", "evil"} {
		if _, err := os.Stat(filepath.Join(parent, name)); !os.IsNotExist(err) {
			t.Errorf("%s escaped the storage root: %v", name, err)
		}
	}
}

func TestDownloadDirectoryRejected(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t)

	body, contentType := multipartFolder(t, "docs")
	resp, err := client.Post(env.server.URL+"/api/files", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = client.Get(env.server.URL + "/api/download/docs")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDownloadMissingFile(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t)

	resp, err := client.Get(env.server.URL + "/api/download/nope.txt")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	env := newTestEnv(t)
	client := env.login(t)

	resp, err := client.Post(env.server.URL+"/api/logout", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d, want 200", resp.StatusCode)
	}

	// The jar honored the clearing cookie, so the next call is gated.
	resp, err = client.Get(env.server.URL + "/api/files")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status after logout = %d, want 401", resp.StatusCode)
	}
}
