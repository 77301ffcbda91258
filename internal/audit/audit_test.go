package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type memRecorder struct {
	mu     sync.Mutex
	events []map[string]any
}

func (m *memRecorder) Record(ctx context.Context, action, level string, details map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	details["action"] = action
	details["level"] = level
	m.events = append(m.events, details)
}

func TestClient_RecordLogsInOnce(t *testing.T) {
	var mu sync.Mutex
	logins, logs := 0, 0
	var lastAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/auth/login":
			logins++
			_ = json.NewEncoder(w).Encode(map[string]string{
				"token":      "tok-1",
				"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			})
		case "/api/v1/logs":
			logs++
			lastAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "key", "", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	c.Record(context.Background(), "transaction_settled", LevelInfo, map[string]any{"id": "t1"})
	c.Record(context.Background(), "transaction_settled", LevelInfo, map[string]any{"id": "t2"})

	mu.Lock()
	defer mu.Unlock()
	if logins != 1 || logs != 2 {
		t.Fatalf("logins=%d logs=%d want=1,2", logins, logs)
	}
	if lastAuth != "Bearer tok-1" {
		t.Fatalf("auth=%q", lastAuth)
	}
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient("", "key", "", nil); err == nil {
		t.Fatalf("expected error for empty base url")
	}
	if _, err := NewClient("http://x", " ", "", nil); err == nil {
		t.Fatalf("expected error for empty api key")
	}
}

func newEngine(r Recorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(RequireUserMiddleware(), InjectRecorderMiddleware(r), WriteAuditMiddleware(r))
	e.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	e.GET("/api/v1/ping", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	e.POST("/api/v1/things", func(c *gin.Context) {
		RecordCtx(c.Request.Context(), "thing_created", LevelInfo, map[string]any{})
		c.Status(http.StatusCreated)
	})
	return e
}

func TestRequireUserMiddleware(t *testing.T) {
	e := newEngine(nil)

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want=401", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set(HeaderUserID, "u1")
	e.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "u1" {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", w.Code)
	}
}

func TestWriteAuditMiddleware_RecordsWritesOnly(t *testing.T) {
	rec := &memRecorder{}
	e := newEngine(rec)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set(HeaderUserID, "u1")
	e.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/things", nil)
	req.Header.Set(HeaderUserID, "u1")
	e.ServeHTTP(httptest.NewRecorder(), req)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 2 {
		t.Fatalf("events=%d want=2", len(rec.events))
	}
	if rec.events[0]["action"] != "thing_created" {
		t.Fatalf("first=%v", rec.events[0])
	}
	last := rec.events[1]
	if last["action"] != "http_write" || last["status"] != http.StatusCreated || last["user_id"] != "u1" {
		t.Fatalf("audit=%v", last)
	}
}
