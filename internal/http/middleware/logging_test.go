package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	r := newTestEngine()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)

	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected generated X-Request-ID")
	}
}

func TestRequestID_PropagatesIncoming(t *testing.T) {
	r := newTestEngine()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	r.ServeHTTP(w, req)

	if rid := w.Header().Get("X-Request-ID"); rid != "abc-123" {
		t.Fatalf("X-Request-ID = %q, want abc-123", rid)
	}
}

func TestIdentity_ExtractsHeaders(t *testing.T) {
	r := newTestEngine()
	r.Use(Identity())

	var uid, loc, role string
	r.GET("/whoami", func(c *gin.Context) {
		uid, loc, role = UserFrom(c), LocationFrom(c), RoleFrom(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-User-ID", " user-1 ")
	req.Header.Set("X-Location-ID", "loc-1")
	req.Header.Set("X-Role", "Manager")
	r.ServeHTTP(w, req)

	if uid != "user-1" || loc != "loc-1" {
		t.Fatalf("identity: uid=%q loc=%q", uid, loc)
	}
	if role != "manager" {
		t.Fatalf("role = %q, want lowercased manager", role)
	}
}

func TestIdentity_AbsentHeadersLeaveEmpty(t *testing.T) {
	r := newTestEngine()
	r.Use(Identity())

	var uid string
	r.GET("/whoami", func(c *gin.Context) {
		uid = UserFrom(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	if uid != "" {
		t.Fatalf("uid = %q, want empty", uid)
	}
}

func TestLogger_AttachesRequestScopedLogger(t *testing.T) {
	r := newTestEngine()
	r.Use(RequestID(), Identity(), Logger())

	var hadLogger bool
	r.GET("/x", func(c *gin.Context) {
		hadLogger = LoggerFrom(c) != nil
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if !hadLogger {
		t.Fatalf("request-scoped logger missing")
	}
}

func TestLoggerFrom_FallbackWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if LoggerFrom(c) == nil {
		t.Fatalf("fallback logger must not be nil")
	}
}

func TestRecovery_PanicsBecomeJSON500(t *testing.T) {
	r := newTestEngine()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct == "" {
		t.Fatalf("missing content type on recovered response")
	}
	if body := w.Body.String(); body == "" {
		t.Fatalf("expected JSON error body")
	}
}

func TestTruncate(t *testing.T) {
	if truncate("short", 10) != "short" {
		t.Fatalf("within limit should be unchanged")
	}
	if got := truncate("0123456789", 4); got != "0123…" {
		t.Fatalf("truncate = %q", got)
	}
	if truncate("anything", 0) != "anything" {
		t.Fatalf("max <= 0 disables truncation")
	}
}
