package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/appointment-notifier/internal/config"
	"github.com/tbourn/appointment-notifier/internal/domain"
	"github.com/tbourn/appointment-notifier/internal/http/middleware"
	"github.com/tbourn/appointment-notifier/internal/repo"
	"github.com/tbourn/appointment-notifier/internal/services"
)

// --- tiny fake event processor ---
type fakeEvents struct{ n int }

func (f *fakeEvents) Handle(_ context.Context, _ map[string]any) (services.Outcome, error) {
	f.n++
	return services.OutcomeUpdated, nil
}

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{AllowedOrigins: nil},
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func serve(r *gin.Engine, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t, "routerdb_allowall"), &fakeEvents{}, baseConfig())

	// /health works
	w := serve(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = serve(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	if w = serve(r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	if w = serve(r, http.MethodPost, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger is off unless enabled
	if w = serve(r, http.MethodGet, "/swagger/index.html", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger must be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	RegisterRoutes(r, newTestDB(t, "routerdb_origins"), &fakeEvents{}, cfg)

	w := serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	w = serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://evil.test"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "http://evil.test" {
		t.Fatalf("unlisted origin must not be echoed")
	}
}

func TestRegisterRoutes_HealthUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t, "routerdb_health")
	RegisterRoutes(r, db, &fakeEvents{}, baseConfig())

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	_ = sqlDB.Close()

	w := serve(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("closed DB: expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"unavailable"`) {
		t.Fatalf("expected unavailable code, got %s", w.Body.String())
	}
}

func TestRegisterRoutes_WebhookSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseConfig()
	cfg.WebhookSecret = "s3cr3t"
	ev := &fakeEvents{}
	RegisterRoutes(r, newTestDB(t, "routerdb_secret"), ev, cfg)

	body := `{"resource":"record","status":"update","resource_id":7}`
	if w := serve(r, http.MethodPost, "/api/v1/webhooks/booking", body, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no secret: expected 401, got %d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/api/v1/webhooks/booking", body,
		map[string]string{middleware.HeaderWebhookSecret: "wrong"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: expected 401, got %d", w.Code)
	}
	if ev.n != 0 {
		t.Fatalf("unauthenticated events must not be applied")
	}

	if w := serve(r, http.MethodPost, "/api/v1/webhooks/booking", body,
		map[string]string{middleware.HeaderWebhookSecret: "s3cr3t"}); w.Code != http.StatusOK {
		t.Fatalf("header secret: expected 200, got %d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/api/v1/webhooks/booking?secret=s3cr3t", body, nil); w.Code != http.StatusOK {
		t.Fatalf("query secret: expected 200, got %d", w.Code)
	}
	if ev.n != 2 {
		t.Fatalf("expected 2 applied events, got %d", ev.n)
	}

	// Admin routes share the secret.
	if w := serve(r, http.MethodGet, "/api/v1/reminders", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("admin without secret: expected 401, got %d", w.Code)
	}
}

func TestRegisterRoutes_RateLimitBypassForWebhooks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseConfig()
	cfg.RateRPS = 0
	cfg.RateBurst = 1
	cfg.WebhookSecret = "k"
	RegisterRoutes(r, newTestDB(t, "routerdb_ratelimit"), &fakeEvents{}, cfg)

	auth := map[string]string{middleware.HeaderWebhookSecret: "k"}
	for i := 0; i < 3; i++ {
		if w := serve(r, http.MethodPost, "/api/v1/webhooks/booking", `{"status":"update"}`, auth); w.Code != http.StatusOK {
			t.Fatalf("webhook #%d: expected 200, got %d", i+1, w.Code)
		}
	}

	if w := serve(r, http.MethodGet, "/api/v1/reminders", "", auth); w.Code != http.StatusOK {
		t.Fatalf("first admin call: expected 200, got %d", w.Code)
	}
	w := serve(r, http.MethodGet, "/api/v1/reminders", "", auth)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second admin call: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After: 1")
	}
}

func TestRegisterRoutes_BindingsRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t, "routerdb_bindings"), &fakeEvents{}, baseConfig())

	w := serve(r, http.MethodPut, "/api/v1/bindings", `{"phone":"8 (916) 123-45-67","channel_id":"42"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /bindings = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("admin responses must not be cached")
	}

	w = serve(r, http.MethodGet, "/api/v1/bindings/%2B79161234567", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /bindings = %d %s", w.Code, w.Body.String())
	}
	var b domain.ContactBinding
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatalf("json: %v", err)
	}
	if b.ContactKey != "+79161234567" || b.ChannelID != "42" {
		t.Fatalf("unexpected binding: %+v", b)
	}

	w = serve(r, http.MethodGet, "/api/v1/channels/42/bindings", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"contact_key":"+79161234567"`) {
		t.Fatalf("GET /channels/42/bindings = %d %s", w.Code, w.Body.String())
	}

	if w = serve(r, http.MethodGet, "/api/v1/bindings/89990000000", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unbound phone: expected 404, got %d", w.Code)
	}
	if w = serve(r, http.MethodGet, "/api/v1/appointments/404", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown appointment: expected 404, got %d", w.Code)
	}
}

func TestRegisterRoutes_RemindersGzip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t, "routerdb_gzip"), &fakeEvents{}, baseConfig())

	w := serve(r, http.MethodGet, "/api/v1/reminders", "", map[string]string{"Accept-Encoding": "gzip"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /reminders = %d", w.Code)
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip response, headers=%v", w.Header())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

// Smoke test that a request traverses otel + logging + security headers.
func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	RegisterRoutes(r, newTestDB(t, "routerdb_smoke"), &fakeEvents{}, cfg)

	w := serve(r, http.MethodGet, "/health", "", map[string]string{"X-Forwarded-Proto": "https"})
	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if got := w.Header().Get("Strict-Transport-Security"); !strings.HasPrefix(got, "max-age=3600") {
		t.Fatalf("expected HSTS over forwarded https, got %q", got)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected nosniff")
	}
}
