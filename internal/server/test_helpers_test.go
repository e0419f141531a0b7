package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/auth"
	"github.com/MarcoPoloResearchLab/marginalia/internal/database"
	"github.com/MarcoPoloResearchLab/marginalia/internal/records"
	"github.com/MarcoPoloResearchLab/marginalia/internal/versioning"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "router-secret"
	testIssuer        = "marginalia"
	testCookieName    = "marginalia_session"
	testSubject       = "reviewer-1"
)

type routerHarness struct {
	handler  http.Handler
	service  *versioning.Service
	realtime *RealtimeDispatcher
	registry *prometheus.Registry
	token    string
}

type harnessOption func(*Dependencies)

func withLogger(logger *zap.Logger) harnessOption {
	return func(deps *Dependencies) { deps.Logger = logger }
}

func withHeartbeat(interval time.Duration) harnessOption {
	return func(deps *Dependencies) { deps.HeartbeatInterval = interval }
}

func newRouterHarness(t *testing.T, options ...harnessOption) *routerHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := records.NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	registry := prometheus.NewRegistry()
	realtime := NewRealtimeDispatcher()
	service, err := versioning.NewService(versioning.ServiceConfig{
		Store:      store,
		IDProvider: versioning.NewUUIDProvider(),
		Events:     realtime,
		Metrics:    versioning.NewMetrics(registry),
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	token, _, err := issuer.Issue(auth.Principal{Subject: testSubject})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	deps := Dependencies{
		Service:  service,
		Sessions: validator,
		Realtime: realtime,
		Gatherer: registry,
	}
	for _, option := range options {
		option(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &routerHarness{
		handler:  handler,
		service:  service,
		realtime: realtime,
		registry: registry,
		token:    token,
	}
}

// do sends an authenticated request; body is JSON-encoded when non-nil.
func (h *routerHarness) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Authorization", "Bearer "+h.token)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func (h *routerHarness) createDocument(t *testing.T) records.Document {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/documents", map[string]any{
		"name":       "brief.pdf",
		"file_hash":  "sha256:feed",
		"page_count": 4,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create document: status %d body %s", recorder.Code, recorder.Body.String())
	}
	var document records.Document
	decode(t, recorder, &document)
	return document
}

func (h *routerHarness) addAnnotation(t *testing.T, documentID string, x float64) records.Annotation {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/documents/"+documentID+"/annotations", map[string]any{
		"type":        "highlight",
		"page_number": 1,
		"x":           x,
		"y":           20,
		"width":       100,
		"height":      12,
		"content":     "check this clause",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("add annotation: status %d body %s", recorder.Code, recorder.Body.String())
	}
	var annotation records.Annotation
	decode(t, recorder, &annotation)
	return annotation
}

func (h *routerHarness) commit(t *testing.T, documentID, message string) versioning.CommitResult {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/documents/"+documentID+"/versions", map[string]any{"message": message})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("commit: status %d body %s", recorder.Code, recorder.Body.String())
	}
	var result versioning.CommitResult
	decode(t, recorder, &result)
	return result
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode %q: %v", recorder.Body.String(), err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func requireError(t *testing.T, recorder *httptest.ResponseRecorder, status int, kind, code string) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d body %s", status, recorder.Code, recorder.Body.String())
	}
	var body errorBody
	decode(t, recorder, &body)
	if body.Error != kind {
		t.Fatalf("expected error kind %q, got %q", kind, body.Error)
	}
	if code != "" && body.Code != code {
		t.Fatalf("expected error code %q, got %q", code, body.Code)
	}
}
