package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/auth"
	"github.com/MarcoPoloResearchLab/marginalia/internal/pdfintake"
	"github.com/MarcoPoloResearchLab/marginalia/internal/versioning"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	subjectContextKey        = "marginalia_subject"
	accessTokenQueryKey      = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
	retryAfterSeconds        = "1"
)

var (
	errMissingService  = errors.New("versioning service dependency required")
	errMissingSessions = errors.New("session validator dependency required")
	errMissingRealtime = errors.New("realtime dispatcher dependency required")
)

// SessionValidator authenticates incoming requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

type Dependencies struct {
	Service           *versioning.Service
	Sessions          SessionValidator
	Realtime          *RealtimeDispatcher
	Inspector         *pdfintake.Inspector
	Gatherer          prometheus.Gatherer
	Logger            *zap.Logger
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Service == nil {
		return nil, errMissingService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	inspector := deps.Inspector
	if inspector == nil {
		inspector = pdfintake.NewInspector(logger)
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		service:   deps.Service,
		sessions:  deps.Sessions,
		realtime:  deps.Realtime,
		inspector: inspector,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/documents", handler.handleCreateDocument)
	protected.GET("/documents", handler.handleListDocuments)
	protected.GET("/documents/:id", handler.handleGetDocument)
	protected.PATCH("/documents/:id", handler.handleRenameDocument)
	protected.DELETE("/documents/:id", handler.handleDeleteDocument)
	protected.GET("/documents/:id/versions", handler.handleListVersions)
	protected.POST("/documents/:id/versions", handler.handleCommit)
	protected.GET("/documents/:id/events", handler.handleEventStream)
	protected.POST("/documents/:id/annotations", handler.handleAddAnnotation)
	protected.POST("/documents/:id/text-edits", handler.handleAddTextEdit)

	protected.PATCH("/annotations/:id", handler.handleUpdateAnnotation)
	protected.DELETE("/annotations/:id", handler.handleDeleteAnnotation)
	protected.PATCH("/text-edits/:id", handler.handleUpdateTextEdit)
	protected.DELETE("/text-edits/:id", handler.handleDeleteTextEdit)

	protected.GET("/versions/:id", handler.handleGetVersion)
	protected.GET("/versions/:id/annotations", handler.handleListAnnotations)
	protected.GET("/versions/:id/text-edits", handler.handleListTextEdits)
	protected.GET("/versions/:id/edits", handler.handleListEdits)

	protected.GET("/diff", handler.handleDiff)

	return router, nil
}

type httpHandler struct {
	service   *versioning.Service
	sessions  SessionValidator
	realtime  *RealtimeDispatcher
	inspector *pdfintake.Inspector
	logger    *zap.Logger
	heartbeat time.Duration
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if errors.Is(err, auth.ErrMissingSessionToken) {
		if token := strings.TrimSpace(c.Query(accessTokenQueryKey)); token != "" {
			claims, err = h.sessions.ValidateToken(token)
		}
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, claims.Subject)
	c.Next()
}

// respondError maps a versioning error onto its HTTP status and stable code.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := versioning.Kind(err)
	status := statusForKind(kind)
	body := gin.H{"error": kind}
	var serviceErr *versioning.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	if versioning.Retryable(err) {
		c.Header("Retry-After", retryAfterSeconds)
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("subject", c.GetString(subjectContextKey)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func statusForKind(kind string) int {
	switch kind {
	case "not_found":
		return http.StatusNotFound
	case "validation":
		return http.StatusUnprocessableEntity
	case "invariant_violation":
		return http.StatusConflict
	case "storage":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondInvalidRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
}
