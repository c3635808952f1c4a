package httpgin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/apperr"
	"github.com/kirinyoku/tix-checkout/internal/metrics"
	redisrepo "github.com/kirinyoku/tix-checkout/internal/repository/redis"
	"github.com/kirinyoku/tix-checkout/internal/service"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type RouterConfig struct {
	// JWTSecret verifies Bearer tokens. Empty trusts the X-User-* headers.
	JWTSecret string
	// ArtifactsDir is served under /artifacts when set.
	ArtifactsDir string
}

func NewRouter(
	svcs *service.Services,
	pubsub *redisrepo.PubSub,
	idem *redisrepo.IdempotencyStore,
	cfg RouterConfig,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS(), MetricsMiddleware())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.ArtifactsDir != "" {
		r.Static("/artifacts", cfg.ArtifactsDir)
	}

	// Public API
	r.GET("/events/:id/availability", handleGetAvailability(svcs))

	// provider callbacks authenticate by token, not by principal
	payments := r.Group("/payments")
	{
		payments.POST("/webhook", handleWebhook(svcs))
		payments.POST("/:reference/simulate", handleSimulatePayment(svcs))
		payments.GET("/:reference/status", handlePaymentStatus(svcs))
	}

	auth := r.Group("/", Authenticate(cfg.JWTSecret))
	{
		auth.POST("/orders", handleCreateOrder(svcs, idem))
		auth.GET("/orders", handleListOrders(svcs))
		auth.GET("/orders/:id", handleGetOrder(svcs))
		auth.POST("/orders/:id/cancel", handleCancelOrder(svcs))
		auth.POST("/orders/:id/resend-email", handleResendEmail(svcs))
		auth.GET("/orders/:id/events", handleOrderEvents(svcs, pubsub))

		auth.GET("/notifications", handleListNotifications(svcs))
		auth.POST("/notifications/:id/read", handleMarkNotificationRead(svcs))
	}

	staff := r.Group("/tickets", Authenticate(cfg.JWTSecret), RequireRole(roleAdmin, roleOrganizer))
	{
		staff.GET("/:number/validate", handleValidateTicket(svcs))
		staff.POST("/:number/check-in", handleCheckIn(svcs))
		staff.POST("/cancel", handleCancelTickets(svcs))
	}

	admin := r.Group("/admin", Authenticate(cfg.JWTSecret), RequireAdmin())
	{
		admin.POST("/events", handleCreateEvent(svcs))
		admin.POST("/events/:id/publish", handlePublishEvent(svcs))
	}

	return r
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// respondErr maps the error kind to a status code. Only the service sentinel
// message reaches the client; the full chain goes to the access log.
func respondErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Conflict, apperr.InvalidState:
		status = http.StatusConflict
	case apperr.Forbidden:
		status = http.StatusForbidden
	case apperr.Authentication:
		status = http.StatusUnauthorized
	case apperr.Validation:
		status = http.StatusBadRequest
	case apperr.Unavailable:
		status = http.StatusBadGateway
	case apperr.RateLimited:
		status = http.StatusTooManyRequests
		c.Header("Retry-After", "60")
	}

	msg := "internal error"
	var ae *apperr.Error
	if status != http.StatusInternalServerError && errors.As(err, &ae) {
		msg = ae.Error()
	}

	_ = c.Error(err)
	c.JSON(status, ErrorResponse{Error: msg})
}
