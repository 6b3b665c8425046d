package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/advisory-platform/advisory-server/internal/models"
	"github.com/advisory-platform/advisory-server/internal/realtime"
	"github.com/advisory-platform/advisory-server/internal/service"
)

// Handler wires the services to HTTP routes
type Handler struct {
	auth          service.AuthService
	ledger        service.LedgerService
	queue         service.QueueService
	notifications service.NotificationService
	hub           *realtime.Hub
	logger        zerolog.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	auth service.AuthService,
	ledger service.LedgerService,
	queue service.QueueService,
	notifications service.NotificationService,
	hub *realtime.Hub,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		auth:          auth,
		ledger:        ledger,
		queue:         queue,
		notifications: notifications,
		hub:           hub,
		logger:        logger,
	}
}

// SetupRoutes registers all routes on the router
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := router.Group("/api/auth")
	{
		auth.POST("/signup", h.SignUp)
		auth.POST("/login", h.Login)
	}

	api := router.Group("/api")
	api.Use(AuthMiddleware())
	{
		api.GET("/credits/balance", h.GetBalance)
		api.GET("/credits/transactions", h.ListTransactions)
		api.POST("/credits/deduct", h.Deduct)
		api.POST("/credits/add", h.AddCredits)

		api.POST("/packages", h.EnqueuePackage)
		api.GET("/packages/active", h.ListActivePackages)
		api.POST("/packages/:id/status", h.TransitionStatus)
		api.DELETE("/packages/report/:reportId/completed", h.PurgeCompleted)

		api.GET("/notifications", h.ListNotifications)
		api.POST("/notifications", h.CreateNotification)
		api.POST("/notifications/read-all", h.MarkAllRead)
		api.POST("/notifications/:id/read", h.MarkRead)
		api.DELETE("/notifications/:id", h.DeleteNotification)
		api.DELETE("/notifications", h.DeleteAllNotifications)

		api.GET("/realtime", h.Realtime)
	}
}

// ownerID returns the authenticated user id from the request context
func ownerID(c *gin.Context) string {
	if id, exists := c.Get("userId"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// writeServiceError maps service failures onto the error envelope
func (h *Handler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotAuthenticated):
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Status:  "error",
			Code:    "NOT_AUTHENTICATED",
			Message: "Authentication required",
		})
	case errors.Is(err, models.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, models.ErrorResponse{
			Status:  "error",
			Code:    "INSUFFICIENT_BALANCE",
			Message: err.Error(),
		})
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Status:  "error",
			Code:    "INVALID_TRANSITION",
			Message: err.Error(),
		})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Status:  "error",
			Code:    "NOT_FOUND",
			Message: "Resource not found",
		})
	default:
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Status:  "error",
			Code:    "STORE_UNAVAILABLE",
			Message: "The service is temporarily unavailable, please retry",
		})
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Status:  "error",
		Code:    "INVALID_REQUEST",
		Message: message,
	})
}

// Auth handlers

func (h *Handler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := h.auth.SignUp(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Status:  "error",
				Code:    "DUPLICATE_EMAIL",
				Message: err.Error(),
			})
			return
		}
		badRequest(c, err.Error())
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Status:  "error",
			Code:    "NOT_AUTHENTICATED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Credit ledger handlers

func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), ownerID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.BalanceResponse{
		Status:             "success",
		OwnerID:            balance.OwnerID,
		GeneralCredits:     balance.GeneralCredits,
		HealthScoreCredits: balance.HealthScoreCredits,
	})
}

func (h *Handler) ListTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "before must be an RFC3339 timestamp")
			return
		}
		before = parsed
	}

	transactions, hasMore, err := h.ledger.ListTransactions(c.Request.Context(), ownerID(c), limit, before)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if transactions == nil {
		transactions = []models.CreditTransaction{}
	}

	c.JSON(http.StatusOK, models.TransactionsResponse{
		Status:       "success",
		Transactions: transactions,
		HasMore:      hasMore,
	})
}

func (h *Handler) Deduct(c *gin.Context) {
	var req models.DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	owner := ownerID(c)
	newBalance, err := h.ledger.Deduct(c.Request.Context(), owner, req)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientBalance) {
			h.writeInsufficientBalance(c, owner, req.Currency, req.Amount)
			return
		}
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.DeductResponse{
		Status:     "success",
		Currency:   req.Currency,
		NewBalance: newBalance,
	})
}

// writeInsufficientBalance names the shortfall in the error message
func (h *Handler) writeInsufficientBalance(c *gin.Context, owner string, currency models.Currency, amount int64) {
	message := "Insufficient credits"
	if balance, err := h.ledger.GetBalance(c.Request.Context(), owner); err == nil {
		current := balance.Amount(currency)
		message = "Insufficient credits: requires " + strconv.FormatInt(amount, 10) +
			", you have " + strconv.FormatInt(current, 10) +
			" (short by " + strconv.FormatInt(amount-current, 10) + ")"
	}
	c.JSON(http.StatusPaymentRequired, models.ErrorResponse{
		Status:  "error",
		Code:    "INSUFFICIENT_BALANCE",
		Message: message,
	})
}

func (h *Handler) AddCredits(c *gin.Context) {
	var req models.AddCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	newBalance, err := h.ledger.Add(c.Request.Context(), ownerID(c), req)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.AddCreditsResponse{
		Status:     "success",
		Currency:   req.Currency,
		NewBalance: newBalance,
	})
}

// Package queue handlers

func (h *Handler) EnqueuePackage(c *gin.Context) {
	var req models.EnqueuePackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	owner := ownerID(c)

	// Deduct first when the package costs credits; a failed deduction
	// aborts the enqueue entirely.
	if req.CostCredits > 0 {
		_, err := h.ledger.Deduct(c.Request.Context(), owner, models.DeductRequest{
			Currency:    models.CurrencyGeneral,
			Amount:      req.CostCredits,
			Description: "Package generation: " + req.PackageName,
			FeatureType: "package_generation",
		})
		if err != nil {
			if errors.Is(err, models.ErrInsufficientBalance) {
				h.writeInsufficientBalance(c, owner, models.CurrencyGeneral, req.CostCredits)
				return
			}
			h.writeServiceError(c, err)
			return
		}
	}

	entry, err := h.queue.Enqueue(c.Request.Context(), owner, req)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.EnqueueResponse{
		Status: "success",
		Entry:  *entry,
	})
}

func (h *Handler) ListActivePackages(c *gin.Context) {
	entries, err := h.queue.ListActive(c.Request.Context(), ownerID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if entries == nil {
		entries = []models.ActiveQueueEntry{}
	}

	c.JSON(http.StatusOK, models.ActiveQueueResponse{
		Status:  "success",
		Entries: entries,
	})
}

func (h *Handler) TransitionStatus(c *gin.Context) {
	var req models.TransitionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	entry, err := h.queue.TransitionStatus(c.Request.Context(), ownerID(c), c.Param("id"), req.Status)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) && entry != nil {
			// Include the authoritative status so the caller can re-sync
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Status:  "error",
				Code:    "INVALID_TRANSITION",
				Message: "Entry is already " + string(entry.Status) + ", cannot move to " + string(req.Status),
			})
			return
		}
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.TransitionResponse{
		Status: "success",
		Entry:  *entry,
	})
}

func (h *Handler) PurgeCompleted(c *gin.Context) {
	purged, err := h.queue.PurgeCompleted(c.Request.Context(), ownerID(c), c.Param("reportId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.PurgeResponse{
		Status: "success",
		Purged: purged,
	})
}

// Notification handlers

func (h *Handler) ListNotifications(c *gin.Context) {
	notifications, unread, err := h.notifications.List(c.Request.Context(), ownerID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}

	c.JSON(http.StatusOK, models.NotificationsResponse{
		Status:        "success",
		Notifications: notifications,
		UnreadCount:   unread,
	})
}

func (h *Handler) CreateNotification(c *gin.Context) {
	var req models.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	n, err := h.notifications.Notify(c.Request.Context(), ownerID(c), req.Title, req.Message, req.Kind)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.NotificationResponse{
		Status:       "success",
		Notification: n,
	})
}

func (h *Handler) MarkRead(c *gin.Context) {
	n, err := h.notifications.MarkRead(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.NotificationResponse{
		Status:       "success",
		Notification: n,
	})
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	if _, err := h.notifications.MarkAllRead(c.Request.Context(), ownerID(c)); err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) DeleteNotification(c *gin.Context) {
	if err := h.notifications.Delete(c.Request.Context(), ownerID(c), c.Param("id")); err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) DeleteAllNotifications(c *gin.Context) {
	if _, err := h.notifications.DeleteAll(c.Request.Context(), ownerID(c)); err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Realtime upgrades to a WebSocket streaming the caller's change events.
// An optional tables query parameter narrows the feed, e.g.
// ?tables=notifications,package_queue.
func (h *Handler) Realtime(c *gin.Context) {
	var tables []string
	if raw := c.Query("tables"); raw != "" {
		tables = strings.Split(raw, ",")
	}

	if err := realtime.ServeWS(h.hub, h.logger, c.Writer, c.Request, ownerID(c), tables...); err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
	}
}
