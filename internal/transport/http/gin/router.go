// Package httpgin exposes the table-session and order-lifecycle API over
// gin: QR provisioning, diner session resolution, order admission and
// status transitions, the kitchen display listing, checkout, and the
// payment webhook.
package httpgin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/evroni/qrtab/internal/domain"
	redisrepo "github.com/evroni/qrtab/internal/repository/redis"
	"github.com/evroni/qrtab/internal/service"
	"github.com/evroni/qrtab/internal/service/admission"
	"github.com/evroni/qrtab/internal/service/lifecycle"
	"github.com/evroni/qrtab/internal/service/reconcile"
	"github.com/evroni/qrtab/internal/service/session"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Guest API
	r.GET("/session", handleResolveSession(svcs))
	r.POST("/orders", handlePlaceOrder(svcs, idem))
	r.GET("/orders/:id", handleGetOrder(svcs))
	r.POST("/orders/:id/checkout", handleCreateCheckout(svcs))

	// Staff API
	// TODO: add staff auth middleware
	r.POST("/tables", handleCreateTable(svcs))
	r.POST("/tables/:id/qr", handleReissueQR(svcs))
	r.POST("/orders/:id/status", handleAdvanceOrder(svcs))
	r.GET("/branches/:id/orders", handleListBranchOrders(svcs))

	// Payment provider callback
	r.POST("/webhooks/stripe", handleStripeWebhook(svcs))

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Create table
// @Param    req body  CreateTableRequest true "payload"
// @Success  201 {object} CreateTableResponse
// @Failure  409 {object} ErrorResponse "table number taken"
// @Router   /tables [post]
func handleCreateTable(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateTableRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		branchID, err := uuid.Parse(req.BranchID)
		if err != nil {
			badRequest(c, "invalid branch_id")
			return
		}

		t, err := svcs.Session.CreateTable(c.Request.Context(), branchID, req.Number, req.Area)
		if err != nil {
			respondErr(c, err)
			return
		}
		issued, err := svcs.Session.IssueTableToken(c.Request.Context(), t.ID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, CreateTableResponse{
			TableID:   t.ID.String(),
			Number:    t.Number,
			Area:      t.Area,
			QRVersion: issued.Version,
			Token:     issued.Token,
			MenuURL:   issued.MenuURL,
		})
	}
}

// @Summary  Re-issue table QR (revokes prior prints)
// @Param    id  path  string  true  "Table ID (uuid)"
// @Success  200 {object} QRResponse
// @Failure  404 {object} ErrorResponse
// @Router   /tables/{id}/qr [post]
func handleReissueQR(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		tableID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		issued, err := svcs.Session.ReissueQR(c.Request.Context(), tableID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, QRResponse{
			TableID:   tableID.String(),
			Token:     issued.Token,
			MenuURL:   issued.MenuURL,
			QRVersion: issued.Version,
		})
	}
}

// @Summary  Resolve scanned QR token
// @Param    t  query  string  true  "session token"
// @Success  200 {object} SessionResponse
// @Failure  401 {object} ErrorResponse "invalid token"
// @Failure  410 {object} ErrorResponse "revoked QR"
// @Router   /session [get]
func handleResolveSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("t")
		if token == "" {
			badRequest(c, "missing token")
			return
		}
		tc, claims, err := svcs.Session.ResolveToken(c.Request.Context(), token)
		if err != nil {
			respondErr(c, err)
			return
		}
		resp := SessionResponse{
			VenueID:     tc.VenueID.String(),
			VenueName:   tc.VenueName,
			BranchID:    tc.BranchID.String(),
			TableID:     tc.ID.String(),
			TableNumber: tc.Number,
			Area:        tc.Area,
			QRVersion:   claims.Version,
		}
		// ETag + Cache-Control 30s
		writeJSONWithCache(c, http.StatusOK, resp, "public, max-age=30", true)
	}
}

// @Summary  Place or merge an order (idempotent)
// @Param    req body  PlaceOrderRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} domain.Order
// @Failure  401 {object} ErrorResponse "invalid token"
// @Failure  409 {object} ErrorResponse "idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /orders [post]
func handlePlaceOrder(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PlaceOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		tc, _, err := svcs.Session.ResolveToken(c.Request.Context(), req.Token)
		if err != nil {
			respondErr(c, err)
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemOrder(tc.BranchID, tc.ID, idemKey)

			if payload, ok, _ := idem.GetResult(
				c.Request.Context(),
				idemStorageKey,
			); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(
					http.StatusCreated,
					"application/json; charset=utf-8",
					[]byte(payload),
				)
				return
			}

			locked, err := idem.AcquireLock(
				c.Request.Context(),
				idemStorageKey,
				60*time.Second,
			)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(
					c.Request.Context(),
					idemStorageKey,
				); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(
						http.StatusCreated,
						"application/json; charset=utf-8",
						[]byte(payload),
					)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Error: "idempotency key in progress"},
				)
				return
			}
		}

		cmd, err := buildPlaceOrderCommand(&req, tc, idemKey)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			badRequest(c, err.Error())
			return
		}

		rlKey := "ip:" + c.ClientIP()

		order, err := svcs.Admission.PlaceOrder(c.Request.Context(), cmd, rlKey)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			if errors.Is(err, admission.ErrRateLimited) {
				c.Header("Retry-After", "60")
				c.JSON(
					http.StatusTooManyRequests,
					ErrorResponse{Error: "rate limited"},
				)
				return
			}
			respondErr(c, err)
			return
		}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(order)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, order)
	}
}

// @Summary  Advance order status
// @Param    id  path  string  true  "Order ID (uuid)"
// @Param    req body  AdvanceOrderRequest true "payload"
// @Success  200 {object} domain.Order
// @Failure  409 {object} ErrorResponse "illegal transition"
// @Router   /orders/{id}/status [post]
func handleAdvanceOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		var req AdvanceOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
		o, err := svcs.Lifecycle.Advance(c.Request.Context(), orderID, target)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// @Summary  Get order
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  200 {object} domain.Order
// @Router   /orders/{id} [get]
func handleGetOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		o, err := svcs.Lifecycle.Get(c.Request.Context(), orderID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// @Summary  List open orders for a branch
// @Param    id  path  string  true  "Branch ID (uuid)"
// @Success  200 {array} domain.Order
// @Router   /branches/{id}/orders [get]
func handleListBranchOrders(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		branchID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		orders, err := svcs.Lifecycle.ListOpenByBranch(c.Request.Context(), branchID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 5s (kitchen displays poll this)
		writeJSONWithCache(c, http.StatusOK, orders, "public, max-age=5", true)
	}
}

// @Summary  Create payment checkout session
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  201 {object} CheckoutResponse
// @Failure  409 {object} ErrorResponse "already paid"
// @Router   /orders/{id}/checkout [post]
func handleCreateCheckout(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		sess, err := svcs.Reconcile.CreateCheckout(c.Request.Context(), orderID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CheckoutResponse{
			SessionID: sess.ID,
			URL:       sess.URL,
		})
	}
}

// @Summary  Payment provider webhook
// @Success  200 {object} map[string]bool
// @Failure  400 {object} ErrorResponse "bad signature"
// @Failure  502 {object} ErrorResponse "apply failed, provider should retry"
// @Router   /webhooks/stripe [post]
func handleStripeWebhook(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			badRequest(c, "cannot read body")
			return
		}

		err = svcs.Reconcile.HandleNotification(
			c.Request.Context(),
			body,
			c.GetHeader("Stripe-Signature"),
		)
		if err != nil {
			if errors.Is(err, reconcile.ErrInvalidSignature) {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid signature"})
				return
			}
			// Non-2xx makes the provider redeliver; applying is idempotent.
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: "failed to apply notification"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

// --- Helpers ---

func buildPlaceOrderCommand(
	req *PlaceOrderRequest,
	tc *domain.TableContext,
	idemKey string,
) (admission.PlaceOrderCommand, error) {
	cmd := admission.PlaceOrderCommand{
		BranchID:       tc.BranchID,
		TableID:        tc.ID,
		IdempotencyKey: idemKey,
		Notes:          req.Notes,
	}
	// Without a client key every request is its own admission.
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = uuid.New().String()
	}

	if req.Tip != "" {
		tip, err := decimal.NewFromString(req.Tip)
		if err != nil {
			return cmd, errors.New("invalid tip")
		}
		cmd.Tip = tip
	}

	for _, it := range req.Items {
		menuItemID, err := uuid.Parse(it.MenuItemID)
		if err != nil {
			return cmd, errors.New("invalid menu_item_id")
		}
		price, err := decimal.NewFromString(it.Price)
		if err != nil {
			return cmd, errors.New("invalid item price")
		}
		cmd.Items = append(cmd.Items, admission.ItemInput{
			MenuItemID: menuItemID,
			Name:       it.Name,
			Price:      price,
			Quantity:   it.Quantity,
			Modifiers:  it.Modifiers,
		})
	}

	return cmd, nil
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// session service
	case errors.Is(err, session.ErrTokenRevoked):
		c.JSON(http.StatusGone, ErrorResponse{Error: "qr code superseded, rescan the current one"})
		return
	case errors.Is(err, session.ErrTokenInvalid):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		return
	case errors.Is(err, session.ErrTableNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "table not found"})
		return
	case errors.Is(err, session.ErrVenueNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "venue not found"})
		return
	case errors.Is(err, session.ErrTableExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "table number already exists"})
		return
	case errors.Is(err, session.ErrSecretUnavailable):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "signing secret unavailable"})
		return
	// admission service
	case errors.Is(err, admission.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	case errors.Is(err, admission.ErrTableNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "table not found"})
		return
	case errors.Is(err, admission.ErrRateLimited):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
		return
	case errors.Is(err, admission.ErrTooManyRetries):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "admission conflict, retry"})
		return
	// lifecycle service
	case errors.Is(err, lifecycle.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
		return
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "illegal status transition"})
		return
	case errors.Is(err, lifecycle.ErrTooManyRetries):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "transition conflict, retry"})
		return
	// reconcile service
	case errors.Is(err, reconcile.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
		return
	case errors.Is(err, reconcile.ErrAlreadyPaid):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "order already paid"})
		return
	case errors.Is(err, reconcile.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid signature"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
