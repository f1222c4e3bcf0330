package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	sales       *service.SaleService
	completions *service.CompletionCoordinator
	payments    *service.PaymentLedger
	refunds     *service.RefundProcessor
	credit      *service.CreditGuard
}

// NewHandler creates a new HTTP handler
func NewHandler(
	sales *service.SaleService,
	completions *service.CompletionCoordinator,
	payments *service.PaymentLedger,
	refunds *service.RefundProcessor,
	credit *service.CreditGuard,
) *Handler {
	return &Handler{
		sales:       sales,
		completions: completions,
		payments:    payments,
		refunds:     refunds,
		credit:      credit,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", scopeMiddleware())
	{
		v1.POST("/sales", h.openSale)
		v1.GET("/sales/:id", h.getSale)
		v1.POST("/sales/:id/items", h.addItem)
		v1.DELETE("/sales/:id/items/:itemID", h.removeItem)
		v1.POST("/sales/:id/complete", h.completeSale)
		v1.POST("/sales/:id/cancel", h.cancelSale)
		v1.POST("/sales/:id/payments", h.recordPayment)
		v1.GET("/sales/:id/payments", h.listPayments)
		v1.POST("/sales/:id/refunds", h.processRefund)
		v1.GET("/sales/:id/refunds", h.listRefunds)

		v1.GET("/customers/:id/credit", h.listCreditTransactions)
		v1.POST("/customers/:id/credit/charges", h.chargeCredit)
		v1.POST("/customers/:id/credit/payments", h.recordCreditPayment)
	}
}

// scopeMiddleware resolves the acting tenant from headers set by the
// auth gateway. The core assumes a pre-authorized caller; it only needs
// the scope, never the credentials.
func scopeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessID, err := strconv.ParseInt(c.GetHeader("X-Business-ID"), 10, 64)
		if err != nil || businessID == 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Missing or invalid X-Business-ID header",
			})
			return
		}
		storefrontID, _ := strconv.ParseInt(c.GetHeader("X-Storefront-ID"), 10, 64)
		actorID, _ := strconv.ParseInt(c.GetHeader("X-Actor-ID"), 10, 64)

		c.Set("scope", models.Scope{
			BusinessID:   businessID,
			StorefrontID: storefrontID,
			ActorID:      actorID,
		})
		c.Next()
	}
}

func getScope(c *gin.Context) models.Scope {
	scope, _ := c.Get("scope")
	return scope.(models.Scope)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func saleIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sale ID"})
		return 0, false
	}
	return id, true
}

// openSale opens a new draft cart
func (h *Handler) openSale(c *gin.Context) {
	var req service.OpenSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	sale, err := h.sales.OpenSale(c.Request.Context(), getScope(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sale)
}

// getSale returns the sale snapshot with its items
func (h *Handler) getSale(c *gin.Context) {
	saleID, ok := saleIDParam(c)
	if !ok {
		return
	}

	snapshot, err := h.sales.GetSale(c.Request.Context(), getScope(c), saleID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Sale not found", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// addItem adds a line to a draft sale
func (h *Handler) addItem(c *gin.Context) {
	saleID, ok := saleIDParam(c)
	if !ok {
		return
	}

	var req service.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	snapshot, err := h.sales.AddItem(c.Request.Context(), getScope(c), saleID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// removeItem removes a line from a draft sale
func (h *Handler) removeItem(c *gin.Context) {
	saleID, ok := saleIDParam(c)
	if !ok {
		return
	}
	itemID, err := strconv.ParseInt(c.Param("itemID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid item ID"})
		return
	}

	snapshot, err := h.sales.RemoveItem(c.Request.Context(), getScope(c), saleID, itemID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// completeSale finalizes a draft sale
func (h *Handler) completeSale(c *gin.Context) {
	saleID, ok := saleIDParam(c)
	if !ok {
		return
	}

	var req service.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	snapshot, err := h.completions.Complete(c.Request.Context(), getScope(c), saleID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// cancelSale abandons a draft cart
func (h *Handler) cancelSale(c *gin.Context) {
	saleID, ok := saleIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	sale, err := h.sales.CancelDraft(c.Request.Context(), getScope(c), saleID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sale)
}

// recordPayment records a payment against an open balance
func (h *Handler) recordPayment(c *gin.Context) {
	saleID, ok := saleIDParam(c)
	if !ok {
		return
	}

	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	payment, sale, err := h.payments.RecordPayment(c.Request.Context(), getScope(c), saleID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"payment": payment, "sale": sale})
}

// listPayments lists the payments recorded against a sale
func (h *Handler) listPayments(c *gin.Context) {
	saleID, ok := saleIDParam(c)
	if !ok {
		return
	}

	payments, err := h.payments.GetPayments(c.Request.Context(), getScope(c), saleID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Sale not found", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// processRefund processes a refund against a sale
func (h *Handler) processRefund(c *gin.Context) {
	saleID, ok := saleIDParam(c)
	if !ok {
		return
	}

	var req service.ProcessRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	refund, sale, err := h.refunds.ProcessRefund(c.Request.Context(), getScope(c), saleID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"refund": refund, "sale": sale})
}

// listRefunds lists the refunds processed against a sale
func (h *Handler) listRefunds(c *gin.Context) {
	saleID, ok := saleIDParam(c)
	if !ok {
		return
	}

	refunds, err := h.refunds.GetRefunds(c.Request.Context(), getScope(c), saleID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Sale not found", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"refunds": refunds})
}

func customerIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid customer ID"})
		return 0, false
	}
	return id, true
}

// listCreditTransactions returns a customer's credit ledger
func (h *Handler) listCreditTransactions(c *gin.Context) {
	customerID, ok := customerIDParam(c)
	if !ok {
		return
	}

	txs, err := h.credit.Ledger(c.Request.Context(), getScope(c), customerID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// chargeCredit books a manual credit charge against a customer, used
// for adjustments outside the sale flow (back-office corrections,
// delivery surcharges billed on account).
func (h *Handler) chargeCredit(c *gin.Context) {
	customerID, ok := customerIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Amount int64 `json:"amount" binding:"required,gt=0"`
		SaleID int64 `json:"sale_id"`
		Force  bool  `json:"force"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	creditTx, err := h.credit.ChargeCredit(c.Request.Context(), getScope(c), customerID, req.SaleID, req.Amount, req.Force)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": creditTx})
}

// recordCreditPayment pays down a customer's outstanding balance
// directly, for settlements arriving outside a sale (bank transfer
// against account).
func (h *Handler) recordCreditPayment(c *gin.Context) {
	customerID, ok := customerIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Amount    int64 `json:"amount" binding:"required,gt=0"`
		PaymentID int64 `json:"payment_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.credit.RecordCreditPayment(c.Request.Context(), getScope(c), customerID, req.PaymentID, req.Amount); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
}

// writeError maps domain errors to HTTP responses, keeping the
// structured detail the caller needs to correct and retry.
func writeError(c *gin.Context, err error) {
	var insufficient *models.InsufficientStockError
	var expired *models.ReservationExpiredError
	var credit *models.CreditLimitExceededError
	var state *models.InvalidStateTransitionError
	var overpay *models.OverpaymentError
	var underpay *models.UnderpaymentError
	var overrefund *models.OverrefundError

	switch {
	case errors.As(err, &insufficient):
		c.JSON(http.StatusConflict, gin.H{
			"error":         "Insufficient stock",
			"stock_line_id": insufficient.StockLineID,
			"requested":     insufficient.Requested,
			"available":     insufficient.Available,
		})
	case errors.As(err, &expired):
		c.JSON(http.StatusConflict, gin.H{
			"error":          "Reservation expired",
			"reservation_id": expired.ReservationID,
			"expired_at":     expired.ExpiredAt,
		})
	case errors.As(err, &credit):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":               "Credit denied",
			"customer_id":         credit.CustomerID,
			"credit_limit":        credit.CreditLimit,
			"outstanding_balance": credit.Outstanding,
			"requested":           credit.Requested,
			"blocked":             credit.Blocked,
		})
	case errors.As(err, &state):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "Invalid state transition",
			"sale_id":   state.SaleID,
			"status":    state.Status,
			"operation": state.Operation,
		})
	case errors.As(err, &overpay):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "Overpayment rejected",
			"sale_id":    overpay.SaleID,
			"amount_due": overpay.AmountDue,
			"amount":     overpay.Amount,
		})
	case errors.As(err, &underpay):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":        "Sale must be fully tendered",
			"sale_id":      underpay.SaleID,
			"total_amount": underpay.TotalAmount,
			"amount_paid":  underpay.AmountPaid,
		})
	case errors.As(err, &overrefund):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":        "Overrefund rejected",
			"sale_item_id": overrefund.SaleItemID,
			"refundable":   overrefund.Refundable,
			"requested":    overrefund.Requested,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Operation failed",
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
