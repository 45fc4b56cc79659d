package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yashrajoria/relab-checkout/models"
	"github.com/yashrajoria/relab-checkout/services"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type CheckoutService interface {
	FromItems(ctx context.Context, buyer models.Identity, req *models.CheckoutRequest, idempotencyKey string) (*services.CheckoutResult, error)
	FromCart(ctx context.Context, buyer models.Identity, req *models.CheckoutRequest, idempotencyKey string) (*services.CheckoutResult, error)
}

type OrderService interface {
	Get(ctx context.Context, caller models.Identity, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, caller models.Identity, filter models.OrderFilter, page, limit int) (*services.OrderList, error)
	ListAll(ctx context.Context, filter models.OrderFilter, page, limit int) (*services.OrderList, error)
	UpdateStatus(ctx context.Context, actor models.Identity, orderID uuid.UUID, req *models.UpdateStatusRequest) (*models.Order, error)
	Cancel(ctx context.Context, caller models.Identity, orderID uuid.UUID, note string) (*models.Order, error)
	AddTracking(ctx context.Context, actor models.Identity, orderID uuid.UUID, code string) (*models.Order, error)
	AdjustCharges(ctx context.Context, actor models.Identity, orderID uuid.UUID, req *models.ChargesRequest) (*models.Order, error)
}

type OrderController struct {
	checkout CheckoutService
	orders   OrderService
}

func NewOrderController(checkout CheckoutService, orders OrderService) *OrderController {
	return &OrderController{checkout: checkout, orders: orders}
}

// CreateOrder handles POST /orders with an explicit item list.
func (oc *OrderController) CreateOrder(ctx *gin.Context) {
	oc.createOrder(ctx, oc.checkout.FromItems)
}

// CreateFromCart handles POST /orders/from-cart.
func (oc *OrderController) CreateFromCart(ctx *gin.Context) {
	oc.createOrder(ctx, oc.checkout.FromCart)
}

type checkoutFunc func(ctx context.Context, buyer models.Identity, req *models.CheckoutRequest, idempotencyKey string) (*services.CheckoutResult, error)

func (oc *OrderController) createOrder(ctx *gin.Context, checkout checkoutFunc) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	var req models.CheckoutRequest
	if !bindJSON(ctx, &req) {
		return
	}

	res, err := checkout(ctx.Request.Context(), identity, &req, ctx.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		respondError(ctx, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	ctx.JSON(status, gin.H{"order": res.Order})
}

// GetOrders returns the caller's orders.
func (oc *OrderController) GetOrders(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	filter, ok := orderFilter(ctx)
	if !ok {
		return
	}
	page, limit := parsePaginationParams(ctx)

	result, err := oc.orders.List(ctx.Request.Context(), identity, filter, page, limit)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// GetAllOrders returns every order (staff only).
func (oc *OrderController) GetAllOrders(ctx *gin.Context) {
	filter, ok := orderFilter(ctx)
	if !ok {
		return
	}
	page, limit := parsePaginationParams(ctx)

	result, err := oc.orders.ListAll(ctx.Request.Context(), filter, page, limit)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// GetOrderByID returns one order with items and history.
func (oc *OrderController) GetOrderByID(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	orderID, ok := uuidParam(ctx, "id", "order")
	if !ok {
		return
	}

	order, err := oc.orders.Get(ctx.Request.Context(), identity, orderID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

// CancelOrder handles POST /orders/:id/cancel
func (oc *OrderController) CancelOrder(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	orderID, ok := uuidParam(ctx, "id", "order")
	if !ok {
		return
	}
	var req models.CancelOrderRequest
	if ctx.Request.ContentLength != 0 && !bindJSON(ctx, &req) {
		return
	}

	order, err := oc.orders.Cancel(ctx.Request.Context(), identity, orderID, req.Note)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

// UpdateStatus handles POST /admin/orders/:id/status
func (oc *OrderController) UpdateStatus(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	orderID, ok := uuidParam(ctx, "id", "order")
	if !ok {
		return
	}
	var req models.UpdateStatusRequest
	if !bindJSON(ctx, &req) {
		return
	}

	order, err := oc.orders.UpdateStatus(ctx.Request.Context(), identity, orderID, &req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

// AddTracking handles POST /admin/orders/:id/tracking
func (oc *OrderController) AddTracking(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	orderID, ok := uuidParam(ctx, "id", "order")
	if !ok {
		return
	}
	var req models.TrackingRequest
	if !bindJSON(ctx, &req) {
		return
	}

	order, err := oc.orders.AddTracking(ctx.Request.Context(), identity, orderID, req.TrackingCode)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

// AdjustCharges handles PATCH /admin/orders/:id/charges
func (oc *OrderController) AdjustCharges(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	orderID, ok := uuidParam(ctx, "id", "order")
	if !ok {
		return
	}
	var req models.ChargesRequest
	if !bindJSON(ctx, &req) {
		return
	}

	order, err := oc.orders.AdjustCharges(ctx.Request.Context(), identity, orderID, &req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}
