package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yashrajoria/relab-checkout/models"
	"github.com/yashrajoria/relab-checkout/services"
)

type PaymentService interface {
	CreatePreference(ctx context.Context, caller models.Identity, orderID uuid.UUID) (*models.PreferenceResponse, error)
	Get(ctx context.Context, caller models.Identity, paymentID uuid.UUID) (*models.Payment, error)
	List(ctx context.Context, caller models.Identity, page, limit int) (*services.PaymentList, error)
	Status(ctx context.Context, caller models.Identity, paymentID uuid.UUID) (*models.Payment, error)
}

type PaymentController struct {
	paymentService PaymentService
}

func NewPaymentController(paymentService PaymentService) *PaymentController {
	return &PaymentController{paymentService: paymentService}
}

// CreatePreference opens a checkout session with the processor for an order.
func (pc *PaymentController) CreatePreference(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	var req models.CreatePreferenceRequest
	if !bindJSON(ctx, &req) {
		return
	}

	pref, err := pc.paymentService.CreatePreference(ctx.Request.Context(), identity, req.OrderID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, pref)
}

func (pc *PaymentController) ListPayments(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	page, limit := parsePaginationParams(ctx)

	result, err := pc.paymentService.List(ctx.Request.Context(), identity, page, limit)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (pc *PaymentController) GetPayment(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	paymentID, ok := uuidParam(ctx, "id", "payment")
	if !ok {
		return
	}

	payment, err := pc.paymentService.Get(ctx.Request.Context(), identity, paymentID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payment": payment})
}

// GetPaymentStatus polls the processor and returns the reconciled payment.
func (pc *PaymentController) GetPaymentStatus(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	paymentID, ok := uuidParam(ctx, "id", "payment")
	if !ok {
		return
	}

	payment, err := pc.paymentService.Status(ctx.Request.Context(), identity, paymentID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payment": payment})
}
