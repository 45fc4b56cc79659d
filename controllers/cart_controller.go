package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yashrajoria/relab-checkout/models"
)

type CartService interface {
	View(ctx context.Context, buyer uuid.UUID) (*models.CartView, error)
	AddItem(ctx context.Context, buyer uuid.UUID, req *models.AddCartItemRequest) (*models.CartView, bool, error)
	SetQuantity(ctx context.Context, buyer, itemID uuid.UUID, qty int) (*models.CartView, error)
	RemoveItem(ctx context.Context, buyer, itemID uuid.UUID) (*models.CartView, error)
	Clear(ctx context.Context, buyer uuid.UUID) error
}

type CartController struct {
	cartService CartService
}

func NewCartController(cartService CartService) *CartController {
	return &CartController{cartService: cartService}
}

// GetCart handles GET /cart
func (cc *CartController) GetCart(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	view, err := cc.cartService.View(ctx.Request.Context(), identity.UserID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

// AddItem handles POST /cart/items: 201 for a new line, 200 when merged.
func (cc *CartController) AddItem(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	var req models.AddCartItemRequest
	if !bindJSON(ctx, &req) {
		return
	}

	view, created, err := cc.cartService.AddItem(ctx.Request.Context(), identity.UserID, &req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ctx.JSON(status, view)
}

// UpdateItem handles PATCH /cart/items/:id
func (cc *CartController) UpdateItem(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	itemID, ok := uuidParam(ctx, "id", "item")
	if !ok {
		return
	}
	var req models.UpdateCartItemRequest
	if !bindJSON(ctx, &req) {
		return
	}

	view, err := cc.cartService.SetQuantity(ctx.Request.Context(), identity.UserID, itemID, req.Quantity)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

// RemoveItem handles DELETE /cart/items/:id
func (cc *CartController) RemoveItem(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	itemID, ok := uuidParam(ctx, "id", "item")
	if !ok {
		return
	}

	view, err := cc.cartService.RemoveItem(ctx.Request.Context(), identity.UserID, itemID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

// ClearCart handles DELETE /cart
func (cc *CartController) ClearCart(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	if err := cc.cartService.Clear(ctx.Request.Context(), identity.UserID); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
