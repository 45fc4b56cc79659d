package controllers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	apperrors "github.com/yashrajoria/relab-checkout/common/errors"
	"github.com/yashrajoria/relab-checkout/common/logger"
	"github.com/yashrajoria/relab-checkout/common/middleware"
	"github.com/yashrajoria/relab-checkout/models"
	"go.uber.org/zap"
)

// RegisterValidators installs the enum validators used in request bindings.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	if err := v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
		return models.PaymentMethod(fl.Field().String()).Valid()
	}); err != nil {
		return err
	}
	return v.RegisterValidation("order_status", func(fl validator.FieldLevel) bool {
		return models.OrderStatus(fl.Field().String()).Valid()
	})
}

// respondError writes err as {"error", "kind", "details"} with its status code.
func respondError(ctx *gin.Context, err error) {
	appErr := apperrors.From(err)
	if appErr.Code >= 500 {
		logger.Error(ctx, "request failed", err, zap.String("kind", string(appErr.Kind)))
		_ = ctx.Error(err)
	}
	ctx.AbortWithStatusJSON(appErr.Code, appErr.Body())
}

func bindJSON(ctx *gin.Context, out any) bool {
	if err := ctx.ShouldBindJSON(out); err != nil {
		appErr := apperrors.Validation("Invalid request")
		appErr.Details = map[string]any{"reason": err.Error()}
		respondError(ctx, appErr)
		return false
	}
	return true
}

func currentIdentity(ctx *gin.Context) (models.Identity, bool) {
	identity, ok := middleware.GetIdentity(ctx)
	if !ok {
		respondError(ctx, apperrors.Unauthorized("Unauthorized"))
		return models.Identity{}, false
	}
	return identity, true
}

func uuidParam(ctx *gin.Context, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param(name))
	if err != nil {
		respondError(ctx, apperrors.Validation("Invalid "+label+" ID format"))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts and validates pagination parameters
func parsePaginationParams(ctx *gin.Context) (int, int) {
	const MaxLimit = 100
	const DefaultPage = 1
	const DefaultLimit = 10

	pageInt := DefaultPage
	limitInt := DefaultLimit

	if p, err := strconv.Atoi(ctx.DefaultQuery("page", "1")); err == nil && p > 0 {
		pageInt = p
	}
	if l, err := strconv.Atoi(ctx.DefaultQuery("limit", "10")); err == nil && l > 0 {
		limitInt = l
		if limitInt > MaxLimit {
			limitInt = MaxLimit
		}
	}
	return pageInt, limitInt
}

func orderFilter(ctx *gin.Context) (models.OrderFilter, bool) {
	var filter models.OrderFilter
	if raw := ctx.Query("status"); raw != "" {
		status, ok := models.ParseOrderStatus(raw)
		if !ok {
			respondError(ctx, apperrors.Validation("Invalid status filter"))
			return filter, false
		}
		filter.Status = status
	}
	if raw := ctx.Query("payment_method"); raw != "" {
		method := models.PaymentMethod(raw)
		if !method.Valid() {
			respondError(ctx, apperrors.Validation("Invalid payment_method filter"))
			return filter, false
		}
		filter.PaymentMethod = method
	}
	return filter, true
}
