package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/relab-checkout/common/middleware"
	"github.com/yashrajoria/relab-checkout/controllers"
)

// Controllers groups every HTTP handler the service exposes.
type Controllers struct {
	Cart     *controllers.CartController
	Orders   *controllers.OrderController
	Payments *controllers.PaymentController
	Webhooks *controllers.WebhookController
}

func RegisterRoutes(r *gin.Engine, c Controllers, auth middleware.AuthConfig) {
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	// Processor callbacks carry no user identity.
	r.POST("/payments/webhook", c.Webhooks.HandleWebhook)

	authed := r.Group("/")
	authed.Use(middleware.Authenticate(auth))

	cartRoutes := authed.Group("/cart")
	{
		cartRoutes.GET("", c.Cart.GetCart)
		cartRoutes.DELETE("", c.Cart.ClearCart)
		cartRoutes.POST("/items", c.Cart.AddItem)
		cartRoutes.PATCH("/items/:id", c.Cart.UpdateItem)
		cartRoutes.DELETE("/items/:id", c.Cart.RemoveItem)
	}

	orderRoutes := authed.Group("/orders")
	{
		orderRoutes.GET("", c.Orders.GetOrders)
		orderRoutes.POST("", c.Orders.CreateOrder)
		orderRoutes.POST("/from-cart", c.Orders.CreateFromCart)
		orderRoutes.GET("/:id", c.Orders.GetOrderByID)
		orderRoutes.POST("/:id/cancel", c.Orders.CancelOrder)
	}

	paymentRoutes := authed.Group("/payments")
	{
		paymentRoutes.GET("", c.Payments.ListPayments)
		paymentRoutes.POST("/preference", c.Payments.CreatePreference)
		paymentRoutes.GET("/:id", c.Payments.GetPayment)
		paymentRoutes.GET("/:id/status", c.Payments.GetPaymentStatus)
	}

	adminRoutes := authed.Group("/admin")
	adminRoutes.Use(middleware.RequireStaff())
	{
		adminRoutes.GET("/orders", c.Orders.GetAllOrders)
		adminRoutes.POST("/orders/:id/status", c.Orders.UpdateStatus)
		adminRoutes.POST("/orders/:id/tracking", c.Orders.AddTracking)
		adminRoutes.PATCH("/orders/:id/charges", c.Orders.AdjustCharges)
	}
}
