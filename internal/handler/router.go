package handler

import (
	"net/http"

	"marketpay/internal/config"
	"marketpay/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, cfg *config.ServerConfig, log zerolog.Logger) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(LoggerMiddleware(log))
	r.Use(RecoveryMiddleware(log))
	r.Use(CORSMiddleware())
	r.Use(RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(cfg.JWTSecret, log))
	{
		payments := api.Group("/payments")
		{
			payments.GET("/account", h.GetAccount)
			payments.GET("/balance", h.GetBalance)
			payments.GET("/history", h.ListHistory)
			payments.GET("/ledger", h.ListLedger)
			payments.POST("/deposit", h.CreateDeposit)
			payments.POST("/:paymentId/cancel", h.CancelPayment)

			seller := payments.Group("")
			seller.Use(RequireRole(model.RoleSeller))
			{
				seller.POST("/bank-account", h.UpsertBankAccount)
				seller.GET("/bank-account", h.GetBankAccount)
				seller.GET("/seller/payments", h.ListSellerPayments)
			}

			admin := payments.Group("/admin")
			admin.Use(RequireRole(model.RoleAdmin))
			{
				admin.GET("/pending", h.ListPending)
				admin.POST("/approve-deposit/:paymentId", h.ApproveDeposit)
				admin.POST("/approve-seller-payment/:paymentId", h.ApproveSellerPayment)
				admin.POST("/reject/:paymentId", h.RejectPayment)
				admin.GET("/commission-stats", h.CommissionStats)
				admin.POST("/commission/:orderNo", h.PostCommission)
				admin.POST("/verify-bank-account/:accountId", h.VerifyBankAccount)
				admin.GET("/reconcile/:accountId", h.Reconcile)
			}
		}

		orders := api.Group("/orders")
		{
			orders.POST("", h.CreateOrder)
			orders.GET("/:orderNo", h.GetOrder)
			orders.PUT("/:orderNo/status", h.UpdateOrderStatus)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
