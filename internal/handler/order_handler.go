package handler

import (
	"marketpay/internal/service"
	"marketpay/pkg/response"

	"github.com/gin-gonic/gin"
)

// CreateOrder 下单，requestId 用于幂等
// POST /api/v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Created(c, "订单已创建", order)
}

// GetOrder GET /api/v1/orders/:orderNo
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), actorFrom(c), c.Param("orderNo"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, order)
}

// UpdateOrderStatus 推进订单状态
// PUT /api/v1/orders/:orderNo/status
//
// 签收时在同一事务里记佣金、生成卖家结算；退货时按买家实际扣款退款并取消未打款的结算。
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	result, err := h.orderService.UpdateStatus(c.Request.Context(), actorFrom(c), c.Param("orderNo"), req.Status)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "订单状态已更新", result)
}
