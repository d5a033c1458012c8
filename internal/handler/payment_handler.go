package handler

import (
	"errors"
	"io"
	"time"

	"marketpay/internal/service"
	"marketpay/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 余额与流水
// ============================================================

// GetBalance 查询当前用户余额
// GET /api/v1/payments/balance
func (h *Handler) GetBalance(c *gin.Context) {
	actor := actorFrom(c)

	view, err := h.ledgerService.GetBalance(c.Request.Context(), actor.ID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, view)
}

// GetAccount 当前用户的钱包账户，第一次访问时创建
// GET /api/v1/payments/account
func (h *Handler) GetAccount(c *gin.Context) {
	account, err := h.accountService.GetAccount(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, account)
}

// ListHistory 当前用户的付款申请
// GET /api/v1/payments/history?page=1&limit=10&type=deposit&status=pending
func (h *Handler) ListHistory(c *gin.Context) {
	var q service.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.bindError(c, err)
		return
	}

	payments, total, err := h.paymentService.History(c.Request.Context(), actorFrom(c).ID, &q)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, pageResult(payments, total, q.Page, q.Limit))
}

// ListLedger 当前用户的账本流水
// GET /api/v1/payments/ledger?page=1&limit=10
func (h *Handler) ListLedger(c *gin.Context) {
	var q service.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.bindError(c, err)
		return
	}

	entries, total, err := h.ledgerService.History(c.Request.Context(), actorFrom(c).ID, q.Page, q.Limit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, pageResult(entries, total, q.Page, q.Limit))
}

// ============================================================
// 充值
// ============================================================

// CreateDeposit 提交充值申请，等待管理员确认到账
// POST /api/v1/payments/deposit
func (h *Handler) CreateDeposit(c *gin.Context) {
	var req service.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	payment, err := h.paymentService.CreateDeposit(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Created(c, "充值申请已提交，等待审核", payment)
}

// CancelPayment 用户撤回自己待审核的充值申请
// POST /api/v1/payments/:paymentId/cancel
func (h *Handler) CancelPayment(c *gin.Context) {
	payment, err := h.approvalService.Cancel(c.Request.Context(), actorFrom(c), c.Param("paymentId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "申请已取消", payment)
}

// ============================================================
// 卖家
// ============================================================

// UpsertBankAccount 设置收款银行账户，修改后需重新认证
// POST /api/v1/payments/bank-account
func (h *Handler) UpsertBankAccount(c *gin.Context) {
	var req service.BankAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	view, err := h.accountService.UpsertBankAccount(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "银行账户已更新", view)
}

// GetBankAccount GET /api/v1/payments/bank-account
func (h *Handler) GetBankAccount(c *gin.Context) {
	view, err := h.accountService.GetBankAccount(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, view)
}

// ListSellerPayments 卖家自己的结算申请
// GET /api/v1/payments/seller/payments?page=1&limit=10&status=pending
func (h *Handler) ListSellerPayments(c *gin.Context) {
	var q service.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.bindError(c, err)
		return
	}

	payments, total, err := h.paymentService.SellerPayments(c.Request.Context(), actorFrom(c).ID, &q)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, pageResult(payments, total, q.Page, q.Limit))
}

// ============================================================
// 管理员审核
// ============================================================

// ListPending GET /api/v1/payments/admin/pending?page=1&limit=10&type=withdrawal
func (h *Handler) ListPending(c *gin.Context) {
	var q service.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.bindError(c, err)
		return
	}

	payments, total, err := h.paymentService.Pending(c.Request.Context(), &q)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, pageResult(payments, total, q.Page, q.Limit))
}

type reviewRequest struct {
	Notes  string `json:"notes" binding:"max=512"`
	Reason string `json:"reason" binding:"max=512"`
}

// bindReview 审核接口的请求体可以为空
func (h *Handler) bindReview(c *gin.Context) (*reviewRequest, bool) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.bindError(c, err)
		return nil, false
	}
	return &req, true
}

// ApproveDeposit 确认充值到账，入账并增加余额
// POST /api/v1/payments/admin/approve-deposit/:paymentId
func (h *Handler) ApproveDeposit(c *gin.Context) {
	req, ok := h.bindReview(c)
	if !ok {
		return
	}

	payment, err := h.approvalService.ApproveDeposit(c.Request.Context(), actorFrom(c).ID, c.Param("paymentId"), req.Notes)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "充值已确认", payment)
}

// ApproveSellerPayment 确认已向卖家打款
// POST /api/v1/payments/admin/approve-seller-payment/:paymentId
func (h *Handler) ApproveSellerPayment(c *gin.Context) {
	req, ok := h.bindReview(c)
	if !ok {
		return
	}

	payment, err := h.approvalService.ApproveSellerPayment(c.Request.Context(), actorFrom(c).ID, c.Param("paymentId"), req.Notes)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "结算已确认", payment)
}

// RejectPayment POST /api/v1/payments/admin/reject/:paymentId
func (h *Handler) RejectPayment(c *gin.Context) {
	req, ok := h.bindReview(c)
	if !ok {
		return
	}

	payment, err := h.approvalService.Reject(c.Request.Context(), actorFrom(c).ID, c.Param("paymentId"), req.Reason)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "申请已拒绝", payment)
}

// CommissionStats 佣金统计，startDate/endDate 支持 2006-01-02 或 RFC3339
// GET /api/v1/payments/admin/commission-stats?startDate=2024-01-01&endDate=2024-01-31
func (h *Handler) CommissionStats(c *gin.Context) {
	from, err := parseDate(c.Query("startDate"), false)
	if err != nil {
		response.ValidationError(c, "参数错误", []string{"startDate: " + err.Error()})
		return
	}
	to, err := parseDate(c.Query("endDate"), true)
	if err != nil {
		response.ValidationError(c, "参数错误", []string{"endDate: " + err.Error()})
		return
	}

	stats, err := h.paymentService.CommissionStats(c.Request.Context(), from, to)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, stats)
}

// parseDate 只有日期时，结束日期取当天最后一刻
func parseDate(value string, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, time.Local)
	if err != nil {
		return nil, errors.New("日期格式应为 2006-01-02 或 RFC3339")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// PostCommission 对已签收订单补记佣金，重复调用返回已有记录
// POST /api/v1/payments/admin/commission/:orderNo
func (h *Handler) PostCommission(c *gin.Context) {
	result, err := h.commissionService.PostCommission(c.Request.Context(), actorFrom(c).ID, c.Param("orderNo"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	message := "佣金已入账"
	if !result.Posted {
		message = "佣金此前已入账"
	}
	response.SuccessWithMessage(c, message, result)
}

// VerifyBankAccount POST /api/v1/payments/admin/verify-bank-account/:accountId
func (h *Handler) VerifyBankAccount(c *gin.Context) {
	accountID, ok := parseID(c, "accountId")
	if !ok {
		return
	}

	view, err := h.accountService.VerifyBankAccount(c.Request.Context(), actorFrom(c).ID, accountID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "银行账户已认证", view)
}

// Reconcile 比对缓存余额和账本余额，只报告不修正
// GET /api/v1/payments/admin/reconcile/:accountId
func (h *Handler) Reconcile(c *gin.Context) {
	accountID, ok := parseID(c, "accountId")
	if !ok {
		return
	}

	result, err := h.ledgerService.Reconcile(c.Request.Context(), accountID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if !result.Consistent {
		h.log.Warn().
			Int64("account_id", accountID).
			Str("drift", result.Drift.String()).
			Msg("缓存余额与账本不一致")
	}
	response.Success(c, result)
}
