package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"marketpay/internal/repository"
	"marketpay/internal/service"
	"marketpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService    *service.AccountService
	ledgerService     *service.LedgerService
	paymentService    *service.PaymentService
	approvalService   *service.ApprovalService
	commissionService *service.CommissionService
	orderService      *service.OrderService
	log               zerolog.Logger
	debug             bool
}

// Services 由 main 组装后传入
type Services struct {
	Account    *service.AccountService
	Ledger     *service.LedgerService
	Payment    *service.PaymentService
	Approval   *service.ApprovalService
	Commission *service.CommissionService
	Order      *service.OrderService
}

// NewHandler 创建处理器实例
func NewHandler(svc Services, debug bool, log zerolog.Logger) *Handler {
	return &Handler{
		accountService:    svc.Account,
		ledgerService:     svc.Ledger,
		paymentService:    svc.Payment,
		approvalService:   svc.Approval,
		commissionService: svc.Commission,
		orderService:      svc.Order,
		log:               log,
		debug:             debug,
	}
}

// bindError 请求体解析或校验失败
func (h *Handler) bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		messages := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			messages = append(messages, fmt.Sprintf("%s: %s", fe.Field(), describeTag(fe)))
		}
		response.ValidationError(c, "参数校验失败", messages)
		return
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		response.ValidationError(c, "请求体不是合法的 JSON", nil)
	case errors.As(err, &typeErr):
		response.ValidationError(c, "参数类型错误", []string{fmt.Sprintf("%s: 类型应为 %s", typeErr.Field, typeErr.Type)})
	default:
		response.ValidationError(c, "参数错误", []string{err.Error()})
	}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "不能为空"
	case "oneof":
		return "取值必须是 " + fe.Param() + " 之一"
	case "max":
		return "长度不能超过 " + fe.Param()
	case "min", "gt", "gte":
		return "不能小于 " + fe.Param()
	default:
		return fe.Tag()
	}
}

// handleError 业务错误映射为 HTTP 状态码
func (h *Handler) handleError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrAmountTooSmall),
		errors.Is(err, service.ErrInvalidMethod),
		errors.Is(err, service.ErrInvalidPaymentType),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrPaymentTypeMismatch),
		errors.Is(err, service.ErrReasonRequired),
		errors.Is(err, service.ErrEmptyOrder),
		errors.Is(err, service.ErrBankAccountRequired),
		errors.Is(err, service.ErrInvalidDateRange):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, repository.ErrPaymentNotFound),
		errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrPaymentStatusInvalid),
		errors.Is(err, repository.ErrOrderStatusInvalid),
		errors.Is(err, service.ErrOrderNotDelivered),
		errors.Is(err, repository.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, service.ErrSystemBusy):
		status = http.StatusTooManyRequests
	default:
		h.log.Error().Err(err).
			Str("request_id", c.GetString(ctxRequestID)).
			Str("path", c.Request.URL.Path).
			Msg("请求处理失败")
		response.ServerError(c, "服务器内部错误", err, h.debug)
		return
	}

	// 业务错误的包装信息（最低限额、非法迁移的起止状态）一并返回给客户端
	response.Error(c, status, err.Error())
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ValidationError(c, "参数错误", []string{name + ": 必须是正整数"})
		return 0, false
	}
	return id, true
}

// pageResult 列表接口统一的分页结构
func pageResult(list interface{}, total int64, page, limit int) gin.H {
	page, limit = repository.NormalizePage(page, limit)
	return gin.H{
		"list":  list,
		"total": total,
		"page":  page,
		"limit": limit,
	}
}
