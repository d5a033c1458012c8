package service

import "errors"

var (
	ErrInvalidAmount       = errors.New("金额必须大于0")
	ErrAmountTooSmall      = errors.New("充值金额低于最低限额")
	ErrInvalidMethod       = errors.New("不支持的支付方式")
	ErrInvalidPaymentType  = errors.New("不支持的付款类型")
	ErrInvalidStatus       = errors.New("不支持的状态")
	ErrPaymentTypeMismatch = errors.New("付款申请类型与操作不符")
	ErrReasonRequired      = errors.New("拒绝原因不能为空")
	ErrForbidden           = errors.New("无权操作")
	ErrSystemBusy          = errors.New("系统繁忙，请稍后重试")
	ErrOrderNotDelivered   = errors.New("订单尚未签收")
	ErrEmptyOrder          = errors.New("订单没有商品")
	ErrBankAccountRequired = errors.New("收款银行账户信息不完整")
	ErrInvalidDateRange    = errors.New("开始日期不能晚于结束日期")
)
