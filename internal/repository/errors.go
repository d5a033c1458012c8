package repository

import "errors"

var (
	ErrAccountNotFound      = errors.New("账户不存在")
	ErrPaymentNotFound      = errors.New("付款申请不存在")
	ErrPaymentStatusInvalid = errors.New("付款申请已被处理")
	ErrOrderNotFound        = errors.New("订单不存在")
	ErrOrderStatusInvalid   = errors.New("订单状态不合法")
	ErrDuplicate            = errors.New("重复记录")
)
