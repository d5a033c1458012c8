package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentTypeDeposit    = "deposit"
	PaymentTypeWithdrawal = "withdrawal"
	PaymentTypeCommission = "commission"
	PaymentTypeRefund     = "refund"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

const (
	PaymentMethodBankTransfer  = "bank_transfer"
	PaymentMethodCash          = "cash"
	PaymentMethodOnlinePayment = "online_payment"
)

// PaymentStatusTransitions 付款申请只能从 pending 出发，终态不可再变
var PaymentStatusTransitions = map[string][]string{
	PaymentStatusPending: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
}

func CanPaymentTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range PaymentStatusTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func IsValidPaymentType(t string) bool {
	switch t {
	case PaymentTypeDeposit, PaymentTypeWithdrawal, PaymentTypeCommission, PaymentTypeRefund:
		return true
	}
	return false
}

func IsValidPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// Commission 佣金明细，仅 commission 类型使用
type Commission struct {
	Amount decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"amount"`
	Rate   decimal.Decimal `gorm:"type:decimal(6,4);not null;default:0" json:"rate"`
}

// BankAccount 收款银行账户
type BankAccount struct {
	BankName      string `gorm:"type:varchar(128)" json:"bank_name"`
	AccountNumber string `gorm:"type:varchar(64)" json:"account_number"`
	AccountHolder string `gorm:"type:varchar(128)" json:"account_holder"`
	Branch        string `gorm:"type:varchar(128)" json:"branch,omitempty"`
}

func (b BankAccount) IsEmpty() bool {
	return b.AccountNumber == ""
}

// PaymentRequest 付款申请表
// 充值、卖家结算需要管理员审核；佣金由系统直接写入 completed 状态
type PaymentRequest struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentNo      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"`
	AccountID      int64           `gorm:"index:idx_payment_account_time,priority:1;not null" json:"account_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Type           string          `gorm:"type:varchar(20);index;not null" json:"type"`
	Status         string          `gorm:"type:varchar(20);index;not null" json:"status"`
	Method         string          `gorm:"type:varchar(20);not null" json:"method"`
	Description    string          `gorm:"type:varchar(256);not null" json:"description"`
	TransactionID  *string         `gorm:"type:varchar(64);uniqueIndex" json:"transaction_id,omitempty"`
	SellerID       *int64          `gorm:"index" json:"seller_id,omitempty"`
	OrderNo        string          `gorm:"type:varchar(64);index" json:"order_no,omitempty"`
	Commission     Commission      `gorm:"embedded;embeddedPrefix:commission_" json:"commission"`
	BankAccount    BankAccount     `gorm:"embedded" json:"bank_account"`
	ApprovedBy     *int64          `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	Notes          string          `gorm:"type:varchar(512)" json:"notes,omitempty"`
	IdempotencyKey *string         `gorm:"type:varchar(128);uniqueIndex" json:"-"` // 系统生成的申请用于去重
	CreatedAt      time.Time       `gorm:"autoCreateTime;index:idx_payment_account_time,priority:2" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentRequest) TableName() string {
	return "payment_requests"
}
