package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 流水类型常量
// ============================================================================

const (
	EntryKindDeposit    = "deposit"    // 充值
	EntryKindWithdrawal = "withdrawal" // 提现 / 卖家结算
	EntryKindPayment    = "payment"    // 支付（扣款）
	EntryKindCommission = "commission" // 平台佣金
	EntryKindRefund     = "refund"     // 退款
)

const (
	EntryStatusPending   = "pending"
	EntryStatusCompleted = "completed"
	EntryStatusFailed    = "failed"
)

var ErrUnknownEntryKind = errors.New("未知的流水类型")

// ============================================================================
// 账本流水实体
// ============================================================================

// LedgerEntry 账本流水表
//
// 【重要】账本是余额的唯一权威来源：
// 1. 只追加，不修改，不删除
// 2. Balance 是写入时根据上一条流水计算出的余额快照
// 3. 账户上的 wallet_balance 只是投影，必须和流水在同一个事务里更新
type LedgerEntry struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo     string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	AccountID   int64           `gorm:"index:idx_ledger_account_time,priority:1;not null" json:"account_id"`
	Kind        string          `gorm:"type:varchar(20);index;not null" json:"kind"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`  // 变动金额（正数，方向由 Kind 决定）
	Balance     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"balance"` // 变动后余额
	Description string          `gorm:"type:varchar(256);not null" json:"description"`
	OrderNo     string          `gorm:"type:varchar(64);index" json:"order_no,omitempty"`
	PaymentNo   string          `gorm:"type:varchar(64);index" json:"payment_no,omitempty"`
	Status      string          `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt   time.Time       `gorm:"autoCreateTime;index:idx_ledger_account_time,priority:2" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// NextBalance 根据流水方向计算新余额
//
//	deposit / commission / refund -> 入账
//	withdrawal / payment          -> 出账
func NextBalance(previous decimal.Decimal, kind string, amount decimal.Decimal) (decimal.Decimal, error) {
	switch kind {
	case EntryKindDeposit, EntryKindCommission, EntryKindRefund:
		return previous.Add(amount), nil
	case EntryKindWithdrawal, EntryKindPayment:
		return previous.Sub(amount), nil
	default:
		return previous, ErrUnknownEntryKind
	}
}

// IsValidEntryKind 校验流水类型
func IsValidEntryKind(kind string) bool {
	_, err := NextBalance(decimal.Zero, kind, decimal.Zero)
	return err == nil
}
