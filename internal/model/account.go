package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleUser   = "user"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// DefaultCurrency 未配置 business.currency 时新账户使用的币种
const DefaultCurrency = "VND"

// Account 钱包账户表，主键即用户服务里的用户ID
//
// WalletBalance 是账本余额的缓存投影，只能在写流水的同一个事务里修改，
// 漂移由对账任务发现。
type Account struct {
	ID            int64           `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Role          string          `gorm:"type:varchar(20);not null;default:user" json:"role"`
	WalletBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"wallet_balance"`
	Currency      string          `gorm:"type:varchar(8);not null;default:VND" json:"currency"`
	BankAccount   BankAccount     `gorm:"embedded" json:"bank_account"`
	BankVerified  bool            `gorm:"not null;default:false" json:"bank_verified"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}
