package repository

import (
	"context"
	"time"

	"marketpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 仓储接口
// ============================================================================
//
// 服务层只依赖这些接口。Store.Transaction 回调里拿到的 Store 绑定同一个事务，
// 流水、缓存余额、申请状态、outbox 消息要么一起提交，要么一起回滚。
//
// ============================================================================

type LedgerRepository interface {
	// Latest 返回账户最新一条流水，没有流水时返回 nil, nil
	Latest(ctx context.Context, accountID int64) (*model.LedgerEntry, error)
	Append(ctx context.Context, entry *model.LedgerEntry) error
	ListByAccount(ctx context.Context, accountID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error)
	// ListByOrder 账户在某个订单下的全部流水，按写入顺序
	ListByOrder(ctx context.Context, accountID int64, orderNo string) ([]*model.LedgerEntry, error)
}

// PaymentFilter 列表查询条件，零值字段不参与过滤
type PaymentFilter struct {
	AccountID int64
	SellerID  int64
	Type      string
	Status    string
	OrderNo   string
}

// StatusChange 状态迁移时一并写入的审核信息
type StatusChange struct {
	ActorID *int64
	At      time.Time
	Notes   string
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *model.PaymentRequest) error
	GetByPaymentNo(ctx context.Context, paymentNo string) (*model.PaymentRequest, error)
	// GetByIdempotencyKey 不存在时返回 nil, nil
	GetByIdempotencyKey(ctx context.Context, key string) (*model.PaymentRequest, error)
	// TransitionStatus 仅当当前状态等于 from 时更新，否则返回 ErrPaymentStatusInvalid
	TransitionStatus(ctx context.Context, paymentNo, from, to string, change StatusChange) error
	List(ctx context.Context, filter PaymentFilter, page, pageSize int) ([]*model.PaymentRequest, int64, error)
	ListCommissions(ctx context.Context, from, to *time.Time) ([]*model.PaymentRequest, error)
	ListStalePending(ctx context.Context, paymentType string, before time.Time, limit int) ([]*model.PaymentRequest, error)
}

type AccountRepository interface {
	// GetOrCreate 账户不存在时按 role 和 currency 创建，已存在时原样返回
	GetOrCreate(ctx context.Context, accountID int64, role, currency string) (*model.Account, error)
	GetByID(ctx context.Context, accountID int64) (*model.Account, error)
	// GetForUpdate 行锁，事务内串行化同一账户的记账
	GetForUpdate(ctx context.Context, accountID int64) (*model.Account, error)
	IncreaseWallet(ctx context.Context, accountID int64, amount decimal.Decimal) error
	// UpdateBankAccount 更新收款账户并重置认证状态
	UpdateBankAccount(ctx context.Context, accountID int64, bank model.BankAccount) error
	SetBankVerified(ctx context.Context, accountID int64, verified bool) error
	ListAfter(ctx context.Context, afterID int64, limit int) ([]*model.Account, error)
}

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error)
	// GetByRequestID 不存在时返回 nil, nil
	GetByRequestID(ctx context.Context, requestID string) (*model.Order, error)
	UpdateStatus(ctx context.Context, orderNo, fromStatus, toStatus string) error
}

type OutboxRepository interface {
	Create(ctx context.Context, msg *model.OutboxMessage) error
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	IncrementRetryCount(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64) error
}

type Store interface {
	Ledger() LedgerRepository
	Payments() PaymentRepository
	Accounts() AccountRepository
	Orders() OrderRepository
	Outbox() OutboxRepository
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// ============================================================================
// gorm 实现
// ============================================================================

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Ledger() LedgerRepository    { return NewLedgerRepository(s.db) }
func (s *GormStore) Payments() PaymentRepository { return NewPaymentRepository(s.db) }
func (s *GormStore) Accounts() AccountRepository { return NewAccountRepository(s.db) }
func (s *GormStore) Orders() OrderRepository     { return NewOrderRepository(s.db) }
func (s *GormStore) Outbox() OutboxRepository    { return NewOutboxRepository(s.db) }

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormStore(tx))
	})
}

// NormalizePage 页码从 1 开始，每页默认 10 条，最多 100 条
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
