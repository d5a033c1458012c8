package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketpay/internal/model"
	"marketpay/internal/repository"
	"marketpay/pkg/idgen"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LedgerService 账本读写
//
// 余额以最新一条流水的 balance 快照为准，账户上的 wallet_balance 只是缓存。
// 写流水统一走 AppendEntry，调用方负责在同一个事务里维护缓存余额。
type LedgerService struct {
	store    repository.Store
	currency string
	log      zerolog.Logger
	now      func() time.Time
}

func NewLedgerService(store repository.Store, currency string, log zerolog.Logger) *LedgerService {
	return &LedgerService{
		store:    store,
		currency: currency,
		log:      log,
		now:      time.Now,
	}
}

// EntryInput 记账参数，Amount 为正数，方向由 Kind 决定
type EntryInput struct {
	AccountID   int64
	Kind        string
	Amount      decimal.Decimal
	Description string
	OrderNo     string
	PaymentNo   string
}

// AppendEntry 在 tx 内追加一条流水
//
// 先锁账户行，再读上一条流水计算新余额，同一账户的记账因此串行。
func (s *LedgerService) AppendEntry(ctx context.Context, tx repository.Store, in EntryInput) (*model.LedgerEntry, error) {
	if !model.IsValidEntryKind(in.Kind) {
		return nil, model.ErrUnknownEntryKind
	}
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if _, err := tx.Accounts().GetOrCreate(ctx, in.AccountID, "", s.currency); err != nil {
		return nil, fmt.Errorf("获取账户失败: %w", err)
	}
	if _, err := tx.Accounts().GetForUpdate(ctx, in.AccountID); err != nil {
		return nil, fmt.Errorf("锁定账户失败: %w", err)
	}

	latest, err := tx.Ledger().Latest(ctx, in.AccountID)
	if err != nil {
		return nil, fmt.Errorf("查询最新流水失败: %w", err)
	}

	previous := decimal.Zero
	createdAt := s.now()
	if latest != nil {
		previous = latest.Balance
		// 时钟回拨时保持流水时间单调，Latest 依赖这个顺序
		if createdAt.Before(latest.CreatedAt) {
			createdAt = latest.CreatedAt
		}
	}

	balance, err := model.NextBalance(previous, in.Kind, in.Amount)
	if err != nil {
		return nil, err
	}

	entry := &model.LedgerEntry{
		EntryNo:     idgen.GenerateNo(idgen.PrefixEntry),
		AccountID:   in.AccountID,
		Kind:        in.Kind,
		Amount:      in.Amount,
		Balance:     balance,
		Description: in.Description,
		OrderNo:     in.OrderNo,
		PaymentNo:   in.PaymentNo,
		Status:      model.EntryStatusCompleted,
		CreatedAt:   createdAt,
	}
	if err := tx.Ledger().Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}

	s.log.Debug().
		Int64("account_id", in.AccountID).
		Str("kind", in.Kind).
		Str("amount", in.Amount.String()).
		Str("balance", balance.String()).
		Msg("流水已记账")
	return entry, nil
}

// PaidForOrder 账户为订单实际扣过的净额：payment 流水减去已退的 refund 流水
func (s *LedgerService) PaidForOrder(ctx context.Context, tx repository.Store, accountID int64, orderNo string) (decimal.Decimal, error) {
	entries, err := tx.Ledger().ListByOrder(ctx, accountID, orderNo)
	if err != nil {
		return decimal.Zero, fmt.Errorf("查询订单流水失败: %w", err)
	}

	paid := decimal.Zero
	for _, e := range entries {
		switch e.Kind {
		case model.EntryKindPayment:
			paid = paid.Add(e.Amount)
		case model.EntryKindRefund:
			paid = paid.Sub(e.Amount)
		}
	}
	if paid.IsNegative() {
		return decimal.Zero, nil
	}
	return paid, nil
}

// Balance 账本余额，没有流水时为 0
func (s *LedgerService) Balance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	latest, err := s.store.Ledger().Latest(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("查询余额失败: %w", err)
	}
	if latest == nil {
		return decimal.Zero, nil
	}
	return latest.Balance, nil
}

type BalanceView struct {
	AccountID     int64           `json:"account_id"`
	Balance       decimal.Decimal `json:"balance"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	Currency      string          `json:"currency"`
}

// GetBalance 账本余额和缓存余额一起返回，账户不存在时都为 0
func (s *LedgerService) GetBalance(ctx context.Context, accountID int64) (*BalanceView, error) {
	balance, err := s.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}

	view := &BalanceView{
		AccountID:     accountID,
		Balance:       balance,
		WalletBalance: decimal.Zero,
		Currency:      s.currency,
	}

	account, err := s.store.Accounts().GetByID(ctx, accountID)
	switch {
	case err == nil:
		view.WalletBalance = account.WalletBalance
		view.Currency = account.Currency
	case errors.Is(err, repository.ErrAccountNotFound):
	default:
		return nil, fmt.Errorf("查询账户失败: %w", err)
	}
	return view, nil
}

func (s *LedgerService) History(ctx context.Context, accountID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	return s.store.Ledger().ListByAccount(ctx, accountID, page, pageSize)
}

// ReconcileResult 缓存余额与账本余额的比对结果
type ReconcileResult struct {
	AccountID     int64           `json:"account_id"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	Drift         decimal.Decimal `json:"drift"` // wallet - ledger
	Consistent    bool            `json:"consistent"`
}

func (s *LedgerService) Reconcile(ctx context.Context, accountID int64) (*ReconcileResult, error) {
	account, err := s.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	balance, err := s.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}

	drift := account.WalletBalance.Sub(balance)
	return &ReconcileResult{
		AccountID:     accountID,
		LedgerBalance: balance,
		WalletBalance: account.WalletBalance,
		Drift:         drift,
		Consistent:    drift.IsZero(),
	}, nil
}
