package service

import (
	"context"
	"testing"

	"marketpay/internal/config"
	"marketpay/internal/infrastructure/lock"
	"marketpay/internal/model"
	"marketpay/internal/repository/memory"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	platformID = int64(1)
	adminID    = int64(2)
	customerID = int64(100)
	sellerA    = int64(7)
	sellerB    = int64(9)
)

var (
	admin    = Actor{ID: adminID, Role: model.RoleAdmin}
	customer = Actor{ID: customerID, Role: model.RoleUser}
)

type fixture struct {
	store      *memory.Store
	cfg        *config.Config
	ledger     *LedgerService
	accounts   *AccountService
	payments   *PaymentService
	approvals  *ApprovalService
	commission *CommissionService
	refunds    *RefundService
	orders     *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithCurrency(t, "VND")
}

func newFixtureWithCurrency(t *testing.T, currency string) *fixture {
	t.Helper()

	cfg := &config.Config{
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{
			PaymentEvents:    "marketpay.payment",
			CommissionEvents: "marketpay.commission",
		}},
		Business: config.BusinessConfig{
			CommissionRate:    0.02,
			MinDeposit:        1000,
			Currency:          currency,
			PlatformAccountID: platformID,
		},
	}

	log := zerolog.Nop()
	store := memory.NewStore()
	locker := lock.NewLocalLocker()

	f := &fixture{store: store, cfg: cfg}
	f.ledger = NewLedgerService(store, cfg.Business.Currency, log)
	f.accounts = NewAccountService(store, cfg.Business.Currency, log)
	f.payments = NewPaymentService(store, &cfg.Business, log)
	f.approvals = NewApprovalService(store, f.ledger, locker, &cfg.Kafka, log)
	f.commission = NewCommissionService(store, f.payments, f.ledger, locker, cfg, log)
	f.refunds = NewRefundService(f.ledger, &cfg.Kafka, log)
	f.orders = NewOrderService(store, f.accounts, f.commission, f.refunds, locker, log)

	require.NoError(t, f.accounts.EnsurePlatformAccount(context.Background(), platformID))
	return f
}

func (f *fixture) deposit(t *testing.T, actor Actor, amount int64) *model.PaymentRequest {
	t.Helper()
	p, err := f.payments.CreateDeposit(context.Background(), actor, &DepositRequest{
		Amount: decimal.NewFromInt(amount),
		Method: model.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) entries(t *testing.T, accountID int64) []*model.LedgerEntry {
	t.Helper()
	entries, _, err := f.store.Ledger().ListByAccount(context.Background(), accountID, 1, 100)
	require.NoError(t, err)
	return entries
}

func (f *fixture) wallet(t *testing.T, accountID int64) decimal.Decimal {
	t.Helper()
	account, err := f.store.Accounts().GetByID(context.Background(), accountID)
	require.NoError(t, err)
	return account.WalletBalance
}

func (f *fixture) balance(t *testing.T, accountID int64) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), accountID)
	require.NoError(t, err)
	return b
}

func (f *fixture) eventTypes() []string {
	var types []string
	for _, m := range f.store.OutboxMessages() {
		types = append(types, m.EventType)
	}
	return types
}

// deliveredOrder 下单并推进到 delivered：卖家A 2x50000，卖家B 1x30000，合计 130000
func (f *fixture) deliveredOrder(t *testing.T) (*model.Order, *OrderStatusResult) {
	t.Helper()
	ctx := context.Background()

	order, err := f.orders.CreateOrder(ctx, customer, &CreateOrderRequest{
		RequestID: "req-" + t.Name(),
		Items: []OrderItemRequest{
			{SellerID: sellerA, ProductID: "book-1", Quantity: 2, Price: decimal.NewFromInt(50000)},
			{SellerID: sellerB, ProductID: "book-2", Quantity: 1, Price: decimal.NewFromInt(30000)},
		},
	})
	require.NoError(t, err)

	var result *OrderStatusResult
	for _, status := range []string{
		model.OrderStatusConfirmed,
		model.OrderStatusProcessing,
		model.OrderStatusShipped,
		model.OrderStatusDelivered,
	} {
		result, err = f.orders.UpdateStatus(ctx, admin, order.OrderNo, status)
		require.NoError(t, err)
	}
	return result.Order, result
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
