package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketpay/internal/model"
	"marketpay/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, err := store.Accounts().GetOrCreate(ctx, 7, model.RoleUser, "VND")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.Transaction(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.Ledger().Append(ctx, &model.LedgerEntry{
			EntryNo:   "LED1",
			AccountID: 7,
			Kind:      model.EntryKindDeposit,
			Amount:    decimal.NewFromInt(5000),
			Balance:   decimal.NewFromInt(5000),
			Status:    model.EntryStatusCompleted,
		}))
		require.NoError(t, tx.Accounts().IncreaseWallet(ctx, 7, decimal.NewFromInt(5000)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	latest, err := store.Ledger().Latest(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, latest)

	account, err := store.Accounts().GetByID(ctx, 7)
	require.NoError(t, err)
	assert.True(t, account.WalletBalance.IsZero())
}

func TestTransactionRollbackKeepsOutsideWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	started := make(chan struct{})
	done := make(chan error, 1)
	boom := errors.New("boom")
	go func() {
		done <- store.Transaction(ctx, func(tx repository.Store) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return boom
		})
	}()

	<-started
	// 事务外的写入要等事务回滚之后才落地
	require.NoError(t, store.Payments().Create(ctx, &model.PaymentRequest{
		PaymentNo: "DEP-outside",
		AccountID: 7,
		Amount:    decimal.NewFromInt(5000),
		Type:      model.PaymentTypeDeposit,
		Status:    model.PaymentStatusPending,
		Method:    model.PaymentMethodBankTransfer,
	}))
	assert.ErrorIs(t, <-done, boom)

	payment, err := store.Payments().GetByPaymentNo(ctx, "DEP-outside")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, payment.Status)
}

func TestTransactionCommitAndNesting(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	err := store.Transaction(ctx, func(tx repository.Store) error {
		return tx.Transaction(ctx, func(inner repository.Store) error {
			_, err := inner.Accounts().GetOrCreate(ctx, 9, model.RoleSeller, "VND")
			return err
		})
	})
	require.NoError(t, err)

	account, err := store.Accounts().GetByID(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, model.RoleSeller, account.Role)
}

func TestLedgerLatestAndList(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, bal := range []int64{100, 300, 200} {
		require.NoError(t, store.Ledger().Append(ctx, &model.LedgerEntry{
			EntryNo:   "LED" + string(rune('A'+i)),
			AccountID: 1,
			Kind:      model.EntryKindDeposit,
			Amount:    decimal.NewFromInt(bal),
			Balance:   decimal.NewFromInt(bal),
			Status:    model.EntryStatusCompleted,
			CreatedAt: base,
		}))
	}

	latest, err := store.Ledger().Latest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "LEDC", latest.EntryNo, "same timestamp falls back to id order")

	entries, total, err := store.Ledger().ListByAccount(ctx, 1, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, entries, 2)
	assert.Equal(t, "LEDC", entries[0].EntryNo)

	err = store.Ledger().Append(ctx, &model.LedgerEntry{EntryNo: "LEDA", AccountID: 1})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestPaymentTransitionGuard(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.Payments().Create(ctx, &model.PaymentRequest{
		PaymentNo: "DEP1",
		AccountID: 3,
		Amount:    decimal.NewFromInt(5000),
		Type:      model.PaymentTypeDeposit,
		Status:    model.PaymentStatusPending,
		Method:    model.PaymentMethodCash,
	}))

	admin := int64(1)
	change := repository.StatusChange{ActorID: &admin, At: time.Now(), Notes: "checked"}
	require.NoError(t, store.Payments().TransitionStatus(ctx, "DEP1", model.PaymentStatusPending, model.PaymentStatusCompleted, change))

	err := store.Payments().TransitionStatus(ctx, "DEP1", model.PaymentStatusPending, model.PaymentStatusFailed, change)
	assert.ErrorIs(t, err, repository.ErrPaymentStatusInvalid)

	p, err := store.Payments().GetByPaymentNo(ctx, "DEP1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, p.Status)
	assert.Equal(t, "checked", p.Notes)
	require.NotNil(t, p.ApprovedBy)
	assert.Equal(t, admin, *p.ApprovedBy)
}

func TestPaymentIdempotencyKeyUnique(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	key := "commission:ORD1"

	require.NoError(t, store.Payments().Create(ctx, &model.PaymentRequest{PaymentNo: "COM1", IdempotencyKey: &key}))
	err := store.Payments().Create(ctx, &model.PaymentRequest{PaymentNo: "COM2", IdempotencyKey: &key})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	found, err := store.Payments().GetByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "COM1", found.PaymentNo)

	missing, err := store.Payments().GetByIdempotencyKey(ctx, "commission:ORD2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	account, err := store.Accounts().GetOrCreate(ctx, 5, "", "")
	require.NoError(t, err)
	account.WalletBalance = decimal.NewFromInt(999)

	again, err := store.Accounts().GetByID(ctx, 5)
	require.NoError(t, err)
	assert.True(t, again.WalletBalance.IsZero())
	assert.Equal(t, model.RoleUser, again.Role)
	assert.Equal(t, model.DefaultCurrency, again.Currency)
}

func TestGetOrCreateUsesGivenCurrency(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	account, err := store.Accounts().GetOrCreate(ctx, 5, model.RoleSeller, "USD")
	require.NoError(t, err)
	assert.Equal(t, "USD", account.Currency)

	// 已存在的账户不改币种
	again, err := store.Accounts().GetOrCreate(ctx, 5, model.RoleSeller, "EUR")
	require.NoError(t, err)
	assert.Equal(t, "USD", again.Currency)
}
