package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"marketpay/internal/model"
	"marketpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalance_NoEntriesIsZero(t *testing.T) {
	f := newFixture(t)

	b, err := f.ledger.Balance(context.Background(), 12345)
	require.NoError(t, err)
	assert.True(t, b.IsZero())

	view, err := f.ledger.GetBalance(context.Background(), 12345)
	require.NoError(t, err)
	assert.True(t, view.Balance.IsZero())
	assert.True(t, view.WalletBalance.IsZero())
	assert.Equal(t, "VND", view.Currency)
}

func TestAccounts_CreatedWithConfiguredCurrency(t *testing.T) {
	f := newFixtureWithCurrency(t, "USD")
	ctx := context.Background()

	f.deposit(t, customer, 5000)
	account, err := f.accounts.GetAccount(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, "USD", account.Currency)

	platform, err := f.store.Accounts().GetByID(ctx, platformID)
	require.NoError(t, err)
	assert.Equal(t, "USD", platform.Currency)

	// 佣金入账时新建的卖家账户也用配置的币种
	f.deliveredOrder(t)
	seller, err := f.store.Accounts().GetByID(ctx, sellerA)
	require.NoError(t, err)
	assert.Equal(t, "USD", seller.Currency)

	err = f.store.Transaction(ctx, func(tx repository.Store) error {
		_, err := f.ledger.AppendEntry(ctx, tx, EntryInput{AccountID: 77, Kind: model.EntryKindDeposit, Amount: dec(100)})
		return err
	})
	require.NoError(t, err)
	view, err := f.ledger.GetBalance(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, "USD", view.Currency)
}

func TestAppendEntry_BalanceSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var third *model.LedgerEntry
	err := f.store.Transaction(ctx, func(tx repository.Store) error {
		if _, err := f.ledger.AppendEntry(ctx, tx, EntryInput{AccountID: 5, Kind: model.EntryKindDeposit, Amount: dec(1000)}); err != nil {
			return err
		}
		if _, err := f.ledger.AppendEntry(ctx, tx, EntryInput{AccountID: 5, Kind: model.EntryKindWithdrawal, Amount: dec(400)}); err != nil {
			return err
		}
		var err error
		third, err = f.ledger.AppendEntry(ctx, tx, EntryInput{AccountID: 5, Kind: model.EntryKindCommission, Amount: dec(50)})
		return err
	})
	require.NoError(t, err)

	entries := f.entries(t, 5)
	require.Len(t, entries, 3)
	// 倒序：最新在前
	assert.True(t, entries[1].Balance.Equal(dec(600)), "withdrawal snapshot")
	assert.True(t, entries[2].Balance.Equal(dec(1000)), "deposit snapshot")
	assert.True(t, third.Balance.Equal(dec(650)))
	assert.True(t, f.balance(t, 5).Equal(dec(650)))

	// AppendEntry 本身不动缓存余额
	assert.True(t, f.wallet(t, 5).IsZero())
}

func TestAppendEntry_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.Transaction(ctx, func(tx repository.Store) error {
		_, err := f.ledger.AppendEntry(ctx, tx, EntryInput{AccountID: 5, Kind: model.EntryKindDeposit, Amount: dec(0)})
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	err = f.store.Transaction(ctx, func(tx repository.Store) error {
		_, err := f.ledger.AppendEntry(ctx, tx, EntryInput{AccountID: 5, Kind: "bonus", Amount: dec(10)})
		return err
	})
	assert.ErrorIs(t, err, model.ErrUnknownEntryKind)

	assert.Empty(t, f.entries(t, 5))
}

func TestAppendEntry_RollsBackWithTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := f.store.Transaction(ctx, func(tx repository.Store) error {
		if _, err := f.ledger.AppendEntry(ctx, tx, EntryInput{AccountID: 5, Kind: model.EntryKindDeposit, Amount: dec(1000)}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, f.balance(t, 5).IsZero())
}

func TestAppendEntry_ConcurrentDepositsDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.store.Transaction(ctx, func(tx repository.Store) error {
				if _, err := f.ledger.AppendEntry(ctx, tx, EntryInput{AccountID: 5, Kind: model.EntryKindDeposit, Amount: dec(100)}); err != nil {
					return err
				}
				return tx.Accounts().IncreaseWallet(ctx, 5, dec(100))
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, f.balance(t, 5).Equal(dec(n*100)))
	assert.True(t, f.wallet(t, 5).Equal(dec(n*100)))

	entries, total, err := f.store.Ledger().ListByAccount(ctx, 5, 1, 100)
	require.NoError(t, err)
	assert.EqualValues(t, n, total)
	seen := make(map[string]bool)
	for _, e := range entries {
		assert.False(t, seen[e.Balance.String()], "每条流水的余额快照都不同")
		seen[e.Balance.String()] = true
	}
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Reconcile(ctx, 404)
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)

	p := f.deposit(t, customer, 5000)
	_, err = f.approvals.ApproveDeposit(ctx, adminID, p.PaymentNo, "")
	require.NoError(t, err)

	result, err := f.ledger.Reconcile(ctx, customerID)
	require.NoError(t, err)
	assert.True(t, result.Consistent)
	assert.True(t, result.LedgerBalance.Equal(dec(5000)))
}
