package service

import (
	"context"
	"testing"

	"marketpay/internal/model"
	"marketpay/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder_IdempotentOnRequestID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := &CreateOrderRequest{
		RequestID: "req-1",
		Items:     []OrderItemRequest{{SellerID: sellerA, ProductID: "book-1", Quantity: 3, Price: dec(20000)}},
	}

	first, err := f.orders.CreateOrder(ctx, customer, req)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, first.Status)
	assert.True(t, first.TotalAmount.Equal(dec(60000)))

	second, err := f.orders.CreateOrder(ctx, customer, req)
	require.NoError(t, err)
	assert.Equal(t, first.OrderNo, second.OrderNo)

	_, err = f.orders.CreateOrder(ctx, Actor{ID: 555, Role: model.RoleUser}, req)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.orders.CreateOrder(ctx, customer, &CreateOrderRequest{
		RequestID: "req-2",
		Items:     []OrderItemRequest{{SellerID: sellerA, ProductID: "book-1", Quantity: 1, Price: dec(0)}},
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDelivered_PostsCommissionOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, result := f.deliveredOrder(t)
	assert.Equal(t, model.OrderStatusDelivered, order.Status)
	assert.NotNil(t, order.DeliveredAt)

	require.NotNil(t, result.Commission)
	assert.True(t, result.Commission.Posted)

	commission := result.Commission.Commission
	assert.Equal(t, model.PaymentTypeCommission, commission.Type)
	assert.Equal(t, model.PaymentStatusCompleted, commission.Status)
	assert.True(t, commission.Amount.Equal(dec(130000)))
	assert.True(t, commission.Commission.Rate.Equal(decimal.NewFromFloat(0.02)))
	assert.True(t, commission.Commission.Amount.Equal(commission.Amount.Mul(decimal.NewFromFloat(0.02))))
	assert.Equal(t, "2% commission from order #"+order.OrderNo, commission.Description)

	// 平台账户：佣金流水 + 缓存余额同步
	assert.True(t, f.balance(t, platformID).Equal(dec(2600)))
	assert.True(t, f.wallet(t, platformID).Equal(dec(2600)))

	// 每个卖家一笔待审核结算，金额扣除 2%
	require.Len(t, result.Commission.Payouts, 2)
	payouts := map[int64]*model.PaymentRequest{}
	for _, p := range result.Commission.Payouts {
		require.NotNil(t, p.SellerID)
		payouts[*p.SellerID] = p
		assert.Equal(t, model.PaymentStatusPending, p.Status)
		assert.Equal(t, model.PaymentTypeWithdrawal, p.Type)
	}
	assert.True(t, payouts[sellerA].Amount.Equal(dec(98000)))
	assert.True(t, payouts[sellerB].Amount.Equal(dec(29400)))

	// 管理员补记走同一条幂等路径
	again, err := f.commission.PostCommission(ctx, adminID, order.OrderNo)
	require.NoError(t, err)
	assert.False(t, again.Posted)
	assert.Equal(t, commission.PaymentNo, again.Commission.PaymentNo)
	assert.Len(t, again.Payouts, 2)

	assert.Len(t, f.entries(t, platformID), 1)
	stats, err := f.payments.CommissionStats(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)

	assert.Contains(t, f.eventTypes(), model.EventCommissionPosted)
}

func TestPostCommission_RequiresDeliveredOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.orders.CreateOrder(ctx, customer, &CreateOrderRequest{
		RequestID: "req-pending",
		Items:     []OrderItemRequest{{SellerID: sellerA, ProductID: "book-1", Quantity: 1, Price: dec(10000)}},
	})
	require.NoError(t, err)

	_, err = f.commission.PostCommission(ctx, adminID, order.OrderNo)
	assert.ErrorIs(t, err, ErrOrderNotDelivered)

	_, err = f.commission.PostCommission(ctx, adminID, "ORD404")
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
}

func TestUpdateStatus_Permissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.orders.CreateOrder(ctx, customer, &CreateOrderRequest{
		RequestID: "req-perm",
		Items:     []OrderItemRequest{{SellerID: sellerA, ProductID: "book-1", Quantity: 1, Price: dec(10000)}},
	})
	require.NoError(t, err)

	seller := Actor{ID: sellerA, Role: model.RoleSeller}
	stranger := Actor{ID: sellerB, Role: model.RoleSeller}

	_, err = f.orders.UpdateStatus(ctx, customer, order.OrderNo, model.OrderStatusConfirmed)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.orders.UpdateStatus(ctx, stranger, order.OrderNo, model.OrderStatusConfirmed)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.orders.UpdateStatus(ctx, seller, order.OrderNo, model.OrderStatusShipped)
	assert.ErrorIs(t, err, repository.ErrOrderStatusInvalid)

	_, err = f.orders.UpdateStatus(ctx, seller, order.OrderNo, "lost")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	res, err := f.orders.UpdateStatus(ctx, seller, order.OrderNo, model.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusConfirmed, res.Order.Status)
	assert.Nil(t, res.Commission)

	_, err = f.orders.UpdateStatus(ctx, seller, order.OrderNo, model.OrderStatusCancelled)
	assert.ErrorIs(t, err, ErrForbidden)

	res, err = f.orders.UpdateStatus(ctx, customer, order.OrderNo, model.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, res.Order.Status)
	assert.NotNil(t, res.Order.CancelledAt)

	// 取消的订单不产生佣金
	stats, err := f.payments.CommissionStats(ctx, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)

	_, err = f.orders.GetOrder(ctx, Actor{ID: 555, Role: model.RoleUser}, order.OrderNo)
	assert.ErrorIs(t, err, ErrForbidden)
	got, err := f.orders.GetOrder(ctx, seller, order.OrderNo)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
}

func TestReturned_WithoutWalletPaymentRefundsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, delivered := f.deliveredOrder(t)

	// 卖家A的结算已打款，卖家B的还在待审核
	var paidPayout string
	for _, p := range delivered.Commission.Payouts {
		if *p.SellerID == sellerA {
			paidPayout = p.PaymentNo
		}
	}
	_, err := f.approvals.ApproveSellerPayment(ctx, adminID, paidPayout, "")
	require.NoError(t, err)

	// 退货由订单里的卖家或管理员确认
	_, err = f.orders.UpdateStatus(ctx, customer, order.OrderNo, model.OrderStatusReturned)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.orders.UpdateStatus(ctx, Actor{ID: 555, Role: model.RoleSeller}, order.OrderNo, model.OrderStatusReturned)
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := f.orders.UpdateStatus(ctx, Actor{ID: sellerB, Role: model.RoleSeller}, order.OrderNo, model.OrderStatusReturned)
	require.NoError(t, err)
	require.NotNil(t, res.Refund)
	assert.False(t, res.Refund.Posted)
	assert.Nil(t, res.Refund.Refund)
	assert.Len(t, res.Refund.CancelledPayouts, 1)
	assert.Equal(t, []string{paidPayout}, res.Refund.PaidPayouts)

	// 买家从未被扣款，退货不能凭空给钱
	assert.True(t, f.balance(t, customerID).IsZero())
	assert.True(t, f.wallet(t, customerID).IsZero())

	sellerPayouts, _, err := f.payments.SellerPayments(ctx, sellerB, &ListQuery{})
	require.NoError(t, err)
	require.Len(t, sellerPayouts, 1)
	assert.Equal(t, model.PaymentStatusCancelled, sellerPayouts[0].Status)

	paid, _, err := f.payments.SellerPayments(ctx, sellerA, &ListQuery{Status: model.PaymentStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, paid, 1)

	assert.Contains(t, f.eventTypes(), model.EventPaymentCancelled)
	assert.NotContains(t, f.eventTypes(), model.EventRefundPosted)
}

func TestReturned_RefundsWhatLedgerDebited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dep := f.deposit(t, customer, 200000)
	_, err := f.approvals.ApproveDeposit(ctx, adminID, dep.PaymentNo, "")
	require.NoError(t, err)

	order, _ := f.deliveredOrder(t)

	// 买家用钱包付了 130000
	err = f.store.Transaction(ctx, func(tx repository.Store) error {
		_, err := f.ledger.AppendEntry(ctx, tx, EntryInput{
			AccountID: customerID,
			Kind:      model.EntryKindPayment,
			Amount:    dec(130000),
			OrderNo:   order.OrderNo,
		})
		if err != nil {
			return err
		}
		return tx.Accounts().IncreaseWallet(ctx, customerID, dec(-130000))
	})
	require.NoError(t, err)
	assert.True(t, f.balance(t, customerID).Equal(dec(70000)))

	res, err := f.orders.UpdateStatus(ctx, admin, order.OrderNo, model.OrderStatusReturned)
	require.NoError(t, err)
	require.NotNil(t, res.Refund)
	assert.True(t, res.Refund.Posted)
	assert.Len(t, res.Refund.CancelledPayouts, 2)

	refund := res.Refund.Refund
	require.NotNil(t, refund)
	assert.Equal(t, model.PaymentTypeRefund, refund.Type)
	assert.True(t, refund.Amount.Equal(dec(130000)))

	assert.True(t, f.balance(t, customerID).Equal(dec(200000)))
	assert.True(t, f.wallet(t, customerID).Equal(dec(200000)))
	assert.Contains(t, f.eventTypes(), model.EventRefundPosted)

	paidNet, err := f.ledger.PaidForOrder(ctx, f.store, customerID, order.OrderNo)
	require.NoError(t, err)
	assert.True(t, paidNet.IsZero())

	// returned 是终态
	_, err = f.orders.UpdateStatus(ctx, admin, order.OrderNo, model.OrderStatusReturned)
	assert.ErrorIs(t, err, repository.ErrOrderStatusInvalid)
}

func TestBankAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seller := Actor{ID: sellerA, Role: model.RoleSeller}

	_, err := f.accounts.UpsertBankAccount(ctx, seller, &BankAccountRequest{BankName: "VCB", AccountHolder: "A"})
	assert.ErrorIs(t, err, ErrBankAccountRequired)

	_, err = f.accounts.UpsertBankAccount(ctx, seller, &BankAccountRequest{
		BankName: "VCB", AccountNumber: "0011", AccountHolder: "NGUYEN VAN A", Branch: "HCM",
	})
	require.NoError(t, err)

	verified, err := f.accounts.VerifyBankAccount(ctx, adminID, sellerA)
	require.NoError(t, err)
	assert.True(t, verified.Verified)

	// 修改账户后认证状态重置
	_, err = f.accounts.UpsertBankAccount(ctx, seller, &BankAccountRequest{
		BankName: "ACB", AccountNumber: "0022", AccountHolder: "NGUYEN VAN A",
	})
	require.NoError(t, err)

	view, err := f.accounts.GetBankAccount(ctx, seller)
	require.NoError(t, err)
	assert.False(t, view.Verified)
	assert.Equal(t, "0022", view.BankAccount.AccountNumber)

	_, err = f.accounts.VerifyBankAccount(ctx, adminID, 404)
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)
}
