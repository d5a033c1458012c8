package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketpay/internal/config"
	"marketpay/internal/infrastructure/lock"
	"marketpay/internal/model"
	"marketpay/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CommissionService 订单签收后的佣金入账和卖家结算
//
// 只由订单 shipped -> delivered 迁移触发，和订单状态更新在同一个事务里。
// 佣金记录带唯一幂等键 commission:<orderNo>，重复触发不会重复入账。
type CommissionService struct {
	store    repository.Store
	payments *PaymentService
	ledger   *LedgerService
	locker   lock.Locker
	cfg      *config.BusinessConfig
	topic    string
	log      zerolog.Logger
	now      func() time.Time
}

func NewCommissionService(store repository.Store, payments *PaymentService, ledger *LedgerService, locker lock.Locker, cfg *config.Config, log zerolog.Logger) *CommissionService {
	return &CommissionService{
		store:    store,
		payments: payments,
		ledger:   ledger,
		locker:   locker,
		cfg:      &cfg.Business,
		topic:    cfg.Kafka.Topic.CommissionEvents,
		log:      log,
		now:      time.Now,
	}
}

type CommissionResult struct {
	OrderNo    string                  `json:"order_no"`
	Commission *model.PaymentRequest   `json:"commission"`
	Payouts    []*model.PaymentRequest `json:"payouts"`
	Posted     bool                    `json:"posted"` // false 表示之前已经入过账
}

// PostForOrder 在 tx 内为已签收订单记佣金并生成卖家结算申请
func (s *CommissionService) PostForOrder(ctx context.Context, tx repository.Store, order *model.Order) (*CommissionResult, error) {
	commission, created, err := s.payments.CreateCommission(ctx, tx, order.OrderNo, order.TotalAmount)
	if err != nil {
		return nil, err
	}

	result := &CommissionResult{OrderNo: order.OrderNo, Commission: commission}
	if !created {
		payouts, _, err := tx.Payments().List(ctx, repository.PaymentFilter{
			OrderNo: order.OrderNo,
			Type:    model.PaymentTypeWithdrawal,
		}, 1, 100)
		if err != nil {
			return nil, err
		}
		result.Payouts = payouts
		return result, nil
	}

	platformID := s.cfg.PlatformAccountID
	if commission.Commission.Amount.IsPositive() {
		_, err := s.ledger.AppendEntry(ctx, tx, EntryInput{
			AccountID:   platformID,
			Kind:        model.EntryKindCommission,
			Amount:      commission.Commission.Amount,
			Description: commission.Description,
			OrderNo:     order.OrderNo,
			PaymentNo:   commission.PaymentNo,
		})
		if err != nil {
			return nil, err
		}
		if err := tx.Accounts().IncreaseWallet(ctx, platformID, commission.Commission.Amount); err != nil {
			return nil, fmt.Errorf("更新平台账户余额失败: %w", err)
		}
	}

	rate := commission.Commission.Rate
	sellers, totals := order.SellerTotals()
	payoutEvents := make([]PayoutEvent, 0, len(sellers))
	for _, sellerID := range sellers {
		gross := totals[sellerID]
		net := gross.Sub(commissionOf(gross, rate))
		if !net.IsPositive() {
			continue
		}

		seller, err := tx.Accounts().GetOrCreate(ctx, sellerID, model.RoleSeller, s.cfg.Currency)
		if err != nil {
			return nil, fmt.Errorf("获取卖家账户失败: %w", err)
		}
		if seller.BankAccount.IsEmpty() {
			// 结算申请照常生成，管理员打款前需要卖家补全收款账户
			s.log.Warn().Int64("seller_id", sellerID).Str("order_no", order.OrderNo).Msg("卖家未设置收款账户")
		}

		payout, err := s.payments.CreateSellerWithdrawal(ctx, tx, sellerID, net, order.OrderNo, seller.BankAccount)
		if err != nil {
			return nil, err
		}
		result.Payouts = append(result.Payouts, payout)
		payoutEvents = append(payoutEvents, PayoutEvent{SellerID: sellerID, PaymentNo: payout.PaymentNo, Amount: net})
	}

	event := &CommissionEvent{
		EventType:  model.EventCommissionPosted,
		OrderNo:    order.OrderNo,
		PaymentNo:  commission.PaymentNo,
		OrderTotal: order.TotalAmount,
		Rate:       rate,
		Amount:     commission.Commission.Amount,
		Payouts:    payoutEvents,
		OccurredAt: s.now(),
	}
	if err := enqueueEvent(ctx, tx, s.topic, model.EventCommissionPosted, order.OrderNo, event); err != nil {
		return nil, err
	}

	result.Posted = true
	return result, nil
}

// PostCommission 管理员为已签收订单补记佣金，已入账时直接返回原记录
func (s *CommissionService) PostCommission(ctx context.Context, adminID int64, orderNo string) (*CommissionResult, error) {
	release, err := s.locker.Acquire(ctx, lock.OrderLockKey(orderNo))
	if err != nil {
		if errors.Is(err, lock.ErrLockBusy) {
			return nil, ErrSystemBusy
		}
		return nil, err
	}
	defer release()

	order, err := s.store.Orders().GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusDelivered {
		return nil, ErrOrderNotDelivered
	}

	var result *CommissionResult
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		result, err = s.PostForOrder(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.Posted {
		s.log.Info().
			Str("order_no", orderNo).
			Int64("admin_id", adminID).
			Str("commission", result.Commission.Commission.Amount.String()).
			Msg("佣金已补记")
	}
	return result, nil
}

// commissionOf 订单金额对应的佣金
func commissionOf(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(4)
}
