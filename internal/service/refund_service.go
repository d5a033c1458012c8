package service

import (
	"context"
	"fmt"
	"time"

	"marketpay/internal/config"
	"marketpay/internal/model"
	"marketpay/internal/repository"
	"marketpay/pkg/idgen"

	"github.com/rs/zerolog"
)

// RefundService 订单退货退款
//
// 订单 delivered -> returned 时，只把账本上买家为该订单实际扣过的金额退回钱包，
// 没有扣款流水就不退钱。该订单尚未打款的卖家结算一律撤销；
// 已打款的结算和平台佣金不回冲，只记日志留给人工处理。
type RefundService struct {
	ledger *LedgerService
	topic  string
	log    zerolog.Logger
	now    func() time.Time
}

func NewRefundService(ledger *LedgerService, cfg *config.KafkaConfig, log zerolog.Logger) *RefundService {
	return &RefundService{
		ledger: ledger,
		topic:  cfg.Topic.PaymentEvents,
		log:    log,
		now:    time.Now,
	}
}

type RefundResult struct {
	Refund           *model.PaymentRequest `json:"refund,omitempty"`
	CancelledPayouts []string              `json:"cancelled_payouts"`
	PaidPayouts      []string              `json:"paid_payouts,omitempty"` // 已打款，未回冲
	Posted           bool                  `json:"posted"`
}

// RefundForOrder 在 tx 内执行退货退款，幂等键 refund:<orderNo>
func (s *RefundService) RefundForOrder(ctx context.Context, tx repository.Store, order *model.Order) (*RefundResult, error) {
	key := fmt.Sprintf("refund:%s", order.OrderNo)
	existing, err := tx.Payments().GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("查询退款记录失败: %w", err)
	}
	if existing != nil {
		return &RefundResult{Refund: existing, CancelledPayouts: []string{}}, nil
	}

	result := &RefundResult{CancelledPayouts: []string{}}
	change := repository.StatusChange{At: s.now(), Notes: "订单已退货"}

	if err := s.settlePayouts(ctx, tx, order, change, result); err != nil {
		return nil, err
	}

	paid, err := s.ledger.PaidForOrder(ctx, tx, order.CustomerID, order.OrderNo)
	if err != nil {
		return nil, err
	}
	if !paid.IsPositive() {
		s.log.Info().
			Str("order_no", order.OrderNo).
			Int64("customer_id", order.CustomerID).
			Int("cancelled_payouts", len(result.CancelledPayouts)).
			Msg("订单没有钱包扣款，退货不退款")
		return result, nil
	}

	refund := &model.PaymentRequest{
		PaymentNo:      idgen.GenerateNo(idgen.PrefixRefund),
		AccountID:      order.CustomerID,
		Amount:         paid,
		Type:           model.PaymentTypeRefund,
		Status:         model.PaymentStatusCompleted,
		Method:         model.PaymentMethodOnlinePayment,
		Description:    fmt.Sprintf("Refund for returned order #%s", order.OrderNo),
		OrderNo:        order.OrderNo,
		IdempotencyKey: &key,
	}
	if err := tx.Payments().Create(ctx, refund); err != nil {
		return nil, fmt.Errorf("创建退款记录失败: %w", err)
	}

	_, err = s.ledger.AppendEntry(ctx, tx, EntryInput{
		AccountID:   order.CustomerID,
		Kind:        model.EntryKindRefund,
		Amount:      paid,
		Description: refund.Description,
		OrderNo:     order.OrderNo,
		PaymentNo:   refund.PaymentNo,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Accounts().IncreaseWallet(ctx, order.CustomerID, paid); err != nil {
		return nil, fmt.Errorf("更新钱包余额失败: %w", err)
	}

	event := paymentEvent(model.EventRefundPosted, refund, model.PaymentStatusCompleted, change)
	if err := enqueueEvent(ctx, tx, s.topic, model.EventRefundPosted, refund.PaymentNo, event); err != nil {
		return nil, err
	}

	result.Refund = refund
	result.Posted = true
	s.log.Info().
		Str("order_no", order.OrderNo).
		Int64("customer_id", order.CustomerID).
		Str("amount", paid.String()).
		Int("cancelled_payouts", len(result.CancelledPayouts)).
		Msg("退货退款已入账")
	return result, nil
}

// settlePayouts 撤销未打款的卖家结算，已打款的只记下来
func (s *RefundService) settlePayouts(ctx context.Context, tx repository.Store, order *model.Order, change repository.StatusChange, result *RefundResult) error {
	payouts, _, err := tx.Payments().List(ctx, repository.PaymentFilter{
		OrderNo: order.OrderNo,
		Type:    model.PaymentTypeWithdrawal,
	}, 1, 100)
	if err != nil {
		return fmt.Errorf("查询卖家结算失败: %w", err)
	}

	for _, payout := range payouts {
		switch payout.Status {
		case model.PaymentStatusPending:
			err := tx.Payments().TransitionStatus(ctx, payout.PaymentNo, model.PaymentStatusPending, model.PaymentStatusCancelled, change)
			if err != nil {
				return fmt.Errorf("撤销卖家结算失败: %w", err)
			}
			event := paymentEvent(model.EventPaymentCancelled, payout, model.PaymentStatusCancelled, change)
			if err := enqueueEvent(ctx, tx, s.topic, model.EventPaymentCancelled, payout.PaymentNo, event); err != nil {
				return err
			}
			result.CancelledPayouts = append(result.CancelledPayouts, payout.PaymentNo)
		case model.PaymentStatusCompleted:
			result.PaidPayouts = append(result.PaidPayouts, payout.PaymentNo)
			s.log.Warn().
				Str("order_no", order.OrderNo).
				Str("payment_no", payout.PaymentNo).
				Str("amount", payout.Amount.String()).
				Msg("退货订单的卖家结算已打款，需人工追回")
		}
	}
	return nil
}
